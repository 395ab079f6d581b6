package main

import "github.com/MintTrader/MinTrader/internal/cli"

func main() {
	cli.Execute(cli.NewBotCmd())
}
