package moex

import "time"

type MarketTicker struct {
	Ticker    string
	ValToday  float64 // оборот в рублях за день
	LastPrice float64
}

type Security struct {
	SecID     string
	ShortName string
	LotSize   int64
	IssueSize float64
	ListLevel int64
	LastPrice float64
	ValToday  float64
}

type Candle struct {
	Begin  time.Time
	Close  float64
	Volume float64
}

type NewsItem struct {
	ID        int64
	Title     string
	Published time.Time
}
