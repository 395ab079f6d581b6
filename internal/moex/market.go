package moex

import (
	"context"
	"fmt"
	"time"
)

const tqbrPath = "/engines/stock/markets/shares/boards/TQBR/securities"

// FetchTopTickers returns TQBR shares ordered by today's turnover.
func (c *Client) FetchTopTickers(ctx context.Context, limit int) ([]MarketTicker, error) {
	var iss struct {
		Marketdata issTable `json:"marketdata"`
	}
	err := c.get(ctx, tqbrPath+".json", map[string]string{
		"iss.only":           "marketdata",
		"marketdata.columns": "SECID,VALTODAY,LAST",
		"sort_column":        "VALTODAY",
		"sort_order":         "desc",
	}, &iss)
	if err != nil {
		return nil, fmt.Errorf("fetch top tickers: %w", err)
	}

	var result []MarketTicker
	for _, row := range iss.Marketdata.rows() {
		ticker := toString(row["SECID"])
		if ticker == "" {
			continue
		}

		lastPrice := toFloat64(row["LAST"])
		if lastPrice == 0 {
			continue // приостановленные торги
		}

		result = append(result, MarketTicker{
			Ticker:    ticker,
			ValToday:  toFloat64(row["VALTODAY"]),
			LastPrice: lastPrice,
		})

		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// FetchSecurity returns the instrument card and current market data for one share.
func (c *Client) FetchSecurity(ctx context.Context, secID string) (*Security, error) {
	var iss struct {
		Securities issTable `json:"securities"`
		Marketdata issTable `json:"marketdata"`
	}
	err := c.get(ctx, fmt.Sprintf("%s/%s.json", tqbrPath, secID), map[string]string{
		"iss.only":           "securities,marketdata",
		"securities.columns": "SECID,SHORTNAME,LOTSIZE,ISSUESIZE,LISTLEVEL,PREVPRICE",
		"marketdata.columns": "SECID,LAST,LCURRENTPRICE,VALTODAY",
	}, &iss)
	if err != nil {
		return nil, fmt.Errorf("fetch security %s: %w", secID, err)
	}

	secRows := iss.Securities.rows()
	if len(secRows) == 0 {
		return nil, fmt.Errorf("security not found: %s", secID)
	}
	s := secRows[0]

	sec := &Security{
		SecID:     secID,
		ShortName: toString(s["SHORTNAME"]),
		LotSize:   int64(toFloat64(s["LOTSIZE"])),
		IssueSize: toFloat64(s["ISSUESIZE"]),
		ListLevel: int64(toFloat64(s["LISTLEVEL"])),
		LastPrice: toFloat64(s["PREVPRICE"]),
	}

	if md := iss.Marketdata.rows(); len(md) > 0 {
		if last := toFloat64(md[0]["LAST"]); last > 0 {
			sec.LastPrice = last
		} else if cur := toFloat64(md[0]["LCURRENTPRICE"]); cur > 0 {
			sec.LastPrice = cur
		}
		sec.ValToday = toFloat64(md[0]["VALTODAY"])
	}

	return sec, nil
}

// FetchDailyCandles returns daily candles since from, oldest first.
func (c *Client) FetchDailyCandles(ctx context.Context, secID string, from time.Time) ([]Candle, error) {
	var iss struct {
		Candles issTable `json:"candles"`
	}
	err := c.get(ctx, fmt.Sprintf("%s/%s/candles.json", tqbrPath, secID), map[string]string{
		"interval": "24",
		"from":     from.Format("2006-01-02"),
	}, &iss)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", secID, err)
	}

	var out []Candle
	for _, row := range iss.Candles.rows() {
		begin, err := time.Parse("2006-01-02 15:04:05", toString(row["begin"]))
		if err != nil {
			continue
		}
		out = append(out, Candle{
			Begin:  begin,
			Close:  toFloat64(row["close"]),
			Volume: toFloat64(row["volume"]),
		})
	}
	return out, nil
}
