package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/moex"
)

const newsTTL = 10 * time.Minute

// MOEXSource builds snapshots from MOEX ISS: instrument card, daily candles and site news.
type MOEXSource struct {
	client *moex.Client
	log    *logger.Logger

	group     singleflight.Group
	mu        sync.Mutex
	news      []moex.NewsItem
	newsFetch time.Time
}

func NewMOEXSource(client *moex.Client, log *logger.Logger) *MOEXSource {
	return &MOEXSource{client: client, log: log}
}

func (s *MOEXSource) Snapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	sec, err := s.client.FetchSecurity(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if sec.LastPrice <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}

	now := time.Now()
	candles, err := s.client.FetchDailyCandles(ctx, symbol, now.AddDate(0, 0, -10))
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Symbol:    symbol,
		AsOf:      now.UTC(),
		LastPrice: decimal.NewFromFloat(sec.LastPrice),
		Volume24h: sec.ValToday,
		Fundamentals: map[string]string{
			"name":       sec.ShortName,
			"lot_size":   strconv.FormatInt(sec.LotSize, 10),
			"issue_size": strconv.FormatFloat(sec.IssueSize, 'f', 0, 64),
			"list_level": strconv.FormatInt(sec.ListLevel, 10),
		},
	}
	snap.Change1d = pctChange(sec.LastPrice, closeDaysAgo(candles, now, 1))
	snap.Change3d = pctChange(sec.LastPrice, closeDaysAgo(candles, now, 3))
	snap.Change1w = pctChange(sec.LastPrice, closeDaysAgo(candles, now, 7))

	news, err := s.recentNews(ctx)
	if err != nil {
		// news is optional context; the news analyst reports neutral without it
		s.log.Warn("fetch news", "error", err)
	}
	for _, item := range moex.FilterNewsForTickers(news, []string{symbol})[symbol] {
		snap.News = append(snap.News, item.Title)
	}

	return snap, nil
}

// recentNews shares one ISS news fetch between concurrent symbols.
func (s *MOEXSource) recentNews(ctx context.Context) ([]moex.NewsItem, error) {
	s.mu.Lock()
	if time.Since(s.newsFetch) < newsTTL {
		news := s.news
		s.mu.Unlock()
		return news, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("news", func() (interface{}, error) {
		news, err := s.client.FetchRecentNews(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.news = news
		s.newsFetch = time.Now()
		s.mu.Unlock()
		return news, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]moex.NewsItem), nil
}

// closeDaysAgo picks the last close at or before now minus days; the earliest candle otherwise.
func closeDaysAgo(candles []moex.Candle, now time.Time, days int) float64 {
	if len(candles) == 0 {
		return 0
	}
	target := now.AddDate(0, 0, -days)
	best := candles[0].Close
	for _, c := range candles {
		if c.Begin.After(target) {
			break
		}
		best = c.Close
	}
	return best
}
