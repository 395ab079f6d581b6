package moex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tickerToNames maps tickers to Russian company names for news matching.
var tickerToNames = map[string][]string{
	"SBER":  {"Сбербанк", "Сбер"},
	"GAZP":  {"Газпром"},
	"LKOH":  {"Лукойл", "ЛУКОЙЛ"},
	"GMKN":  {"Норникель", "Норильский никель"},
	"NVTK":  {"Новатэк", "НОВАТЭК"},
	"ROSN":  {"Роснефть"},
	"YDEX":  {"Яндекс"},
	"T":     {"Т-Банк", "Т-Технологии", "Тинькофф"},
	"MTSS":  {"МТС"},
	"MGNT":  {"Магнит"},
	"PLZL":  {"Полюс"},
	"CHMF":  {"Северсталь"},
	"ALRS":  {"Алроса", "АЛРОСА"},
	"SNGS":  {"Сургутнефтегаз"},
	"VTBR":  {"ВТБ"},
	"MOEX":  {"Мосбиржа", "Московская биржа"},
	"TATN":  {"Татнефть"},
	"NLMK":  {"НЛМК"},
	"PHOR":  {"ФосАгро"},
	"IRAO":  {"Интер РАО"},
}

// FetchRecentNews reads ISS site news published in the last 24h, newest first.
func (c *Client) FetchRecentNews(ctx context.Context) ([]NewsItem, error) {
	var allNews []NewsItem
	cutoff := time.Now().Add(-24 * time.Hour)

	for page := 0; page < 4; page++ {
		var iss struct {
			SiteNews issTable `json:"sitenews"`
		}
		err := c.get(ctx, "/sitenews.json", map[string]string{
			"lang":  "ru",
			"start": strconv.Itoa(page * 50),
		}, &iss)
		if err != nil {
			return nil, fmt.Errorf("fetch news page %d: %w", page, err)
		}

		stoppedEarly := false
		for _, row := range iss.SiteNews.rows() {
			published, err := time.Parse("2006-01-02 15:04:05", toString(row["published_at"]))
			if err != nil {
				continue
			}

			if published.Before(cutoff) {
				stoppedEarly = true
				break
			}

			allNews = append(allNews, NewsItem{
				ID:        int64(toFloat64(row["id"])),
				Title:     toString(row["title"]),
				Published: published,
			})
		}

		if stoppedEarly || len(iss.SiteNews.Data) < 50 {
			break
		}
	}

	return allNews, nil
}

// FilterNewsForTickers returns news items grouped by ticker, matching by ticker symbol or Russian company name in the title.
func FilterNewsForTickers(news []NewsItem, tickers []string) map[string][]NewsItem {
	result := make(map[string][]NewsItem)

	for _, ticker := range tickers {
		var searchTerms []string
		// one- and two-letter tickers would match almost any headline
		if len(ticker) >= 3 {
			searchTerms = append(searchTerms, strings.ToUpper(ticker))
		}
		if names, ok := tickerToNames[ticker]; ok {
			searchTerms = append(searchTerms, names...)
		}

		for _, item := range news {
			titleUpper := strings.ToUpper(item.Title)
			for _, term := range searchTerms {
				if strings.Contains(titleUpper, strings.ToUpper(term)) {
					result[ticker] = append(result[ticker], item)
					break
				}
			}
		}
	}

	return result
}
