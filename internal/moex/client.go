package moex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MintTrader/MinTrader/internal/logger"
)

const issBaseURL = "https://iss.moex.com/iss"

// Client reads public MOEX ISS endpoints.
type Client struct {
	http   *resty.Client
	logger *logger.Logger
}

func NewClient(log *logger.Logger) *Client {
	return NewClientWithBaseURL(issBaseURL, log)
}

func NewClientWithBaseURL(baseURL string, log *logger.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	client.SetQueryParam("iss.meta", "off")

	return &Client{
		http:   client,
		logger: log,
	}
}

// issTable is the ISS column/row block: {"columns": [...], "data": [[...]]}.
type issTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

// rows zips each data row with the column names.
func (t issTable) rows() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(t.Data))
	for _, row := range t.Data {
		m := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("MOEX ISS returned status %d for %s", resp.StatusCode(), path)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("parse ISS response: %w", err)
	}
	return nil
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%g", s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
