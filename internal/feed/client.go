// Package feed loads daily bars from an HTTP feed or a CSV file into storage.
package feed

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
)

const (
	_barsURL = "/bars"
)

type barResponse struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type Client struct {
	c   *resty.Client
	cfg config.FeedConfig

	logger logger.Logger
}

func NewClient(cfg config.FeedConfig, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		AddContentTypeDecoder("json", decodeJSON)

	return &Client{
		c:      client,
		cfg:    cfg,
		logger: logger,
	}
}

func decodeJSON(r io.Reader, v any) error {
	return sonic.ConfigStd.NewDecoder(r).Decode(v)
}

func (c *Client) Close() error {
	return c.c.Close()
}

// Bars fetches daily bars of symbol in [from, to]. Zero bounds are left out
// of the request.
func (c *Client) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.DayBar, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, fmt.Errorf("invalid interval")
	}

	params := map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(c.cfg.Limit),
	}
	if !from.IsZero() {
		params["from"] = from.Format(time.DateOnly)
	}
	if !to.IsZero() {
		params["to"] = to.Format(time.DateOnly)
	}

	var rows []barResponse
	resp, err := c.c.R().
		SetQueryParams(params).
		SetResult(&rows).
		SetError(&errorResponse{}).
		SetContext(ctx).
		Get(_barsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: can't request bars of %s", err, symbol)
	}
	defer resp.Body.Close()

	c.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if resp.IsError() {
		if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
			return nil, fmt.Errorf("%s: bars request error", e.Message)
		}
		return nil, fmt.Errorf("bars request error: %s", resp.Status())
	}

	bars := make([]model.DayBar, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: bad bar date %q for %s", err, r.Date, symbol)
		}
		bars = append(bars, model.DayBar{
			Symbol: symbol,
			Date:   d,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}
