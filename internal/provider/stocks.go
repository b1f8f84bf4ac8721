// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
)

const (
	// DefaultFinnhubURL is the Finnhub API base URL.
	DefaultFinnhubURL = "https://finnhub.io/api/v1"

	// DefaultTwelveDataURL is the Twelve Data API base URL.
	DefaultTwelveDataURL = "https://api.twelvedata.com"

	// DefaultStockHistoryDays is the daily history window for stocks.
	DefaultStockHistoryDays = 365
)

type finnhubProfile struct {
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Industry string `json:"finnhubIndustry"`
	Currency string `json:"currency"`
	Ticker   string `json:"ticker"`
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Timestamp     int64   `json:"t"`
}

// twelveSeries is a time_series body. Twelve Data reports errors with a 200
// status and "status":"error".
type twelveSeries struct {
	Status  string          `json:"status"`
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Meta    struct {
		Currency string `json:"currency"`
	} `json:"meta"`
	Values []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
}

// StockClient fetches stock quotes from Finnhub and history from Twelve Data.
type StockClient struct {
	finnhub     endpoint
	twelve      endpoint
	keys        Keyring
	timeout     time.Duration
	historyDays int
	now         func() time.Time
}

// NewStockClient creates a stock client reading its keys from keys.
func NewStockClient(keys Keyring, opts Options) *StockClient {
	opts = opts.withDefaults()
	return &StockClient{
		finnhub:     opts.endpoint(Finnhub, DefaultFinnhubURL),
		twelve:      opts.endpoint(TwelveData, DefaultTwelveDataURL),
		keys:        keys,
		timeout:     opts.Timeout,
		historyDays: opts.StockHistoryDays,
		now:         opts.Now,
	}
}

// Feature implements Invoker.
func (c *StockClient) Feature() Feature { return FeatureStocks }

// Invoke implements Invoker.
func (c *StockClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(StockRequest)
	if !ok {
		return Response{}, mismatch(FeatureStocks, req)
	}
	q, err := c.Quote(ctx, r.Symbol)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureStocks, Quote: q}, nil
}

// Quote fetches profile, quote and daily history for symbol. The three
// calls run concurrently; the first failure cancels the others.
func (c *StockClient) Quote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	finnhubKey, twelveKey, err := c.secrets()
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	var (
		profile finnhubProfile
		quote   finnhubQuote
		series  twelveSeries
		raw     []byte
	)

	finnhubFP := credential.Fingerprint(finnhubKey)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params := url.Values{"symbol": {symbol}, "token": {finnhubKey}}
		_, err := c.finnhub.getJSON(gctx, "/stock/profile2", params, nil, finnhubFP, &profile)
		return err
	})
	g.Go(func() error {
		params := url.Values{"symbol": {symbol}, "token": {finnhubKey}}
		_, err := c.finnhub.getJSON(gctx, "/quote", params, nil, finnhubFP, &quote)
		return err
	})
	g.Go(func() error {
		end := c.now().UTC()
		start := end.AddDate(0, 0, -c.historyDays)
		params := url.Values{
			"symbol":     {symbol},
			"interval":   {"1day"},
			"start_date": {start.Format(time.DateOnly)},
			"end_date":   {end.Format(time.DateOnly)},
			"apikey":     {twelveKey},
		}
		body, err := c.twelve.getJSON(gctx, "/time_series", params, nil, credential.Fingerprint(twelveKey), &series)
		raw = body
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if series.Status == "error" {
		return nil, &Error{
			Provider: TwelveData,
			Kind:     KindHTTPStatus,
			Status:   embeddedStatus(series.Code),
			Message:  series.Message,
			RawBody:  string(raw),
		}
	}

	history, err := parseTwelveValues(series)
	if err != nil {
		return nil, decodeError(TwelveData, raw, err)
	}

	snap := &model.QuoteSnapshot{
		Symbol:        symbol,
		Market:        model.MarketStocks,
		Name:          profile.Name,
		Exchange:      profile.Exchange,
		Industry:      profile.Industry,
		Currency:      firstNonEmpty(profile.Currency, series.Meta.Currency, "USD"),
		Price:         quote.Current,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		High:          quote.High,
		Low:           quote.Low,
		AsOf:          c.now().UTC(),
		History:       history,
	}
	if quote.Timestamp > 0 {
		snap.AsOf = time.Unix(quote.Timestamp, 0).UTC()
	}
	snap.SortHistory()
	return snap, nil
}

// secrets reads both keys, reporting every missing one together.
func (c *StockClient) secrets() (string, string, error) {
	if c.keys == nil {
		return "", "", &credential.MissingCredentialError{Providers: []string{Finnhub, TwelveData}}
	}
	finnhubKey, ferr := c.keys.Get(Finnhub)
	twelveKey, terr := c.keys.Get(TwelveData)
	switch {
	case ferr != nil && terr != nil:
		return "", "", &credential.MissingCredentialError{Providers: []string{Finnhub, TwelveData}}
	case ferr != nil:
		return "", "", ferr
	case terr != nil:
		return "", "", terr
	}
	return finnhubKey, twelveKey, nil
}

func parseTwelveValues(series twelveSeries) ([]model.PricePoint, error) {
	points := make([]model.PricePoint, 0, len(series.Values))
	for _, v := range series.Values {
		ts, err := parseTwelveTime(v.Datetime)
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(v.Close), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid close %q: %w", v.Close, err)
		}
		points = append(points, model.PricePoint{Time: ts, Price: price})
	}
	return points, nil
}

func parseTwelveTime(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.DateTime} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

// embeddedStatus reads the code Twelve Data embeds in an error body.
func embeddedStatus(code json.RawMessage) int {
	var n int
	if err := json.Unmarshal(code, &n); err == nil && n >= 400 && n < 600 {
		return n
	}
	var s string
	if err := json.Unmarshal(code, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil && n >= 400 && n < 600 {
			return n
		}
	}
	return http.StatusBadRequest
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
