// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
)

const (
	// DefaultCoinAPIURL is the CoinAPI base URL.
	DefaultCoinAPIURL = "https://rest.coinapi.io/v1"

	// DefaultCryptoHistoryDays is the daily history window for crypto.
	DefaultCryptoHistoryDays = 30

	coinAPITimeLayout = "2006-01-02T15:04:05"
)

type coinRate struct {
	Time         string  `json:"time"`
	AssetIDBase  string  `json:"asset_id_base"`
	AssetIDQuote string  `json:"asset_id_quote"`
	Rate         float64 `json:"rate"`
}

type coinCandle struct {
	TimePeriodStart string  `json:"time_period_start"`
	PriceHigh       float64 `json:"price_high"`
	PriceLow        float64 `json:"price_low"`
	PriceClose      float64 `json:"price_close"`
}

// CryptoClient fetches crypto rates and history from CoinAPI.
type CryptoClient struct {
	endpoint
	keys        Keyring
	timeout     time.Duration
	historyDays int
	now         func() time.Time
}

// NewCryptoClient creates a crypto client reading its key from keys.
func NewCryptoClient(keys Keyring, opts Options) *CryptoClient {
	opts = opts.withDefaults()
	return &CryptoClient{
		endpoint:    opts.endpoint(CoinAPI, DefaultCoinAPIURL),
		keys:        keys,
		timeout:     opts.Timeout,
		historyDays: opts.CryptoHistoryDays,
		now:         opts.Now,
	}
}

// Feature implements Invoker.
func (c *CryptoClient) Feature() Feature { return FeatureCrypto }

// Invoke implements Invoker.
func (c *CryptoClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(CryptoRequest)
	if !ok {
		return Response{}, mismatch(FeatureCrypto, req)
	}
	q, err := c.Quote(ctx, r.Symbol)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureCrypto, Quote: q}, nil
}

// Quote fetches the USD rate and daily history for symbol.
func (c *CryptoClient) Quote(ctx context.Context, symbol string) (*model.QuoteSnapshot, error) {
	key, err := c.secret(c.keys)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base := "/" + url.PathEscape(symbol) + "/USD"

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	var (
		rate       coinRate
		candles    []coinCandle
		candlesRaw []byte
	)
	header := http.Header{"X-Coinapi-Key": []string{key}}
	fp := credential.Fingerprint(key)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.getJSON(gctx, "/exchangerate"+base, nil, header, fp, &rate)
		return err
	})
	g.Go(func() error {
		end := c.now().UTC()
		start := end.AddDate(0, 0, -c.historyDays)
		params := url.Values{
			"period_id":  {"1DAY"},
			"time_start": {start.Format(coinAPITimeLayout)},
			"time_end":   {end.Format(coinAPITimeLayout)},
		}
		body, err := c.getJSON(gctx, "/ohlcv"+base+"/history", params, header, fp, &candles)
		candlesRaw = body
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := make([]model.PricePoint, 0, len(candles))
	high, low := 0.0, 0.0
	for i, cd := range candles {
		ts, err := parseCoinTime(cd.TimePeriodStart)
		if err != nil {
			return nil, decodeError(c.provider, candlesRaw, err)
		}
		history = append(history, model.PricePoint{Time: ts, Price: cd.PriceClose})
		if i == 0 || cd.PriceHigh > high {
			high = cd.PriceHigh
		}
		if i == 0 || cd.PriceLow < low {
			low = cd.PriceLow
		}
	}

	snap := &model.QuoteSnapshot{
		Symbol:   symbol,
		Market:   model.MarketCrypto,
		Currency: "USD",
		Price:    rate.Rate,
		High:     high,
		Low:      low,
		AsOf:     c.now().UTC(),
		History:  history,
	}
	if ts, err := parseCoinTime(rate.Time); err == nil {
		snap.AsOf = ts
	}
	snap.SortHistory()

	// Change is measured against the oldest close in the window.
	if len(snap.History) > 0 && snap.History[0].Price != 0 {
		first := snap.History[0].Price
		snap.Change = snap.Price - first
		snap.ChangePercent = snap.Change / first * 100
	}
	return snap, nil
}

func parseCoinTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, coinAPITimeLayout} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
