// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the feature clients. Zero fields fall back to the
// package defaults.
type Options struct {
	// Timeout bounds each call. For chat it covers the whole stream.
	Timeout time.Duration

	// HTTPClient replaces the pooled client, mostly for tests.
	HTTPClient *http.Client

	Logger    zerolog.Logger
	UserAgent string

	// BaseURLs overrides provider base URLs, keyed by credential id.
	BaseURLs map[string]string

	ChatModel string

	ImageModel  string
	ImageSteps  int
	ImageWidth  int
	ImageHeight int

	VideoPerPage int
	NewsPageSize int

	StockHistoryDays  int
	CryptoHistoryDays int

	// Now supplies the clock for history windows.
	Now func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Timeout:           DefaultTimeout,
		Logger:            zerolog.Nop(),
		UserAgent:         defaultUserAgent,
		ChatModel:         DefaultChatModel,
		ImageModel:        DefaultImageModel,
		ImageSteps:        DefaultImageSteps,
		ImageWidth:        DefaultImageSize,
		ImageHeight:       DefaultImageSize,
		VideoPerPage:      DefaultPageSize,
		NewsPageSize:      DefaultPageSize,
		StockHistoryDays:  DefaultStockHistoryDays,
		CryptoHistoryDays: DefaultCryptoHistoryDays,
	}
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.ChatModel == "" {
		o.ChatModel = d.ChatModel
	}
	if o.ImageModel == "" {
		o.ImageModel = d.ImageModel
	}
	if o.ImageSteps <= 0 {
		o.ImageSteps = d.ImageSteps
	}
	if o.ImageWidth <= 0 {
		o.ImageWidth = d.ImageWidth
	}
	if o.ImageHeight <= 0 {
		o.ImageHeight = d.ImageHeight
	}
	if o.VideoPerPage <= 0 {
		o.VideoPerPage = d.VideoPerPage
	}
	if o.NewsPageSize <= 0 {
		o.NewsPageSize = d.NewsPageSize
	}
	if o.StockHistoryDays <= 0 {
		o.StockHistoryDays = d.StockHistoryDays
	}
	if o.CryptoHistoryDays <= 0 {
		o.CryptoHistoryDays = d.CryptoHistoryDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// endpoint builds the HTTP plumbing for one provider.
func (o Options) endpoint(providerID, defaultURL string) endpoint {
	e := newEndpoint(providerID, trimBase(o.BaseURLs[providerID], defaultURL))
	if o.HTTPClient != nil {
		e.http = o.HTTPClient
	}
	e.logger = o.Logger.With().Str("provider", providerID).Logger()
	if o.UserAgent != "" {
		e.userAgent = o.UserAgent
	}
	return e
}
