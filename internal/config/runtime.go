// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/logging"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/session"
)

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// SessionSettings converts the session section.
func (c *Config) SessionSettings() session.Config {
	s := c.Session
	return session.Config{
		RequestTimeout:    time.Duration(s.RequestTimeoutSecs) * time.Second,
		HistoryLimit:      s.HistoryLimit,
		ResultsPerFeature: s.ResultsPerFeature,
		SystemPrompt:      c.Providers.OpenAI.SystemPrompt,
		IdleTimeout:       time.Duration(s.IdleTimeoutMins) * time.Minute,
		ReapInterval:      time.Duration(s.ReapIntervalSecs) * time.Second,
		MaxSessions:       s.MaxSessions,
	}
}

// ProviderOptions converts the providers section. Empty base URLs keep the
// public endpoints.
func (c *Config) ProviderOptions(logger zerolog.Logger) provider.Options {
	p := c.Providers
	opts := provider.DefaultOptions()
	opts.Timeout = time.Duration(c.Session.RequestTimeoutSecs) * time.Second
	opts.Logger = logger
	opts.ChatModel = p.OpenAI.Model
	opts.ImageModel = p.Together.Model
	opts.ImageSteps = p.Together.Steps
	opts.ImageWidth = p.Together.Width
	opts.ImageHeight = p.Together.Height
	opts.VideoPerPage = p.Pexels.PerPage
	opts.NewsPageSize = p.NewsAPI.PageSize
	opts.StockHistoryDays = p.TwelveData.HistoryDays
	opts.CryptoHistoryDays = p.CoinAPI.HistoryDays

	urls := map[string]string{
		provider.OpenAI:     p.OpenAI.BaseURL,
		provider.Together:   p.Together.BaseURL,
		provider.Pexels:     p.Pexels.BaseURL,
		provider.Finnhub:    p.Finnhub.BaseURL,
		provider.TwelveData: p.TwelveData.BaseURL,
		provider.CoinAPI:    p.CoinAPI.BaseURL,
		provider.NewsAPI:    p.NewsAPI.BaseURL,
	}
	for id, u := range urls {
		if u == "" {
			continue
		}
		if opts.BaseURLs == nil {
			opts.BaseURLs = make(map[string]string)
		}
		opts.BaseURLs[id] = u
	}
	return opts
}

// LoggerSettings converts the logging section.
func (c *Config) LoggerSettings() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	return lc
}
