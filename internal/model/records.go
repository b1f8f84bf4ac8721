// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"time"
)

// =============================================================================
// IMAGE RESULTS
// =============================================================================

// ImageResult is one generated image.
type ImageResult struct {
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Model     string    `json:"model"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FetchedAt time.Time `json:"fetched_at"`
}

// =============================================================================
// SEARCH RESULTS
// =============================================================================

// VideoFile is one rendition of a stock video.
type VideoFile struct {
	Quality  string `json:"quality"`
	Link     string `json:"link"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileType string `json:"file_type,omitempty"`
}

// Video is a single stock video search hit.
type Video struct {
	ID       int64       `json:"id"`
	PageURL  string      `json:"page_url,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	Duration int         `json:"duration"`
	Author   string      `json:"author"`
	Files    []VideoFile `json:"files"`
}

// PreferredFile returns the first HD rendition, or the first rendition when
// there is no HD one. ok is false when the video has no files.
func (v Video) PreferredFile() (VideoFile, bool) {
	if len(v.Files) == 0 {
		return VideoFile{}, false
	}
	for _, f := range v.Files {
		if f.Quality == "hd" {
			return f, true
		}
	}
	return v.Files[0], true
}

// Article is a single news search hit.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SearchResult is the complete result set of one search. Exactly one of
// Videos or Articles is populated, matching Provider.
type SearchResult struct {
	Provider  string    `json:"provider"`
	Query     string    `json:"query"`
	Videos    []Video   `json:"videos,omitempty"`
	Articles  []Article `json:"articles,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Len returns the number of items in the result set.
func (r *SearchResult) Len() int {
	return len(r.Videos) + len(r.Articles)
}

// =============================================================================
// QUOTES
// =============================================================================

// Market identifies which kind of instrument a quote describes.
type Market string

const (
	MarketStocks Market = "stocks"
	MarketCrypto Market = "crypto"
)

// PricePoint is one sample of a price history.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// QuoteSnapshot is every field of one quote fetch. All fields come from the
// same fetch.
type QuoteSnapshot struct {
	Symbol        string       `json:"symbol"`
	Market        Market       `json:"market"`
	Name          string       `json:"name,omitempty"`
	Exchange      string       `json:"exchange,omitempty"`
	Industry      string       `json:"industry,omitempty"`
	Currency      string       `json:"currency"`
	Price         float64      `json:"price"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	AsOf          time.Time    `json:"as_of"`
	History       []PricePoint `json:"history"`
}

// SortHistory orders the history oldest first.
func (q *QuoteSnapshot) SortHistory() {
	slices.SortStableFunc(q.History, func(a, b PricePoint) int {
		return a.Time.Compare(b.Time)
	})
}

// HistoryRange returns the lowest and highest price in the history.
func (q *QuoteSnapshot) HistoryRange() (low, high float64, ok bool) {
	if len(q.History) == 0 {
		return 0, 0, false
	}
	low, high = q.History[0].Price, q.History[0].Price
	for _, p := range q.History[1:] {
		low = min(low, p.Price)
		high = max(high, p.Price)
	}
	return low, high, true
}
