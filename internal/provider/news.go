// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
)

// DefaultNewsAPIURL is the NewsAPI base URL.
const DefaultNewsAPIURL = "https://newsapi.org/v2"

type newsSearchResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// NewsClient searches articles on NewsAPI.
type NewsClient struct {
	endpoint
	keys     Keyring
	timeout  time.Duration
	pageSize int
	now      func() time.Time
}

// NewNewsClient creates a news search client reading its key from keys.
func NewNewsClient(keys Keyring, opts Options) *NewsClient {
	opts = opts.withDefaults()
	return &NewsClient{
		endpoint: opts.endpoint(NewsAPI, DefaultNewsAPIURL),
		keys:     keys,
		timeout:  opts.Timeout,
		pageSize: opts.NewsPageSize,
		now:      opts.Now,
	}
}

// Feature implements Invoker.
func (c *NewsClient) Feature() Feature { return FeatureNews }

// Invoke implements Invoker.
func (c *NewsClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(NewsRequest)
	if !ok {
		return Response{}, mismatch(FeatureNews, req)
	}
	res, err := c.Search(ctx, r.Query)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureNews, Search: res}, nil
}

// Search returns the articles matching query.
func (c *NewsClient) Search(ctx context.Context, query string) (*model.SearchResult, error) {
	key, err := c.secret(c.keys)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	params.Set("apiKey", key)

	var out newsSearchResponse
	body, err := c.getJSON(ctx, "/everything", params, nil, credential.Fingerprint(key), &out)
	if err != nil {
		return nil, err
	}
	if out.Status == "error" {
		return nil, statusError(c.provider, http.StatusBadRequest, body)
	}

	articles := make([]model.Article, 0, len(out.Articles))
	for _, a := range out.Articles {
		article := model.Article{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source.Name,
			Author:      a.Author,
			Description: a.Description,
			ImageURL:    a.URLToImage,
		}
		if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			article.PublishedAt = ts
		}
		articles = append(articles, article)
	}

	return &model.SearchResult{
		Provider:  c.provider,
		Query:     query,
		Articles:  articles,
		FetchedAt: c.now(),
	}, nil
}
