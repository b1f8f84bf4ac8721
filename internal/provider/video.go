// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
)

const (
	// DefaultPexelsURL is the Pexels API base URL.
	DefaultPexelsURL = "https://api.pexels.com"

	// DefaultPageSize is the number of search hits requested.
	DefaultPageSize = 10

	// DefaultDownloadTimeout bounds a whole video download.
	DefaultDownloadTimeout = 5 * time.Minute
)

// Media is a streamed download. Closing it releases the connection and the
// download deadline.
type Media struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type mediaBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *mediaBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

type pexelsSearchResponse struct {
	Videos []struct {
		ID       int64  `json:"id"`
		URL      string `json:"url"`
		Image    string `json:"image"`
		Duration int    `json:"duration"`
		User     struct {
			Name string `json:"name"`
		} `json:"user"`
		VideoFiles []struct {
			Quality  string `json:"quality"`
			FileType string `json:"file_type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Link     string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

// VideoClient searches stock videos on Pexels.
type VideoClient struct {
	endpoint
	keys    Keyring
	timeout time.Duration
	perPage int
	now     func() time.Time
}

// NewVideoClient creates a video search client reading its key from keys.
func NewVideoClient(keys Keyring, opts Options) *VideoClient {
	opts = opts.withDefaults()
	return &VideoClient{
		endpoint: opts.endpoint(Pexels, DefaultPexelsURL),
		keys:     keys,
		timeout:  opts.Timeout,
		perPage:  opts.VideoPerPage,
		now:      opts.Now,
	}
}

// Feature implements Invoker.
func (c *VideoClient) Feature() Feature { return FeatureVideo }

// Invoke implements Invoker.
func (c *VideoClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(VideoRequest)
	if !ok {
		return Response{}, mismatch(FeatureVideo, req)
	}
	res, err := c.Search(ctx, r.Query)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureVideo, Search: res}, nil
}

// Search returns the videos matching query. Pexels takes the raw key in
// the Authorization header, without a scheme.
func (c *VideoClient) Search(ctx context.Context, query string) (*model.SearchResult, error) {
	key, err := c.secret(c.keys)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(c.perPage))

	var out pexelsSearchResponse
	header := http.Header{"Authorization": []string{key}}
	if _, err := c.getJSON(ctx, "/videos/search", params, header, credential.Fingerprint(key), &out); err != nil {
		return nil, err
	}

	videos := make([]model.Video, 0, len(out.Videos))
	for _, v := range out.Videos {
		video := model.Video{
			ID:       v.ID,
			PageURL:  v.URL,
			ImageURL: v.Image,
			Duration: v.Duration,
			Author:   v.User.Name,
			Files:    make([]model.VideoFile, 0, len(v.VideoFiles)),
		}
		for _, f := range v.VideoFiles {
			video.Files = append(video.Files, model.VideoFile{
				Quality:  f.Quality,
				Link:     f.Link,
				Width:    f.Width,
				Height:   f.Height,
				FileType: f.FileType,
			})
		}
		videos = append(videos, video)
	}

	return &model.SearchResult{
		Provider:  c.provider,
		Query:     query,
		Videos:    videos,
		FetchedAt: c.now(),
	}, nil
}

// Download opens a video file linked from a search result. Pexels serves
// files from its CDN without the API key, so none is sent.
func (c *VideoClient) Download(ctx context.Context, link string) (*Media, error) {
	resp, cancel, err := c.openDownload(ctx, link, max(c.timeout, DefaultDownloadTimeout))
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return &Media{
		Body:          &mediaBody{ReadCloser: resp.Body, cancel: cancel},
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}
