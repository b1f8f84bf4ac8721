// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/apidesk/internal/credential"
)

// =============================================================================
// VIDEO
// =============================================================================

const pexelsBody = `{
	"page": 1,
	"per_page": 10,
	"videos": [
		{
			"id": 1448735,
			"url": "https://www.pexels.com/video/1448735/",
			"image": "https://images.pexels.com/1448735.jpeg",
			"duration": 32,
			"user": {"id": 1, "name": "Ana"},
			"video_files": [
				{"quality": "sd", "file_type": "video/mp4", "width": 640, "height": 360, "link": "https://v/sd.mp4"},
				{"quality": "hd", "file_type": "video/mp4", "width": 1280, "height": 720, "link": "https://v/hd.mp4"}
			]
		},
		{
			"id": 2,
			"duration": 5,
			"user": {"name": "Ben"},
			"video_files": [{"quality": "sd", "link": "https://v/only.mp4"}]
		}
	]
}`

func TestVideoClient_Search(t *testing.T) {
	var gotAuth, gotQuery, gotPerPage string
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("query")
		gotPerPage = r.URL.Query().Get("per_page")
		writeJSON(w, http.StatusOK, pexelsBody)
	})

	client := NewVideoClient(storeWith(t, Pexels, "px-key"), optionsFor(srv.URL))
	resp, err := client.Invoke(context.Background(), VideoRequest{Query: "ocean waves"})
	require.NoError(t, err)
	require.NotNil(t, resp.Search)

	assert.Equal(t, "px-key", gotAuth, "pexels takes the bare key")
	assert.Equal(t, "ocean waves", gotQuery)
	assert.Equal(t, "10", gotPerPage)

	res := resp.Search
	assert.Equal(t, Pexels, res.Provider)
	assert.Equal(t, "ocean waves", res.Query)
	require.Len(t, res.Videos, 2)

	first := res.Videos[0]
	assert.Equal(t, int64(1448735), first.ID)
	assert.Equal(t, "Ana", first.Author)
	assert.Equal(t, 32, first.Duration)
	f, ok := first.PreferredFile()
	require.True(t, ok)
	assert.Equal(t, "https://v/hd.mp4", f.Link)

	f, ok = res.Videos[1].PreferredFile()
	require.True(t, ok)
	assert.Equal(t, "https://v/only.mp4", f.Link)
}

func TestVideoClient_EmptyResults(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"videos":[]}`)
	})
	client := NewVideoClient(storeWith(t, Pexels, "k"), optionsFor(srv.URL))
	res, err := client.Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
}

func TestVideoClient_MissingCredential(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := NewVideoClient(credential.NewStore(), optionsFor(srv.URL))

	_, err := client.Search(context.Background(), "x")
	assert.ErrorIs(t, err, credential.ErrMissingCredential)
	assert.Equal(t, int32(0), srv.hits.Load())
}

func TestVideoClient_Download(t *testing.T) {
	clip := []byte("\x00\x00\x00\x18ftypmp42 fake")
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("download must not send the api key")
		}
		switch r.URL.Path {
		case "/hd.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Write(clip)
		default:
			http.NotFound(w, r)
		}
	})

	client := NewVideoClient(storeWith(t, Pexels, "px-key"), optionsFor(srv.URL))

	media, err := client.Download(context.Background(), srv.URL+"/hd.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	require.NoError(t, media.Body.Close())
	assert.Equal(t, clip, data)
	assert.Equal(t, "video/mp4", media.ContentType)
	assert.Equal(t, int64(len(clip)), media.ContentLength)

	_, err = client.Download(context.Background(), srv.URL+"/gone.mp4")
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, pe.Status)

	_, err = client.Download(context.Background(), "ftp://v/hd.mp4")
	pe, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, pe.Kind)
}

// =============================================================================
// NEWS
// =============================================================================

func TestNewsClient_Search(t *testing.T) {
	var gotKey, gotQ, gotSize string
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/everything" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.URL.Query().Get("apiKey")
		gotQ = r.URL.Query().Get("q")
		gotSize = r.URL.Query().Get("pageSize")
		writeJSON(w, http.StatusOK, `{
			"status": "ok",
			"totalResults": 1,
			"articles": [{
				"source": {"id": null, "name": "The Wire"},
				"author": "C. Writer",
				"title": "Go 1.24 released",
				"description": "Generic type aliases land.",
				"url": "https://news.example/go",
				"urlToImage": "https://news.example/go.png",
				"publishedAt": "2025-02-11T17:00:00Z"
			}]
		}`)
	})

	client := NewNewsClient(storeWith(t, NewsAPI, "na-key"), optionsFor(srv.URL))
	resp, err := client.Invoke(context.Background(), NewsRequest{Query: "golang"})
	require.NoError(t, err)

	assert.Equal(t, "na-key", gotKey)
	assert.Equal(t, "golang", gotQ)
	assert.Equal(t, "10", gotSize)

	require.Len(t, resp.Search.Articles, 1)
	a := resp.Search.Articles[0]
	assert.Equal(t, "Go 1.24 released", a.Title)
	assert.Equal(t, "The Wire", a.Source)
	assert.Equal(t, "C. Writer", a.Author)
	assert.Equal(t, "https://news.example/go.png", a.ImageURL)
	assert.Equal(t, time.Date(2025, 2, 11, 17, 0, 0, 0, time.UTC), a.PublishedAt)
}

func TestNewsClient_InvalidKey(t *testing.T) {
	body := `{"status":"error","code":"apiKeyInvalid","message":"Your API key is invalid or incorrect."}`
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, body)
	})

	client := NewNewsClient(storeWith(t, NewsAPI, "bad"), optionsFor(srv.URL))
	_, err := client.Search(context.Background(), "golang")

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindHTTPStatus, pe.Kind)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Equal(t, "Your API key is invalid or incorrect.", pe.Message)
	assert.Equal(t, body, pe.RawBody)
}

func TestNewsClient_MalformedBody(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"articles": "nope"`)
	})
	client := NewNewsClient(storeWith(t, NewsAPI, "k"), optionsFor(srv.URL))
	_, err := client.Search(context.Background(), "x")

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, pe.Kind)
}

func TestNewsClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	opts := optionsFor(srv.URL)
	opts.Timeout = 50 * time.Millisecond
	client := NewNewsClient(storeWith(t, NewsAPI, "k"), opts)

	_, err := client.Search(context.Background(), "slow")
	assert.True(t, IsTimeout(err), "want timeout, got %v", err)
}

func TestTransportFailure(t *testing.T) {
	opts := optionsFor("http://127.0.0.1:1")
	client := NewNewsClient(storeWith(t, NewsAPI, "k"), opts)

	_, err := client.Search(context.Background(), "x")
	pe, ok := AsError(err)
	require.True(t, ok, "want *Error, got %v", err)
	assert.Equal(t, KindTransport, pe.Kind)
}
