// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/model"
)

const (
	// DefaultTogetherURL is the Together.ai API base URL.
	DefaultTogetherURL = "https://api.together.xyz/v1"

	DefaultImageModel = "stability-ai/sdxl"
	DefaultImageSteps = 30
	DefaultImageSize  = 1024
)

// ErrNoImage is the cause of the decode error returned when a generation
// response holds no image.
var ErrNoImage = errors.New("response contains no image")

type imageGenerateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Steps  int    `json:"steps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// imageGenerateResponse accepts both the legacy "output" list and the
// newer "data" list of objects.
type imageGenerateResponse struct {
	Output []json.RawMessage `json:"output"`
	Data   []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (r *imageGenerateResponse) firstURL() string {
	for _, raw := range r.Output {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
			return obj.URL
		}
	}
	for _, d := range r.Data {
		if d.URL != "" {
			return d.URL
		}
	}
	return ""
}

// Image is a downloaded image.
type Image struct {
	Data        []byte
	ContentType string
}

// ImageClient generates images with Together.ai.
type ImageClient struct {
	endpoint
	keys    Keyring
	timeout time.Duration
	model   string
	steps   int
	width   int
	height  int
	now     func() time.Time
}

// NewImageClient creates an image client reading its key from keys.
func NewImageClient(keys Keyring, opts Options) *ImageClient {
	opts = opts.withDefaults()
	return &ImageClient{
		endpoint: opts.endpoint(Together, DefaultTogetherURL),
		keys:     keys,
		timeout:  opts.Timeout,
		model:    opts.ImageModel,
		steps:    opts.ImageSteps,
		width:    opts.ImageWidth,
		height:   opts.ImageHeight,
		now:      opts.Now,
	}
}

// Feature implements Invoker.
func (c *ImageClient) Feature() Feature { return FeatureImage }

// Invoke implements Invoker.
func (c *ImageClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(ImageRequest)
	if !ok {
		return Response{}, mismatch(FeatureImage, req)
	}
	img, err := c.Generate(ctx, r.Prompt)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureImage, Image: img}, nil
}

// Generate requests one image for prompt and returns its URL.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (*model.ImageResult, error) {
	key, err := c.secret(c.keys)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.url("/images/generate", nil), imageGenerateRequest{
		Prompt: prompt,
		Model:  c.model,
		Steps:  c.steps,
		Width:  c.width,
		Height: c.height,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	var out imageGenerateResponse
	body, err := c.fetchJSON(req, credential.Fingerprint(key), &out)
	if err != nil {
		return nil, err
	}

	imageURL := out.firstURL()
	if imageURL == "" {
		return nil, decodeError(c.provider, body, ErrNoImage)
	}

	return &model.ImageResult{
		Prompt:    prompt,
		URL:       imageURL,
		Model:     c.model,
		Width:     c.width,
		Height:    c.height,
		FetchedAt: c.now(),
	}, nil
}

// Download fetches the bytes of a generated image. The URL must be absolute
// http or https; no credential is sent.
func (c *ImageClient) Download(ctx context.Context, rawURL string) (*Image, error) {
	resp, cancel, err := c.openDownload(ctx, rawURL, c.timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	data, err := readResponse(resp.Body)
	if err != nil {
		return nil, classifyRead(resp.Request.Context(), c.provider, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Image{Data: data, ContentType: contentType}, nil
}
