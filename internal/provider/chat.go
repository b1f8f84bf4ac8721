// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/jeranaias/apidesk/internal/credential"
)

const (
	// DefaultOpenAIURL is the OpenAI API base URL.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultChatModel is the chat completion model.
	DefaultChatModel = "gpt-4"
)

// chatCompletionRequest is the body of POST /chat/completions.
type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ChatClient streams chat completions from OpenAI.
type ChatClient struct {
	endpoint
	keys    Keyring
	model   string
	timeout time.Duration
}

// NewChatClient creates a chat client reading its key from keys.
func NewChatClient(keys Keyring, opts Options) *ChatClient {
	opts = opts.withDefaults()
	return &ChatClient{
		endpoint: opts.endpoint(OpenAI, DefaultOpenAIURL),
		keys:     keys,
		model:    opts.ChatModel,
		timeout:  opts.Timeout,
	}
}

// Model returns the configured model.
func (c *ChatClient) Model() string { return c.model }

// Feature implements Invoker.
func (c *ChatClient) Feature() Feature { return FeatureChat }

// Invoke implements Invoker. The response carries an open ChatStream.
func (c *ChatClient) Invoke(ctx context.Context, req Request) (Response, error) {
	r, ok := req.(ChatRequest)
	if !ok {
		return Response{}, mismatch(FeatureChat, req)
	}
	stream, err := c.Stream(ctx, r)
	if err != nil {
		return Response{}, err
	}
	return Response{Feature: FeatureChat, Stream: stream}, nil
}

// Stream starts a streamed completion. The returned stream holds the call
// deadline until it is drained or closed.
func (c *ChatClient) Stream(ctx context.Context, r ChatRequest) (*ChatStream, error) {
	key, err := c.secret(c.keys)
	if err != nil {
		return nil, err
	}

	modelName := c.model
	if r.Model != "" {
		modelName = r.Model
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	req, err := c.newRequest(ctx, http.MethodPost, c.url("/chat/completions", nil), chatCompletionRequest{
		Model:    modelName,
		Messages: r.Messages,
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.send(req, credential.Fingerprint(key))
	if err != nil {
		cancel()
		return nil, err
	}
	return newChatStream(ctx, c.provider, resp.Body, cancel), nil
}
