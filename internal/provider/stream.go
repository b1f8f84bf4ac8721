// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrStreamConsumed is returned by Collect on a stream that was already read.
	ErrStreamConsumed = errors.New("chat stream already consumed")

	// ErrNoEvents is the cause of a KindDecode failure for a 2xx body that
	// carried no SSE data events.
	ErrNoEvents = errors.New("response contained no stream events")
)

// Fragment is one piece of a streamed chat reply. The final fragment has
// Done set and carries no text.
type Fragment struct {
	Text         string
	Done         bool
	FinishReason string
}

// streamChunk is one OpenAI chat.completion.chunk.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

func (c *streamChunk) finishReason() string {
	if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
		return *c.Choices[0].FinishReason
	}
	return ""
}

// ChatStream is a lazy, single-use sequence of reply fragments. It owns the
// response body and the call deadline; both are released when the stream
// finishes, fails or is closed.
type ChatStream struct {
	mu       sync.Mutex
	provider string
	ctx      context.Context
	body     io.ReadCloser
	reader   *sseReader
	cancel   context.CancelFunc

	started bool
	events  int
	done    bool
	err     error
	finish  string
}

func newChatStream(ctx context.Context, providerID string, body io.ReadCloser, cancel context.CancelFunc) *ChatStream {
	return &ChatStream{
		provider: providerID,
		ctx:      ctx,
		body:     body,
		reader:   newSSEReader(io.LimitReader(body, MaxResponseSize+1)),
		cancel:   cancel,
	}
}

// Recv returns the next fragment. After the Done fragment it returns io.EOF.
// A failure is returned once as a *Error and then repeated.
func (s *ChatStream) Recv() (Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true
	if s.err != nil {
		return Fragment{}, s.err
	}
	if s.done {
		return Fragment{}, io.EOF
	}

	for {
		_, data, err := s.reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if s.events == 0 {
					return Fragment{}, s.fail(decodeError(s.provider, s.reader.Head(), ErrNoEvents))
				}
				// Body ended without [DONE]; the reply is complete as received.
				return s.complete(), nil
			}
			if errors.Is(err, ErrEventTooLarge) || errors.Is(err, ErrBodyTooLarge) {
				return Fragment{}, s.fail(decodeError(s.provider, s.reader.Head(), err))
			}
			return Fragment{}, s.fail(classifyRead(s.ctx, s.provider, err))
		}
		s.events++

		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return s.complete(), nil
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return Fragment{}, s.fail(decodeError(s.provider, data, err))
		}
		if chunk.Error != nil {
			return Fragment{}, s.fail(&Error{
				Provider: s.provider,
				Kind:     KindHTTPStatus,
				Status:   chunkStatus(chunk.Error.Code),
				Message:  chunk.Error.Message,
				RawBody:  string(data),
			})
		}

		if reason := chunk.finishReason(); reason != "" {
			s.finish = reason
		}
		if text := chunk.content(); text != "" {
			return Fragment{Text: text}, nil
		}
	}
}

// Fragments ranges over the stream, ending after the Done fragment or the
// first error. Breaking out of the loop closes the stream.
func (s *ChatStream) Fragments() iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		defer s.Close()
		for {
			frag, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frag, err) || err != nil || frag.Done {
				return
			}
		}
	}
}

// Collect drains the stream, calling onText for every text fragment, and
// returns the concatenated reply.
func (s *ChatStream) Collect(onText func(string)) (string, error) {
	s.mu.Lock()
	used := s.started
	s.mu.Unlock()
	if used {
		return "", ErrStreamConsumed
	}

	var sb strings.Builder
	for frag, err := range s.Fragments() {
		if err != nil {
			return sb.String(), err
		}
		if frag.Text != "" {
			sb.WriteString(frag.Text)
			if onText != nil {
				onText(frag.Text)
			}
		}
	}
	return sb.String(), nil
}

// FinishReason returns the finish reason reported by the provider, if any.
func (s *ChatStream) FinishReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finish
}

// Close releases the body and the call deadline. It is safe to call more
// than once; later Recv calls return io.EOF.
func (s *ChatStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done && s.err == nil {
		s.done = true
	}
	return s.release()
}

func (s *ChatStream) complete() Fragment {
	s.done = true
	s.release()
	return Fragment{Done: true, FinishReason: s.finish}
}

func (s *ChatStream) fail(err error) error {
	s.err = err
	s.release()
	return err
}

func (s *ChatStream) release() error {
	var err error
	if s.body != nil {
		err = s.body.Close()
		s.body = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return err
}

// chunkStatus maps an in-stream error code to an HTTP status. Codes that are
// not numeric are reported as 502.
func chunkStatus(code any) int {
	switch v := code.(type) {
	case float64:
		if v >= 400 && v < 600 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n >= 400 && n < 600 {
			return n
		}
	}
	return http.StatusBadGateway
}

// String describes the stream state for debugging.
func (s *ChatStream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "open"
	switch {
	case s.err != nil:
		state = "failed"
	case s.done:
		state = "done"
	}
	return fmt.Sprintf("ChatStream{provider=%s, state=%s}", s.provider, state)
}
