// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/apidesk/internal/credential"
)

// =============================================================================
// SSE READER
// =============================================================================

func TestSSEReader_ReadEvent(t *testing.T) {
	input := ": keepalive\n" +
		"event: message\n" +
		"data: {\"a\":1}\n\n" +
		"data:first\n" +
		"data: second\n\n" +
		"id: 7\n" +
		"data: tail"

	r := newSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", ev)
	assert.Equal(t, `{"a":1}`, string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "tail", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_EventTooLarge(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxEventSize+1) + "\n\n"
	r := newSSEReader(strings.NewReader(big))
	_, _, err := r.ReadEvent()
	assert.ErrorIs(t, err, ErrEventTooLarge)
}

// =============================================================================
// CHAT STREAM
// =============================================================================

func sseChunk(content string) string {
	return `data: {"choices":[{"delta":{"content":` + quote(content) + `},"finish_reason":null}]}` + "\n\n"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func streamFrom(body string) *ChatStream {
	return newChatStream(context.Background(), OpenAI, io.NopCloser(strings.NewReader(body)), func() {})
}

func TestChatStream_FragmentsInOrder(t *testing.T) {
	body := `data: {"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}` + "\n\n" +
		sseChunk("He") +
		sseChunk("llo!") +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	s := streamFrom(body)

	var got []Fragment
	for frag, err := range s.Fragments() {
		require.NoError(t, err)
		got = append(got, frag)
	}

	want := []Fragment{{Text: "He"}, {Text: "llo!"}, {Done: true, FinishReason: "stop"}}
	assert.Equal(t, want, got)

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF, "stream must not restart")
}

func TestChatStream_EOFWithoutDone(t *testing.T) {
	s := streamFrom(sseChunk("partial"))

	frag, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", frag.Text)

	frag, err = s.Recv()
	require.NoError(t, err)
	assert.True(t, frag.Done)
}

func TestChatStream_NoEventsIsDecodeFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"json completion", `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`},
		{"html page", "<html><body>Bad gateway</body></html>\n"},
		{"empty", ""},
		{"comments only", ": keepalive\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := streamFrom(tt.body)
			_, err := s.Recv()
			pe, ok := AsError(err)
			require.True(t, ok, "want *Error, got %v", err)
			assert.Equal(t, KindDecode, pe.Kind)
			assert.ErrorIs(t, err, ErrNoEvents)
			assert.Equal(t, tt.body, pe.RawBody)

			text, err := streamFrom(tt.body).Collect(nil)
			assert.Error(t, err)
			assert.Empty(t, text)
		})
	}
}

func TestChatStream_LongLineIsDecodeFailure(t *testing.T) {
	s := streamFrom(": " + strings.Repeat("x", MaxEventSize+64) + "\n" + sseChunk("late"))
	_, err := s.Recv()
	pe, ok := AsError(err)
	require.True(t, ok, "want *Error, got %v", err)
	assert.Equal(t, KindDecode, pe.Kind)
	assert.ErrorIs(t, err, ErrEventTooLarge)
	assert.Len(t, pe.RawBody, MaxEventSize)
}

func TestChatStream_MalformedChunk(t *testing.T) {
	s := streamFrom(sseChunk("ok") + "data: {not json\n\n")

	_, err := s.Recv()
	require.NoError(t, err)

	_, err = s.Recv()
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, pe.Kind)
	assert.Equal(t, "{not json", pe.RawBody)

	_, again := s.Recv()
	assert.Equal(t, err, again, "failure is sticky")
}

func TestChatStream_InStreamError(t *testing.T) {
	s := streamFrom(`data: {"error":{"message":"overloaded","code":503}}` + "\n\n")
	_, err := s.Recv()
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindHTTPStatus, pe.Kind)
	assert.Equal(t, 503, pe.Status)
	assert.Equal(t, "overloaded", pe.Message)
}

func TestChatStream_Collect(t *testing.T) {
	s := streamFrom(sseChunk("a") + sseChunk("b") + "data: [DONE]\n\n")

	var seen []string
	text, err := s.Collect(func(part string) { seen = append(seen, part) })
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, []string{"a", "b"}, seen)

	_, err = s.Collect(nil)
	assert.ErrorIs(t, err, ErrStreamConsumed)
}

func TestChatStream_CloseIdempotent(t *testing.T) {
	closed := 0
	s := newChatStream(context.Background(), OpenAI, io.NopCloser(strings.NewReader(sseChunk("x"))), func() { closed++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closed)

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

// =============================================================================
// CHAT CLIENT
// =============================================================================

func TestChatClient_Stream(t *testing.T) {
	var gotBody chatCompletionRequest
	var gotAuth, gotAccept string

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseChunk("He") + sseChunk("llo!") + "data: [DONE]\n\n"))
	})

	client := NewChatClient(storeWith(t, OpenAI, "sk-test"), optionsFor(srv.URL))
	resp, err := client.Invoke(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Equal(t, FeatureChat, resp.Feature)

	text, err := resp.Stream.Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, DefaultChatModel, gotBody.Model)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, []Message{{Role: "user", Content: "hello"}}, gotBody.Messages)
}

func TestChatClient_HTTPStatus(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`)
	})

	client := NewChatClient(storeWith(t, OpenAI, "sk-test"), optionsFor(srv.URL))
	_, err := client.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	pe, ok := AsError(err)
	require.True(t, ok, "want *Error, got %v", err)
	assert.Equal(t, KindHTTPStatus, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.Status)
	assert.Equal(t, "Rate limit reached", pe.Message)
	assert.Contains(t, pe.RawBody, "Rate limit reached")
}

func TestChatClient_JSONReplyIsDecodeFailure(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"Hello!"}}]}`)
	})

	client := NewChatClient(storeWith(t, OpenAI, "sk-test"), optionsFor(srv.URL))
	stream, err := client.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	text, err := stream.Collect(nil)
	assert.Empty(t, text)
	pe, ok := AsError(err)
	require.True(t, ok, "want *Error, got %v", err)
	assert.Equal(t, KindDecode, pe.Kind)
	assert.Contains(t, pe.RawBody, "Hello!")
}

func TestChatClient_MissingCredentialNoNetwork(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := NewChatClient(credential.NewStore(), optionsFor(srv.URL))
	_, err := client.Invoke(context.Background(), ChatRequest{})

	var missing *credential.MissingCredentialError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{OpenAI}, missing.Providers)
	assert.Equal(t, int32(0), srv.hits.Load())
}

func TestChatClient_StreamTimeout(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseChunk("slow")))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	opts := optionsFor(srv.URL)
	opts.Timeout = 100 * time.Millisecond
	client := NewChatClient(storeWith(t, OpenAI, "sk-test"), opts)

	stream, err := client.Stream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	frag, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "slow", frag.Text)

	_, err = stream.Recv()
	assert.True(t, IsTimeout(err), "want timeout, got %v", err)
}

func TestInvoke_RequestMismatch(t *testing.T) {
	client := NewChatClient(credential.NewStore(), DefaultOptions())
	_, err := client.Invoke(context.Background(), NewsRequest{Query: "x"})
	assert.ErrorIs(t, err, ErrRequestMismatch)
}
