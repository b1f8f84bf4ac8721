// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/session"
)

// TextDelta is the payload of each streamed chat event.
type TextDelta struct {
	Text string `json:"text"`
}

// handleChat submits a prompt. With stream=true or an event-stream Accept
// header the reply is relayed as server-sent events; otherwise the full
// reply is returned once complete.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !req.Stream && !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		reply, err := ctrl.SubmitPrompt(r.Context(), req.Prompt, nil)
		view := ctrl.FeatureSnapshot(provider.FeatureChat)
		if err != nil {
			s.writeError(w, err, &view)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Reply: reply, Feature: view})
		return
	}

	flusher, _ := w.(http.Flusher)
	sse := &sseWriter{w: w, flusher: flusher}

	_, err := ctrl.SubmitPrompt(r.Context(), req.Prompt, func(text string) {
		if !sse.started {
			sse.start()
		}
		sse.event("", TextDelta{Text: text})
	})
	view := ctrl.FeatureSnapshot(provider.FeatureChat)

	if err != nil {
		if !sse.started {
			// Nothing sent yet: a plain JSON error keeps the status code.
			s.writeError(w, err, &view)
			return
		}
		status, typ := errorStatus(err)
		body := ErrorBody{Message: err.Error(), Type: typ, Code: status}
		if ev := session.NewErrorView(err); ev != nil {
			body.Message, body.Kind, body.Provider = ev.Message, ev.Kind, ev.Provider
			body.ProviderStatus, body.RawBody = ev.Status, ev.RawBody
		}
		sse.event("error", ErrorResponse{Error: body, Feature: &view})
		sse.done()
		return
	}

	if !sse.started {
		sse.start()
	}
	sse.event("snapshot", view)
	sse.done()
}

// sseWriter writes server-sent events. Headers are sent on start so that
// failures before the first fragment can still use a JSON error status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (e *sseWriter) start() {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.started = true
}

func (e *sseWriter) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if name != "" {
		fmt.Fprintf(e.w, "event: %s\n", name)
	}
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flush()
}

func (e *sseWriter) done() {
	fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.flush()
}

func (e *sseWriter) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
