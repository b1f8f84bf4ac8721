// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/session"
)

// ============================================================================
// REQUEST AND RESPONSE TYPES
// ============================================================================

// SessionResponse is returned when a session is created or read.
type SessionResponse struct {
	SessionID string           `json:"session_id"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// CredentialRequest is the body of PUT .../credentials/{provider}.
type CredentialRequest struct {
	Secret string `json:"secret"`
}

// ChatRequest is the body of POST .../chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	Reply   string              `json:"reply"`
	Feature session.FeatureView `json:"feature"`
}

// PromptRequest is the body of POST .../images.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// QueryRequest is the body of the search routes.
type QueryRequest struct {
	Query string `json:"query"`
}

// SymbolRequest is the body of the quote routes.
type SymbolRequest struct {
	Symbol string `json:"symbol"`
}

// ActionResponse carries an action result and the feature it updated.
type ActionResponse struct {
	Result  any                 `json:"result"`
	Feature session.FeatureView `json:"feature"`
}

// ErrorBody is the error half of every failed response.
type ErrorBody struct {
	Message        string   `json:"message"`
	Type           string   `json:"type"`
	Code           int      `json:"code"`
	Kind           string   `json:"kind,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	ProviderStatus int      `json:"provider_status,omitempty"`
	RawBody        string   `json:"raw_body,omitempty"`
	Missing        []string `json:"missing,omitempty"`
}

// ErrorResponse wraps ErrorBody with the affected feature, when known.
type ErrorResponse struct {
	Error   ErrorBody            `json:"error"`
	Feature *session.FeatureView `json:"feature,omitempty"`
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.sessions.Create()
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{SessionID: ctrl.ID(), Snapshot: ctrl.Snapshot()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: ctrl.ID(), Snapshot: ctrl.Snapshot()})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.PathValue("id")); err != nil {
		s.writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// CREDENTIAL HANDLERS
// ============================================================================

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": ctrl.Credentials()})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req CredentialRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := ctrl.SetCredential(r.PathValue("provider"), req.Secret); err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": ctrl.Credentials()})
}

func (s *Server) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("provider")
	if !provider.IsKnown(id) {
		s.writeError(w, &session.ValidationError{Field: "provider", Message: fmt.Sprintf("unknown provider %q", id)}, nil)
		return
	}
	ctrl.ClearCredential(id)
	writeJSON(w, http.StatusOK, map[string]any{"credentials": ctrl.Credentials()})
}

func (s *Server) handleClearCredentials(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	ctrl.ClearCredentials()
	writeJSON(w, http.StatusOK, map[string]any{"credentials": ctrl.Credentials()})
}

// ============================================================================
// ACTION HANDLERS
// ============================================================================

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	ctrl.ClearConversation()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req PromptRequest
	if !s.decode(w, r, &req) {
		return
	}
	img, err := ctrl.GenerateImage(r.Context(), req.Prompt)
	s.writeAction(w, ctrl, provider.FeatureImage, img, err)
}

func (s *Server) handleImageDownload(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	img, err := ctrl.DownloadImage(r.Context(), r.URL.Query().Get("prompt"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="image`+extensionFor(contentType)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	s.handleSearch(w, r, provider.FeatureVideo)
}

// handleVideoDownload streams the preferred file of video ?index= from the
// results for ?query=.
func (s *Server) handleVideoDownload(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	index := 0
	if raw := q.Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, &session.ValidationError{Field: "index", Message: "must be an integer"}, nil)
			return
		}
		index = n
	}

	media, err := ctrl.DownloadVideo(r.Context(), q.Get("query"), index)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	defer media.Body.Close()

	w.Header().Set("Content-Type", media.ContentType)
	if media.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(media.ContentLength, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="video-%d%s"`, index+1, extensionFor(media.ContentType)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, media.Body); err != nil {
		s.logger.Debug().Err(err).Msg("VIDEO_DOWNLOAD_ABORTED")
	}
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	s.handleSearch(w, r, provider.FeatureNews)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, f provider.Feature) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := ctrl.SubmitSearch(r.Context(), f, req.Query)
	s.writeAction(w, ctrl, f, res, err)
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	s.handleQuote(w, r, provider.FeatureStocks)
}

func (s *Server) handleCrypto(w http.ResponseWriter, r *http.Request) {
	s.handleQuote(w, r, provider.FeatureCrypto)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request, f provider.Feature) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SymbolRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := ctrl.FetchQuote(r.Context(), f, req.Symbol)
	s.writeAction(w, ctrl, f, q, err)
}

// ============================================================================
// HELPERS
// ============================================================================

// session resolves the {id} path value, writing 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return nil, false
	}
	return ctrl, true
}

// decode reads a JSON body of at most MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorBody(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large", nil)
			return false
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeErrorBody(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func (s *Server) writeAction(w http.ResponseWriter, ctrl *session.Controller, f provider.Feature, result any, err error) {
	view := ctrl.FeatureSnapshot(f)
	if err != nil {
		s.writeError(w, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Result: result, Feature: view})
}

// errorStatus maps an error to its HTTP status and error type.
func errorStatus(err error) (int, string) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, session.KindValidation
	case errors.Is(err, credential.ErrMissingCredential):
		return http.StatusPreconditionRequired, session.KindMissingCredential
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, session.KindBusy
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable, "unavailable"
	}
	if _, ok := provider.AsError(err); ok {
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, session.KindInternal
}

func (s *Server) writeError(w http.ResponseWriter, err error, view *session.FeatureView) {
	status, typ := errorStatus(err)
	body := ErrorBody{Message: err.Error(), Type: typ, Code: status}
	if ev := session.NewErrorView(err); ev != nil {
		body.Message = ev.Message
		body.Kind = ev.Kind
		body.Provider = ev.Provider
		body.ProviderStatus = ev.Status
		body.RawBody = ev.RawBody
		body.Missing = ev.Missing
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error().Err(err).Int("status", status).Msg("REQUEST_FAILED")
	}
	writeJSON(w, status, ErrorResponse{Error: body, Feature: view})
}

// writeErrorBody writes an error that carries no session detail.
func writeErrorBody(w http.ResponseWriter, status int, typ, message string, view *session.FeatureView) {
	writeJSON(w, status, ErrorResponse{
		Error:   ErrorBody{Message: message, Type: typ, Code: status},
		Feature: view,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	case strings.Contains(contentType, "webm"):
		return ".webm"
	case strings.Contains(contentType, "quicktime"):
		return ".mov"
	}
	return ".png"
}
