// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/util"
)

var (
	// ErrBusy is returned when an action arrives while the same feature
	// already has a call in flight.
	ErrBusy = errors.New("a request for this feature is already in progress")

	// ErrSessionClosed is returned by actions on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("too many active sessions")
)

// ValidationError reports user input rejected before any provider call.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Error view kinds.
const (
	KindValidation        = "validation"
	KindMissingCredential = "missing_credential"
	KindBusy              = "busy"
	KindInternal          = "internal"
)

// ErrorView is the display form of the last failure of a feature.
type ErrorView struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Provider string   `json:"provider,omitempty"`
	Status   int      `json:"status,omitempty"`
	RawBody  string   `json:"raw_body,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

// NewErrorView converts err into its display form. It returns nil for nil.
func NewErrorView(err error) *ErrorView {
	if err == nil {
		return nil
	}

	var verr *ValidationError
	var missing *credential.MissingCredentialError
	switch {
	case errors.As(err, &verr):
		return &ErrorView{Kind: KindValidation, Message: verr.Error()}
	case errors.As(err, &missing):
		names := make([]string, len(missing.Providers))
		for i, id := range missing.Providers {
			names[i] = provider.DisplayName(id)
		}
		return &ErrorView{
			Kind:    KindMissingCredential,
			Message: "API key required: " + strings.Join(names, ", "),
			Missing: append([]string(nil), missing.Providers...),
		}
	case errors.Is(err, ErrBusy):
		return &ErrorView{Kind: KindBusy, Message: err.Error()}
	}

	if pe, ok := provider.AsError(err); ok {
		return &ErrorView{
			Kind:     string(pe.Kind),
			Message:  pe.Error(),
			Provider: pe.Provider,
			Status:   pe.Status,
			RawBody:  pe.RawBody,
		}
	}
	return &ErrorView{Kind: KindInternal, Message: err.Error()}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// symbolPattern matches ticker symbols such as AAPL, BRK.B or BTC.
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,15}$`)

// maxTextLen bounds prompts and queries.
const maxTextLen = 4000

func validateText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ValidationError{Field: field, Message: "must not be empty"}
	}
	if util.RuneLen(value) > maxTextLen {
		return "", &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", maxTextLen)}
	}
	return value, nil
}

func validateSymbol(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if !symbolPattern.MatchString(value) {
		return "", &ValidationError{Field: "symbol", Message: "must be 1-15 letters, digits, dots or dashes"}
	}
	return strings.ToUpper(value), nil
}
