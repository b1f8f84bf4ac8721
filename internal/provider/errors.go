// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindTransport covers connection failures and aborted reads.
	KindTransport Kind = "transport"
	// KindHTTPStatus is a non-success status reported by the provider.
	KindHTTPStatus Kind = "http_status"
	// KindTimeout is an expired deadline on the call.
	KindTimeout Kind = "timeout"
	// KindDecode is a success response that could not be decoded.
	KindDecode Kind = "decode"
)

// Error is a classified provider failure. RawBody holds the response body
// for http_status and decode failures so callers can show it verbatim.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Message  string
	RawBody  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	name := DisplayName(e.Provider)
	switch e.Kind {
	case KindHTTPStatus:
		if e.Message != "" {
			return fmt.Sprintf("%s: HTTP %d: %s", name, e.Status, e.Message)
		}
		return fmt.Sprintf("%s: HTTP %d", name, e.Status)
	case KindTimeout:
		return fmt.Sprintf("%s: request timed out", name)
	case KindDecode:
		if e.Err != nil {
			return fmt.Sprintf("%s: unexpected response: %v", name, e.Err)
		}
		return fmt.Sprintf("%s: unexpected response: %s", name, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: request failed: %v", name, e.Err)
		}
		return fmt.Sprintf("%s: request failed: %s", name, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the text a user should see for the failure: the provider
// message when there is one, otherwise the raw body, otherwise Error().
func (e *Error) Detail() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.RawBody != "":
		return e.RawBody
	default:
		return e.Error()
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == KindTimeout
}

// classify turns a transport-level failure into a *Error. Errors that are
// already classified pass through unchanged.
func classify(providerID string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: providerID, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Provider: providerID, Kind: KindTimeout, Err: err}
	}
	return &Error{Provider: providerID, Kind: KindTransport, Err: err}
}

// classifyRead classifies a failure while reading a body. The transport may
// report an expired deadline as a plain cancellation, so the context decides.
func classifyRead(ctx context.Context, providerID string, err error) error {
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return classify(providerID, err)
}

func statusError(providerID string, status int, body []byte) *Error {
	return &Error{
		Provider: providerID,
		Kind:     KindHTTPStatus,
		Status:   status,
		Message:  parseErrorMessage(body),
		RawBody:  string(body),
	}
}

func decodeError(providerID string, body []byte, err error) *Error {
	return &Error{
		Provider: providerID,
		Kind:     KindDecode,
		RawBody:  string(body),
		Err:      err,
	}
}

// parseErrorMessage pulls a human message out of the error bodies the
// supported providers return:
//
//	{"error":{"message":"..."}}   OpenAI, Together
//	{"error":"..."}               Pexels, CoinAPI, Finnhub
//	{"message":"..."}             NewsAPI, Twelve Data
func parseErrorMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return strings.TrimSpace(nested.Message)
		}
		var flat string
		if err := json.Unmarshal(envelope.Error, &flat); err == nil && flat != "" {
			return strings.TrimSpace(flat)
		}
	}
	return strings.TrimSpace(envelope.Message)
}
