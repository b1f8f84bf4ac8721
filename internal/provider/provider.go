// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/apidesk/internal/model"
)

// =============================================================================
// PROVIDER IDS
// =============================================================================

// Credential ids, one per external service.
const (
	OpenAI     = "openai"
	Together   = "together"
	Pexels     = "pexels"
	Finnhub    = "finnhub"
	TwelveData = "twelvedata"
	CoinAPI    = "coinapi"
	NewsAPI    = "newsapi"
)

// KnownProviders lists every credential id in display order.
var KnownProviders = []string{OpenAI, Together, Pexels, Finnhub, TwelveData, CoinAPI, NewsAPI}

// displayNames maps credential ids to the service names shown to users.
var displayNames = map[string]string{
	OpenAI:     "OpenAI",
	Together:   "Together.ai",
	Pexels:     "Pexels",
	Finnhub:    "Finnhub",
	TwelveData: "Twelve Data",
	CoinAPI:    "CoinAPI",
	NewsAPI:    "NewsAPI",
}

// DisplayName returns the human-readable service name for a credential id.
func DisplayName(id string) string {
	if name, ok := displayNames[id]; ok {
		return name
	}
	return id
}

// IsKnown reports whether id is one of KnownProviders.
func IsKnown(id string) bool {
	_, ok := displayNames[CanonicalID(id)]
	return ok
}

// CanonicalID normalizes a user-supplied credential id.
func CanonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// =============================================================================
// FEATURES
// =============================================================================

// Feature is one user-facing capability. The set is closed.
type Feature string

const (
	FeatureChat   Feature = "chat"
	FeatureImage  Feature = "image"
	FeatureVideo  Feature = "video"
	FeatureStocks Feature = "stocks"
	FeatureCrypto Feature = "crypto"
	FeatureNews   Feature = "news"
)

// Features lists every feature in display order.
var Features = []Feature{FeatureChat, FeatureImage, FeatureVideo, FeatureStocks, FeatureCrypto, FeatureNews}

var featureRequires = map[Feature][]string{
	FeatureChat:   {OpenAI},
	FeatureImage:  {Together},
	FeatureVideo:  {Pexels},
	FeatureStocks: {Finnhub, TwelveData},
	FeatureCrypto: {CoinAPI},
	FeatureNews:   {NewsAPI},
}

// String returns the feature name.
func (f Feature) String() string {
	return string(f)
}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	_, ok := featureRequires[f]
	return ok
}

// Requires returns the credential ids the feature needs. The slice is a copy.
func (f Feature) Requires() []string {
	req := featureRequires[f]
	out := make([]string, len(req))
	copy(out, req)
	return out
}

// ParseFeature converts a name into a Feature.
func ParseFeature(name string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(name)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown feature %q", name)
	}
	return f, nil
}

// =============================================================================
// KEYRING
// =============================================================================

// Keyring supplies secrets by credential id. credential.Store satisfies it.
// Get must fail with a credential.MissingCredentialError when no secret is
// stored; clients return that error untouched, before any network call.
type Keyring interface {
	Get(id string) (string, error)
}

// =============================================================================
// REQUESTS AND RESPONSES
// =============================================================================

// Request is implemented by the request type of each feature.
type Request interface {
	Feature() Feature
	sealed()
}

// Message is one chat message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks for a streamed chat completion over Messages.
type ChatRequest struct {
	Messages []Message
	Model    string // optional override of the client model
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Prompt string
}

// VideoRequest searches stock videos.
type VideoRequest struct {
	Query string
}

// NewsRequest searches news articles.
type NewsRequest struct {
	Query string
}

// StockRequest fetches a stock quote with profile and history.
type StockRequest struct {
	Symbol string
}

// CryptoRequest fetches a crypto quote in USD with history.
type CryptoRequest struct {
	Symbol string
}

func (ChatRequest) Feature() Feature   { return FeatureChat }
func (ImageRequest) Feature() Feature  { return FeatureImage }
func (VideoRequest) Feature() Feature  { return FeatureVideo }
func (NewsRequest) Feature() Feature   { return FeatureNews }
func (StockRequest) Feature() Feature  { return FeatureStocks }
func (CryptoRequest) Feature() Feature { return FeatureCrypto }

func (ChatRequest) sealed()   {}
func (ImageRequest) sealed()  {}
func (VideoRequest) sealed()  {}
func (NewsRequest) sealed()   {}
func (StockRequest) sealed()  {}
func (CryptoRequest) sealed() {}

// Response carries the typed result of one Invoke. Exactly one payload
// field is set, matching Feature.
type Response struct {
	Feature Feature
	Stream  *ChatStream
	Image   *model.ImageResult
	Search  *model.SearchResult
	Quote   *model.QuoteSnapshot
}

// Invoker is the contract shared by every feature client.
type Invoker interface {
	Feature() Feature
	Invoke(ctx context.Context, req Request) (Response, error)
}

// ErrRequestMismatch is returned when a client receives another feature's request.
var ErrRequestMismatch = errors.New("request does not match client feature")

func mismatch(want Feature, req Request) error {
	got := "nil"
	if req != nil {
		got = string(req.Feature())
	}
	return fmt.Errorf("%w: %s client got %s request", ErrRequestMismatch, want, got)
}
