// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/metrics"
	"github.com/jeranaias/apidesk/internal/model"
	"github.com/jeranaias/apidesk/internal/provider"
)

// Invokers resolves the client for a feature. provider.Set satisfies it.
type Invokers interface {
	Invoker(f provider.Feature) (provider.Invoker, error)
}

// ImageDownloader fetches generated image bytes. provider.ImageClient
// satisfies it.
type ImageDownloader interface {
	Download(ctx context.Context, url string) (*provider.Image, error)
}

// VideoDownloader opens video files. provider.VideoClient satisfies it.
type VideoDownloader interface {
	Download(ctx context.Context, link string) (*provider.Media, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Keys      *credential.Store
	Providers Invokers
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Controller owns one session: its credentials, per-feature state and
// result buffers. All methods are safe for concurrent use; each feature
// admits one in-flight call at a time.
type Controller struct {
	id        string
	cfg       Config
	keys      *credential.Store
	providers Invokers
	logger    zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	closed       bool
	features     map[provider.Feature]*featureState
	conversation *model.Conversation
	images       *model.Results[model.ImageResult]
	videos       *model.Results[model.SearchResult]
	news         *model.Results[model.SearchResult]
	stocks       *model.Results[model.QuoteSnapshot]
	crypto       *model.Results[model.QuoteSnapshot]
	updatedAt    time.Time

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewController creates a session controller with the given id.
func NewController(id string, cfg Config, deps Deps) *Controller {
	if deps.Keys == nil {
		deps.Keys = credential.NewStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	c := &Controller{
		id:           id,
		cfg:          cfg,
		keys:         deps.Keys,
		providers:    deps.Providers,
		logger:       deps.Logger.With().Str("session", id).Logger(),
		now:          deps.Now,
		features:     make(map[provider.Feature]*featureState, len(provider.Features)),
		conversation: model.NewConversation(),
		images:       model.NewResults[model.ImageResult](cfg.ResultsPerFeature),
		videos:       model.NewResults[model.SearchResult](cfg.ResultsPerFeature),
		news:         model.NewResults[model.SearchResult](cfg.ResultsPerFeature),
		stocks:       model.NewResults[model.QuoteSnapshot](cfg.ResultsPerFeature),
		crypto:       model.NewResults[model.QuoteSnapshot](cfg.ResultsPerFeature),
		subs:         make(map[int]chan struct{}),
	}

	now := c.now()
	for _, f := range provider.Features {
		st := StateReady
		if len(c.keys.Missing(f.Requires()...)) > 0 {
			st = StateNeedCredential
		}
		c.features[f] = &featureState{state: st, since: now}
	}
	c.updatedAt = now
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// =============================================================================
// CREDENTIALS
// =============================================================================

// SetCredential stores a secret and re-evaluates every idle feature.
func (c *Controller) SetCredential(id, secret string) error {
	if !provider.IsKnown(id) {
		return &ValidationError{Field: "provider", Message: fmt.Sprintf("unknown provider %q", id)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if err := c.keys.Set(id, secret); err != nil {
		return &ValidationError{Field: "secret", Message: "must not be empty"}
	}
	c.refreshLocked(provider.CanonicalID(id))
	c.logger.Info().Str("provider", id).Str("key", c.keys.Fingerprint(id)).Msg("CREDENTIAL_SET")
	c.changedLocked()
	return nil
}

// ClearCredential removes one secret.
func (c *Controller) ClearCredential(id string) {
	c.keys.Clear(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked("")
	c.logger.Info().Str("provider", id).Msg("CREDENTIAL_CLEARED")
	c.changedLocked()
}

// ClearCredentials removes every secret. It is idempotent.
func (c *Controller) ClearCredentials() {
	c.keys.ClearAll()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked("")
	c.changedLocked()
}

// Credentials returns the display-safe credential status.
func (c *Controller) Credentials() []credential.Status {
	return c.keys.Status(provider.KnownProviders)
}

// refreshLocked moves idle features between need_credential and ready after
// a credential change. A feature that depends on setID also leaves error.
func (c *Controller) refreshLocked(setID string) {
	now := c.now()
	for _, f := range provider.Features {
		fs := c.features[f]
		if fs.state == StatePending {
			continue
		}
		required := f.Requires()
		if len(c.keys.Missing(required...)) > 0 {
			fs.state = StateNeedCredential
			fs.since = now
			continue
		}
		if fs.state == StateNeedCredential || (setID != "" && slices.Contains(required, setID)) {
			fs.state = StateReady
			fs.lastError = nil
			fs.since = now
		}
	}
}

// =============================================================================
// ACTIONS
// =============================================================================

// SubmitPrompt sends text with the conversation so far and streams the
// reply, calling onFragment for each piece in arrival order. The user turn
// is kept even when the call fails; the assistant turn is appended only
// once the reply completes.
func (c *Controller) SubmitPrompt(ctx context.Context, text string, onFragment func(string)) (string, error) {
	text, verr := validateText("prompt", text)
	if err := c.admit(provider.FeatureChat, verr); err != nil {
		return "", err
	}

	if err := c.store(func() { c.conversation.Append(model.NewUserTurn(text)) }); err != nil {
		c.settle(provider.FeatureChat, "", time.Now(), err)
		return "", err
	}

	var reply string
	err := c.call(ctx, provider.FeatureChat, "", c.chatRequest(), func(resp provider.Response) error {
		if resp.Stream == nil {
			return errors.New("chat response carried no stream")
		}
		out, err := resp.Stream.Collect(onFragment)
		if err != nil {
			return err
		}
		reply = out

		return c.store(func() {
			c.conversation.Append(model.NewAssistantTurn(reply))
			if c.cfg.HistoryLimit > 0 {
				if dropped := c.conversation.TruncateToLast(c.cfg.HistoryLimit); dropped > 0 {
					c.logger.Debug().Int("dropped", dropped).Msg("HISTORY_TRIMMED")
				}
			}
		})
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// GenerateImage creates an image for prompt. The result replaces any
// earlier image for the same prompt.
func (c *Controller) GenerateImage(ctx context.Context, prompt string) (*model.ImageResult, error) {
	prompt, verr := validateText("prompt", prompt)
	if err := c.admit(provider.FeatureImage, verr); err != nil {
		return nil, err
	}

	var result *model.ImageResult
	err := c.call(ctx, provider.FeatureImage, prompt, provider.ImageRequest{Prompt: prompt}, func(resp provider.Response) error {
		if resp.Image == nil {
			return errors.New("image response carried no image")
		}
		result = resp.Image
		return c.store(func() { c.images.Replace(prompt, *resp.Image) })
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitSearch runs a video or news search for query.
func (c *Controller) SubmitSearch(ctx context.Context, f provider.Feature, query string) (*model.SearchResult, error) {
	var buf *model.Results[model.SearchResult]
	var req provider.Request
	switch f {
	case provider.FeatureVideo:
		buf = c.videos
	case provider.FeatureNews:
		buf = c.news
	default:
		return nil, &ValidationError{Field: "feature", Message: fmt.Sprintf("%q is not a search feature", f)}
	}

	query, verr := validateText("query", query)
	if err := c.admit(f, verr); err != nil {
		return nil, err
	}
	if f == provider.FeatureVideo {
		req = provider.VideoRequest{Query: query}
	} else {
		req = provider.NewsRequest{Query: query}
	}

	var result *model.SearchResult
	err := c.call(ctx, f, query, req, func(resp provider.Response) error {
		if resp.Search == nil {
			return errors.New("search response carried no results")
		}
		result = resp.Search
		return c.store(func() { buf.Replace(query, *resp.Search) })
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchQuote fetches a stock or crypto quote for symbol.
func (c *Controller) FetchQuote(ctx context.Context, f provider.Feature, symbol string) (*model.QuoteSnapshot, error) {
	var buf *model.Results[model.QuoteSnapshot]
	switch f {
	case provider.FeatureStocks:
		buf = c.stocks
	case provider.FeatureCrypto:
		buf = c.crypto
	default:
		return nil, &ValidationError{Field: "feature", Message: fmt.Sprintf("%q is not a quote feature", f)}
	}

	symbol, verr := validateSymbol(symbol)
	if err := c.admit(f, verr); err != nil {
		return nil, err
	}

	var req provider.Request = provider.StockRequest{Symbol: symbol}
	if f == provider.FeatureCrypto {
		req = provider.CryptoRequest{Symbol: symbol}
	}

	var result *model.QuoteSnapshot
	err := c.call(ctx, f, symbol, req, func(resp provider.Response) error {
		if resp.Quote == nil {
			return errors.New("quote response carried no quote")
		}
		result = resp.Quote
		return c.store(func() { buf.Replace(symbol, *resp.Quote) })
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DownloadImage returns the bytes of the image generated for prompt.
func (c *Controller) DownloadImage(ctx context.Context, prompt string) (*provider.Image, error) {
	prompt, err := validateText("prompt", prompt)
	if err != nil {
		return nil, err
	}
	img, ok := c.images.Get(prompt)
	if !ok {
		return nil, &ValidationError{Field: "prompt", Message: "no image generated for this prompt"}
	}

	inv, err := c.providers.Invoker(provider.FeatureImage)
	if err != nil {
		return nil, err
	}
	dl, ok := inv.(ImageDownloader)
	if !ok {
		return nil, errors.New("image client cannot download")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return dl.Download(ctx, img.URL)
}

// DownloadVideo opens the preferred file of the video at index in the
// results for query. Only links from this session's own results are
// fetched. The caller closes the returned body.
func (c *Controller) DownloadVideo(ctx context.Context, query string, index int) (*provider.Media, error) {
	query, err := validateText("query", query)
	if err != nil {
		return nil, err
	}
	res, ok := c.videos.Get(query)
	if !ok {
		return nil, &ValidationError{Field: "query", Message: "no video search for this query"}
	}
	if index < 0 || index >= len(res.Videos) {
		return nil, &ValidationError{Field: "index", Message: fmt.Sprintf("must be between 0 and %d", len(res.Videos)-1)}
	}
	file, ok := res.Videos[index].PreferredFile()
	if !ok {
		return nil, &ValidationError{Field: "index", Message: "video has no downloadable file"}
	}

	inv, err := c.providers.Invoker(provider.FeatureVideo)
	if err != nil {
		return nil, err
	}
	dl, ok := inv.(VideoDownloader)
	if !ok {
		return nil, errors.New("video client cannot download")
	}
	c.logger.Debug().Int64("video", res.Videos[index].ID).Str("quality", file.Quality).Msg("VIDEO_DOWNLOAD")
	return dl.Download(ctx, file.Link)
}

// ClearConversation empties the chat buffer.
func (c *Controller) ClearConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversation.IsEmpty() {
		return
	}
	c.conversation.Clear()
	c.changedLocked()
}

// store applies a buffer write unless the session was closed while the call
// was in flight.
func (c *Controller) store(write func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	write()
	c.changedLocked()
	return nil
}

// admit runs the checks every action passes before reaching a provider:
// validation, single-flight, then the credential gate. On success the
// feature is pending and the caller must finish it through call.
func (c *Controller) admit(f provider.Feature, verr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	fs := c.features[f]

	if verr != nil {
		if fs.state == StateError {
			fs.state = StateReady
			fs.since = c.now()
		}
		fs.lastError = NewErrorView(verr)
		metrics.RejectAction(string(f), KindValidation)
		c.changedLocked()
		return verr
	}

	if fs.state == StatePending {
		metrics.RejectAction(string(f), KindBusy)
		return ErrBusy
	}

	if missing := c.keys.Missing(f.Requires()...); len(missing) > 0 {
		err := &credential.MissingCredentialError{Providers: missing}
		fs.state = StateNeedCredential
		fs.lastError = NewErrorView(err)
		fs.since = c.now()
		metrics.RejectAction(string(f), KindMissingCredential)
		c.changedLocked()
		return err
	}

	fs.state = StatePending
	fs.since = c.now()
	c.changedLocked()
	return nil
}

// call invokes the provider for an admitted feature, applies the response
// and settles the state.
func (c *Controller) call(ctx context.Context, f provider.Feature, key string, req provider.Request, apply func(provider.Response) error) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	inv, err := c.providers.Invoker(f)
	if err == nil {
		var resp provider.Response
		resp, err = inv.Invoke(ctx, req)
		if err == nil {
			err = apply(resp)
		} else if resp.Stream != nil {
			resp.Stream.Close()
		}
	}

	c.settle(f, key, start, err)
	return err
}

func (c *Controller) settle(f provider.Feature, key string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.ObserveProviderCall(string(f), "closed", elapsed)
		c.logger.Debug().Str("feature", string(f)).Dur("duration", elapsed).Msg("ACTION_DISCARDED")
		return
	}
	fs := c.features[f]
	fs.since = c.now()
	switch {
	case err == nil:
		fs.state = StateReady
		fs.lastError = nil
		if key != "" {
			fs.current = key
		}
		if len(c.keys.Missing(f.Requires()...)) > 0 {
			fs.state = StateNeedCredential
		}
	case errors.Is(err, credential.ErrMissingCredential):
		fs.state = StateNeedCredential
		fs.lastError = NewErrorView(err)
		outcome = KindMissingCredential
	default:
		fs.state = StateError
		fs.lastError = NewErrorView(err)
		outcome = fs.lastError.Kind
	}
	c.changedLocked()
	c.mu.Unlock()

	metrics.ObserveProviderCall(string(f), outcome, elapsed)

	var ev *zerolog.Event
	if err != nil {
		ev = c.logger.Warn().Err(err)
	} else {
		ev = c.logger.Info()
	}
	ev.Str("feature", string(f)).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("ACTION_DONE")
}

func (c *Controller) chatRequest() provider.ChatRequest {
	turns := c.conversation.Turns()
	msgs := make([]provider.Message, 0, len(turns)+1)
	if c.cfg.SystemPrompt != "" {
		turns = append([]model.Turn{model.NewSystemTurn(c.cfg.SystemPrompt)}, turns...)
	}
	for _, t := range turns {
		msgs = append(msgs, provider.Message{Role: string(t.Role), Content: t.Content})
	}
	return provider.ChatRequest{Messages: msgs}
}

// =============================================================================
// VIEW MODEL
// =============================================================================

// Snapshot returns a consistent copy of the session for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID:    c.id,
		Features:     make([]FeatureView, 0, len(provider.Features)),
		Conversation: c.conversation.Turns(),
		Images:       c.images.All(),
		Videos:       c.videos.All(),
		News:         c.news.All(),
		Stocks:       c.stocks.All(),
		Crypto:       c.crypto.All(),
		Credentials:  c.keys.Status(provider.KnownProviders),
		UpdatedAt:    c.updatedAt,
	}
	for _, f := range provider.Features {
		snap.Features = append(snap.Features, c.viewLocked(f))
	}
	return snap
}

// FeatureSnapshot returns the view of one feature.
func (c *Controller) FeatureSnapshot(f provider.Feature) FeatureView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(f)
}

// State returns the current state of f.
func (c *Controller) State(f provider.Feature) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.features[f]; ok {
		return fs.state
	}
	return ""
}

// Conversation returns a copy of the chat turns.
func (c *Controller) Conversation() []model.Turn {
	return c.conversation.Turns()
}

func (c *Controller) viewLocked(f provider.Feature) FeatureView {
	fs, ok := c.features[f]
	if !ok {
		return FeatureView{Feature: f}
	}
	view := FeatureView{
		Feature:  f,
		State:    fs.state,
		Required: f.Requires(),
		Missing:  c.keys.Missing(f.Requires()...),
		Current:  fs.current,
	}
	if fs.lastError != nil {
		e := *fs.lastError
		view.LastError = &e
	}
	return view
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Subscribe returns a channel that receives a signal after every change, and
// a cancel func. Signals coalesce; a slow reader sees at least the latest.
// On a closed session the channel is already closed.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	// c.mu orders this against Close, which closes every registered channel.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.closed {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// changedLocked records a change. Callers hold c.mu.
func (c *Controller) changedLocked() {
	c.updatedAt = c.now()
	c.notify()
}

func (c *Controller) notify() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close disposes the session: secrets and buffers are cleared and every
// subscriber channel is closed. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.keys.ClearAll()
	c.conversation.Clear()
	c.images.Clear()
	c.videos.Clear()
	c.news.Clear()
	c.stocks.Clear()
	c.crypto.Clear()
	c.mu.Unlock()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subsMu.Unlock()

	c.logger.Info().Msg("SESSION_CLOSED")
}

// Closed reports whether Close has run.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
