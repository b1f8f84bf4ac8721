// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "fmt"

// Set holds one client per feature.
type Set struct {
	Chat   *ChatClient
	Image  *ImageClient
	Video  *VideoClient
	Stocks *StockClient
	Crypto *CryptoClient
	News   *NewsClient
}

// NewSet builds every feature client over the same keyring and options.
func NewSet(keys Keyring, opts Options) *Set {
	return &Set{
		Chat:   NewChatClient(keys, opts),
		Image:  NewImageClient(keys, opts),
		Video:  NewVideoClient(keys, opts),
		Stocks: NewStockClient(keys, opts),
		Crypto: NewCryptoClient(keys, opts),
		News:   NewNewsClient(keys, opts),
	}
}

// Invoker returns the client serving f.
func (s *Set) Invoker(f Feature) (Invoker, error) {
	var inv Invoker
	switch f {
	case FeatureChat:
		inv = s.Chat
	case FeatureImage:
		inv = s.Image
	case FeatureVideo:
		inv = s.Video
	case FeatureStocks:
		inv = s.Stocks
	case FeatureCrypto:
		inv = s.Crypto
	case FeatureNews:
		inv = s.News
	default:
		return nil, fmt.Errorf("unknown feature %q", f)
	}
	return inv, nil
}

// Requires returns the credential ids the chat client needs.
func (c *ChatClient) Requires() []string { return FeatureChat.Requires() }

// Requires returns the credential ids the image client needs.
func (c *ImageClient) Requires() []string { return FeatureImage.Requires() }

// Requires returns the credential ids the video client needs.
func (c *VideoClient) Requires() []string { return FeatureVideo.Requires() }

// Requires returns the credential ids the stock client needs.
func (c *StockClient) Requires() []string { return FeatureStocks.Requires() }

// Requires returns the credential ids the crypto client needs.
func (c *CryptoClient) Requires() []string { return FeatureCrypto.Requires() }

// Requires returns the credential ids the news client needs.
func (c *NewsClient) Requires() []string { return FeatureNews.Requires() }
