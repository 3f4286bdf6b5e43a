package marketplace

import (
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/validate"
)

type AmazonCredentials struct {
	ClientID      string `json:"client_id" validate:"required"`
	ClientSecret  string `json:"client_secret" validate:"required"`
	RefreshToken  string `json:"refresh_token" validate:"required"`
	Region        string `json:"region,omitempty" validate:"omitempty,oneof=us-east-1 eu-west-1 us-west-2"`
	MarketplaceID string `json:"marketplace_id" validate:"required"`
	SellerID      string `json:"seller_id,omitempty"`
}

// OAuthCredentials is the blob stored for authorization-code channels
// (eBay, Etsy). ExpiresAt is unix seconds.
type OAuthCredentials struct {
	Provider     string `json:"provider"`
	TokenType    string `json:"token_type,omitempty"`
	AccessToken  string `json:"access_token" validate:"required_without=RefreshToken"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Environment  string `json:"environment,omitempty"`
	ShopID       string `json:"shop_id,omitempty"`
}

func (c OAuthCredentials) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
	}
	if c.ExpiresAt > 0 {
		tok.Expiry = time.Unix(c.ExpiresAt, 0)
	}
	return tok
}

// NewOAuthCredentials converts a token response into the stored blob. The
// absolute expiry is the exchange time plus expires_in, as computed by oauth2.
func NewOAuthCredentials(mp catalog.ChannelType, environment string, tok *oauth2.Token) OAuthCredentials {
	c := OAuthCredentials{
		Provider:     string(mp),
		TokenType:    tok.TokenType,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Environment:  environment,
	}
	if !tok.Expiry.IsZero() {
		c.ExpiresAt = tok.Expiry.Unix()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		c.Scope = scope
	}
	return c
}

type ShopifyCredentials struct {
	ShopURL     string `json:"shop_url" validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
	APIVersion  string `json:"api_version,omitempty"`
}

type WalmartCredentials struct {
	ClientID     string `json:"client_id" validate:"required_without=AccessToken"`
	ClientSecret string `json:"client_secret" validate:"required_without=AccessToken"`
	AccessToken  string `json:"access_token,omitempty"`
	Environment  string `json:"environment,omitempty" validate:"omitempty,oneof=SANDBOX PRODUCTION"`
}

// DecodeCredentials parses and validates a channel's credential blob into the
// typed struct for its marketplace. camelCase keys written by older clients
// are accepted.
func DecodeCredentials(mp catalog.ChannelType, raw []byte) (any, error) {
	var target any
	switch mp {
	case catalog.ChannelAmazon:
		target = &AmazonCredentials{}
	case catalog.ChannelEbay, catalog.ChannelEtsy:
		target = &OAuthCredentials{}
	case catalog.ChannelShopify:
		target = &ShopifyCredentials{}
	case catalog.ChannelWalmart:
		target = &WalmartCredentials{}
	default:
		return nil, fmt.Errorf("%w: unknown marketplace %q", ErrCredentials, mp)
	}
	norm, err := normalizeKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	if err := gojson.Unmarshal(norm, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	if w, ok := target.(*WalmartCredentials); ok {
		w.Environment = strings.ToUpper(w.Environment)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	return target, nil
}

var keyAliases = map[string]string{
	"shop_domain": "shop_url",
}

func normalizeKeys(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	var m map[string]any
	if err := gojson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range m {
		snake := toSnake(k)
		if alias, ok := keyAliases[snake]; ok {
			snake = alias
		}
		if _, exists := out[snake]; !exists {
			out[snake] = v
		}
	}
	return gojson.Marshal(out)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
