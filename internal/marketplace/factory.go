package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

// CredentialSink persists a channel's rotated credential blob.
type CredentialSink func(ctx context.Context, creds json.RawMessage) error

// Factory builds a fresh client per channel per run. Clients never share a
// token cache; only the Transport is process-wide.
type Factory struct {
	Transport      *Transport
	Ebay           App
	Etsy           App
	AmazonTokenURL string
	OrderLookback  time.Duration
	Now            func() time.Time
	Log            *zap.Logger

	// base URL overrides, used against fake marketplaces
	AmazonEndpoint string
	ShopifyBaseURL string
	WalmartBaseURL string
}

// New decodes ch's credentials and returns its marketplace client. For OAuth
// channels every refreshed token is handed to sink as a new credential blob.
func (f *Factory) New(ch *catalog.Channel, sink CredentialSink) (Client, error) {
	creds, err := DecodeCredentials(ch.Type, ch.Credentials)
	if err != nil {
		return nil, err
	}
	switch c := creds.(type) {
	case *AmazonCredentials:
		return NewAmazon(f.Transport, *c, AmazonOptions{
			Endpoint: f.AmazonEndpoint,
			TokenURL: f.AmazonTokenURL,
			Lookback: f.OrderLookback,
			Now:      f.Now,
		}), nil
	case *OAuthCredentials:
		var (
			cl  Client
			tc  *tokenCache
			env string
		)
		if ch.Type == catalog.ChannelEbay {
			e := NewEbay(f.Transport, f.Ebay, *c, f.Now)
			cl, tc, env = e, e.tokens, firstNonEmpty(c.Environment, f.Ebay.env())
		} else {
			e := NewEtsy(f.Transport, f.Etsy, *c, f.Now)
			cl, tc, env = e, e.tokens, firstNonEmpty(c.Environment, f.Etsy.env())
		}
		if sink != nil {
			shopID := c.ShopID
			tc.onRefresh = func(ctx context.Context, tok *oauth2.Token) error {
				next := NewOAuthCredentials(ch.Type, env, tok)
				next.ShopID = shopID
				raw, err := gojson.Marshal(next)
				if err != nil {
					return err
				}
				return sink(ctx, raw)
			}
			tc.onHookErr = func(err error) {
				f.logger().Warn("persist refreshed token failed",
					zap.String("channel_id", ch.ID), zap.String("marketplace", string(ch.Type)), zap.Error(err))
			}
		}
		return cl, nil
	case *ShopifyCredentials:
		return NewShopify(f.Transport, *c, f.ShopifyBaseURL), nil
	case *WalmartCredentials:
		return NewWalmart(f.Transport, *c, WalmartOptions{BaseURL: f.WalmartBaseURL, Now: f.Now}), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, ch.Type)
}

// Authorizer returns the authorization-code flow for eBay or Etsy.
func (f *Factory) Authorizer(mp catalog.ChannelType) (Authorizer, error) {
	var app App
	switch mp {
	case catalog.ChannelEbay:
		app = f.Ebay
	case catalog.ChannelEtsy:
		app = f.Etsy
	default:
		return nil, fmt.Errorf("%w: %s has no OAuth flow", ErrUnsupported, mp)
	}
	if !app.Configured() {
		return nil, fmt.Errorf("%s: %w", mp, ErrNotConfigured)
	}
	if mp == catalog.ChannelEbay {
		return NewEbayAuthorizer(f.Transport, app), nil
	}
	return NewEtsyAuthorizer(f.Transport, app), nil
}

func (f *Factory) logger() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}
