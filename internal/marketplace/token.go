package marketplace

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/metrics"
)

// ExpiryMargin is how long before expiry a cached token is considered stale.
const ExpiryMargin = 60 * time.Second

// TokenHook receives every freshly exchanged token, e.g. to persist a
// rotated OAuth credential. An error from the hook does not fail the request.
type TokenHook func(ctx context.Context, tok *oauth2.Token) error

// tokenCache holds one client instance's access token. It is never shared
// between channels.
type tokenCache struct {
	mp        catalog.ChannelType
	now       func() time.Time
	fetch     func(ctx context.Context) (*oauth2.Token, error)
	onRefresh TokenHook
	onHookErr func(error)

	mu  sync.Mutex
	tok *oauth2.Token
}

func newTokenCache(mp catalog.ChannelType, now func() time.Time, fetch func(ctx context.Context) (*oauth2.Token, error)) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{mp: mp, now: now, fetch: fetch}
}

// staticTokens serves a long-lived token that is never exchanged.
func staticTokens(mp catalog.ChannelType, accessToken string) *tokenCache {
	tc := newTokenCache(mp, nil, nil)
	tc.tok = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	return tc
}

// seed primes the cache with a stored token so a still-valid credential is
// used without an exchange.
func (c *tokenCache) seed(tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = tok
}

func (c *tokenCache) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.now().Add(ExpiryMargin).Before(tok.Expiry)
}

func (c *tokenCache) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh(c.tok) {
		return c.tok, nil
	}
	if c.fetch == nil {
		return nil, &AuthError{Marketplace: c.mp.DisplayName(), Err: ErrCredentials}
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(string(c.mp), "error").Inc()
		return nil, &AuthError{Marketplace: c.mp.DisplayName(), Err: describeTokenError(err)}
	}
	if tok.AccessToken == "" {
		metrics.TokenRefreshesTotal.WithLabelValues(string(c.mp), "error").Inc()
		return nil, &AuthError{Marketplace: c.mp.DisplayName(), Err: ErrCredentials}
	}
	metrics.TokenRefreshesTotal.WithLabelValues(string(c.mp), "ok").Inc()
	c.tok = tok
	if c.onRefresh != nil {
		if err := c.onRefresh(ctx, tok); err != nil && c.onHookErr != nil {
			c.onHookErr(err)
		}
	}
	return tok, nil
}

// describeTokenError keeps the status and body of a token endpoint rejection.
func describeTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &UpstreamError{Marketplace: "token endpoint", Status: re.Response.StatusCode, Body: string(re.Body)}
	}
	return err
}
