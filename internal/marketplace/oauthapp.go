package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/metrics"
)

const (
	EnvSandbox    = "SANDBOX"
	EnvProduction = "PRODUCTION"
)

// App is a registered OAuth application of an authorization-code
// marketplace. The URL fields override the environment defaults.
type App struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Environment  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	APIBase  string
}

func (a App) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != "" && a.RedirectURI != ""
}

func (a App) sandbox() bool { return !strings.EqualFold(a.Environment, EnvProduction) }

func (a App) env() string {
	if a.sandbox() {
		return EnvSandbox
	}
	return EnvProduction
}

// endpoints resolves the three URLs, letting explicit overrides win.
type endpoints struct{ auth, token, api string }

func (a App) resolve(sandbox, production endpoints) endpoints {
	ep := production
	if a.sandbox() {
		ep = sandbox
	}
	if a.AuthURL != "" {
		ep.auth = a.AuthURL
	}
	if a.TokenURL != "" {
		ep.token = a.TokenURL
	}
	if a.APIBase != "" {
		ep.api = a.APIBase
	}
	return ep
}

// codeFlow is the authorization-code plumbing shared by eBay and Etsy.
type codeFlow struct {
	mp   catalog.ChannelType
	app  App
	conf *oauth2.Config
	tr   *Transport
	pkce bool
}

func newCodeFlow(mp catalog.ChannelType, app App, ep endpoints, style oauth2.AuthStyle, defaultScopes []string, tr *Transport, pkce bool) *codeFlow {
	scopes := app.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &codeFlow{
		mp:  mp,
		app: app,
		tr:  tr,
		conf: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURI,
			Scopes:       scopes,
			Endpoint:     oauth2.Endpoint{AuthURL: ep.auth, TokenURL: ep.token, AuthStyle: style},
		},
		pkce: pkce,
	}
}

func (f *codeFlow) Marketplace() catalog.ChannelType { return f.mp }

func (f *codeFlow) Environment() string { return f.app.env() }

func (f *codeFlow) AuthorizeURL(state string) (string, string) {
	if !f.pkce {
		return f.conf.AuthCodeURL(state), ""
	}
	verifier := oauth2.GenerateVerifier()
	return f.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), verifier
}

func (f *codeFlow) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if !f.app.Configured() {
		return nil, fmt.Errorf("%s: %w", f.mp, ErrNotConfigured)
	}
	var opts []oauth2.AuthCodeOption
	if f.pkce {
		if verifier == "" {
			return nil, &AuthError{Marketplace: f.mp.DisplayName(), Err: fmt.Errorf("%w: missing PKCE verifier", ErrCredentials)}
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := f.conf.Exchange(f.tr.oauthContext(ctx), code, opts...)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(string(f.mp), "error").Inc()
		return nil, &AuthError{Marketplace: f.mp.DisplayName(), Err: describeTokenError(err)}
	}
	metrics.TokenRefreshesTotal.WithLabelValues(string(f.mp), "ok").Inc()
	return tok, nil
}

// tokens returns the per-instance cache for a stored OAuth credential: the
// stored access token is used until it nears expiry, then the refresh token
// is exchanged.
func (f *codeFlow) tokens(creds OAuthCredentials, now func() time.Time) *tokenCache {
	refresh := creds.RefreshToken
	// fetch runs under the cache mutex, so refresh needs no extra locking.
	tc := newTokenCache(f.mp, now, func(ctx context.Context) (*oauth2.Token, error) {
		if refresh == "" {
			return nil, fmt.Errorf("%w: access token expired and no refresh token stored", ErrCredentials)
		}
		tok, err := f.conf.TokenSource(f.tr.oauthContext(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
		if err != nil {
			return nil, err
		}
		// Etsy rotates refresh tokens; eBay omits them and oauth2 keeps the old one.
		refresh = tok.RefreshToken
		return tok, nil
	})
	if creds.AccessToken != "" {
		tc.seed(creds.Token())
	}
	return tc
}
