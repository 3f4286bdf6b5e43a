package marketplace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gojson "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

// base implements Client for every marketplace; the concrete clients only
// differ in base URL, token source and the headers they attach.
type base struct {
	mp      catalog.ChannelType
	baseURL string
	tr      *Transport
	tokens  *tokenCache
	headers func(h http.Header, accessToken string)
}

func (b *base) Marketplace() catalog.ChannelType { return b.mp }

func (b *base) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	return b.tokens.Token(ctx)
}

func (b *base) Request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := b.do(ctx, method, path, query, body, out)
	return err
}

// do is Request plus the response headers, needed for Link pagination.
func (b *base) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	tok, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		raw, err := gojson.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request body: %w", b.mp, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", b.mp, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	b.headers(req.Header, tok.AccessToken)

	res, err := b.tr.Do(ctx, b.mp, req)
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status > 299 {
		return res.Header, &UpstreamError{Marketplace: b.mp.DisplayName(), Status: res.Status, Body: strings.TrimSpace(string(res.Body))}
	}
	if out != nil && res.Status != http.StatusNoContent && len(bytes.TrimSpace(res.Body)) > 0 {
		if err := gojson.Unmarshal(res.Body, out); err != nil {
			return res.Header, fmt.Errorf("decode %s %s response: %w", b.mp, path, err)
		}
	}
	return res.Header, nil
}

func bearer(h http.Header, accessToken string) {
	h.Set("Authorization", "Bearer "+accessToken)
}
