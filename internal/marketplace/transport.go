package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/metrics"
)

const maxResponseBody = 10 << 20

type TransportConfig struct {
	Timeout        time.Duration
	RequestsPerSec float64 // <= 0 disables client-side limiting
	Burst          int
	// BreakerFailures consecutive 5xx/transport failures open the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Transport is the process-wide HTTP plumbing shared by every client: one
// http.Client plus a circuit breaker and a rate limiter per marketplace.
// It holds no credentials.
type Transport struct {
	http *http.Client
	cfg  TransportConfig
	log  *zap.Logger

	mu       sync.Mutex
	breakers map[catalog.ChannelType]*gobreaker.CircuitBreaker[*response]
	limiters map[catalog.ChannelType]*rate.Limiter
}

type response struct {
	Status int
	Header http.Header
	Body   []byte
}

func NewTransport(cfg TransportConfig, log *zap.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Transport{
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		log:      log,
		breakers: map[catalog.ChannelType]*gobreaker.CircuitBreaker[*response]{},
		limiters: map[catalog.ChannelType]*rate.Limiter{},
	}
}

// oauthContext makes x/oauth2 token calls use the shared client.
func (t *Transport) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, t.http)
}

func (t *Transport) breaker(mp catalog.ChannelType) *gobreaker.CircuitBreaker[*response] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[mp]; ok {
		return cb
	}
	threshold := t.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        string(mp),
		MaxRequests: 1,
		Timeout:     t.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn("marketplace circuit breaker state change",
				zap.String("marketplace", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})
	t.breakers[mp] = cb
	return cb
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

func (t *Transport) limiter(mp catalog.ChannelType) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[mp]; ok {
		return l
	}
	limit := rate.Inf
	if t.cfg.RequestsPerSec > 0 {
		limit = rate.Limit(t.cfg.RequestsPerSec)
	}
	l := rate.NewLimiter(limit, t.cfg.Burst)
	t.limiters[mp] = l
	return l
}

// Do sends req once. 5xx, 429 and transport errors count against the
// marketplace breaker; other statuses are returned for the caller to judge.
func (t *Transport) Do(ctx context.Context, mp catalog.ChannelType, req *http.Request) (*response, error) {
	if err := t.limiter(mp).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", mp, err)
	}
	start := time.Now()
	res, err := t.breaker(mp).Execute(func() (*response, error) {
		resp, err := t.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", mp, err)
		}
		r := &response{Status: resp.StatusCode, Header: resp.Header, Body: body}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return r, &UpstreamError{Marketplace: mp.DisplayName(), Status: r.Status, Body: string(body)}
		}
		return r, nil
	})
	code := 0
	if res != nil {
		code = res.Status
	}
	metrics.ObserveMarketplaceRequest(string(mp), code, time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &UpstreamError{Marketplace: mp.DisplayName(), Status: http.StatusServiceUnavailable, Body: "circuit open: " + err.Error()}
	}
	return res, err
}
