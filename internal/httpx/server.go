package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/auth"
)

type RouterConfig struct {
	Log            *zap.Logger
	Verifier       *auth.Verifier
	SessionCookie  string
	RequestTimeout time.Duration // every route except sync runs
	SyncTimeout    time.Duration
	SyncPerMinute  int // per-user limit on sync endpoints
}

func NewRouter(cfg RouterConfig, api *API) *chi.Mux {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.SyncPerMinute <= 0 {
		cfg.SyncPerMinute = 30
	}
	api.SyncTimeout = cfg.SyncTimeout

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(cfg.Log), middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier, cfg.SessionCookie))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			api.RegisterCatalog(r)
			api.RegisterChannels(r)
			api.RegisterListings(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(cfg.SyncPerMinute, time.Minute, httprate.WithKeyFuncs(userKey)))
			api.RegisterSync(r)
		})
	})
	return r
}
