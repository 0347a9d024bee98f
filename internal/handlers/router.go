package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/dermai-api/internal/books"
	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/ui"
)

// RouterConfig collects everything the HTTP surface serves.
type RouterConfig struct {
	API   *Handler
	UI    *ui.Handler
	Books books.Store
	// CORSOrigins limits cross-origin access; empty allows any origin.
	CORSOrigins []string
	// RequestTimeout bounds request contexts; zero disables it.
	RequestTimeout time.Duration
}

// NewRouter builds the service router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(enableCORS(cfg.CORSOrigins...))
	if cfg.RequestTimeout > 0 {
		r.Use(withDeadline(cfg.RequestTimeout))
	}

	r.Get("/health", cfg.API.Health)
	r.Post("/predict", cfg.API.Predict)
	r.Get("/api/predictions", cfg.API.Predictions)
	r.Get("/api/cache", cfg.API.CacheStats)
	r.Delete("/api/cache", cfg.API.PurgeCache)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.UI != nil {
		cfg.UI.Register(r)
	}
	if cfg.Books != nil {
		bh := &books.Handlers{Store: cfg.Books}
		r.Mount("/api/books", bh.Routes())
	}
	r.Post("/blog", books.Blog)

	return r
}

// withDeadline cancels the request context after d. Unlike
// middleware.Timeout it writes nothing itself: handlers see the expired
// context and answer through their own error path.
func withDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func enableCORS(allowedOrigins ...string) func(http.Handler) http.Handler {
	allowAny := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, value := range allowedOrigins {
		if origin := strings.TrimSpace(value); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAny {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
