package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/imei-registry/internal/proxy"
	"github.com/shehryarbajwa/imei-registry/internal/ratelimit"
)

// Routes bundles what SetupRoutes wires in besides the handler. Nil
// members are left out.
type Routes struct {
	Limiter *ratelimit.Limiter
	Debug   *proxy.Server
	Metrics http.Handler
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(opts Routes) http.Handler {
	r := mux.NewRouter()

	// Starting a lookup costs a browser, so it is the rate limited route
	start := r.PathPrefix("/start").Subrouter()
	if opts.Limiter != nil {
		start.Use(RateLimitMiddleware(opts.Limiter))
	}
	start.HandleFunc("/{imei}", h.StartLookup).Methods(http.MethodGet)

	r.HandleFunc("/solve", h.SolveCaptcha).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	if opts.Debug != nil {
		r.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
			opts.Debug.HandleDebugConnection(w, r, mux.Vars(r)["id"])
		}).Methods(http.MethodGet)
	}

	// Wrap the router itself so preflights for any path get answered
	return corsMiddleware(r)
}

// corsMiddleware allows every origin, method and header
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		allowHeaders := r.Header.Get("Access-Control-Request-Headers")
		if allowHeaders == "" {
			allowHeaders = "*"
		}
		w.Header().Set("Access-Control-Allow-Headers", allowHeaders)

		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
