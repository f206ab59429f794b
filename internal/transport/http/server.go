// Package http provides the local HTTP surface of aochat.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /                 chat page
//	GET    /health
//	GET    /api/messages     displayed list snapshot
//	POST   /api/messages     send (rate limited per client IP)
//	POST   /api/refresh      clear and reload history
//	GET    /api/stats
//	GET    /api/session
//	GET    /ws               live updates (see package websocket)
//	GET    /metrics
package http

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/snehjoshi/aochat/internal/config"
	"github.com/snehjoshi/aochat/internal/metrics"
)

//go:embed static/index.html
var chatHTML []byte

// Server wraps the stdlib HTTP server with aochat route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around an engine. hub serves /ws and may be nil;
// sessions and reg may be nil as well.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(eng Engine, hub http.Handler, sessions SessionReader, cfg *config.Config, reg *metrics.Registry) *Server {
	h := &Handler{
		eng:       eng,
		sessions:  sessions,
		processID: cfg.Node.ProcessID,
		started:   time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	// Chat
	send := RateLimitMiddleware(float64(cfg.Server.SendRate), cfg.Server.SendBurst)(http.HandlerFunc(h.sendMessage))
	mux.HandleFunc("GET /api/messages", h.listMessages)
	mux.Handle("POST /api/messages", send)
	mux.HandleFunc("POST /api/refresh", h.refresh)

	// Introspection
	mux.HandleFunc("GET /api/stats", h.stats)
	mux.HandleFunc("GET /api/session", h.session)

	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(chatHTML)
	})

	// Build middleware chain: CORS → body limit → logging → auth
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware(int64(cfg.Server.MaxBodyKB)<<10),
		LoggingMiddleware(reg),
		AuthMiddleware(cfg.Server.APIKey, cfg.Server.APIKey != ""),
	)

	return &Server{
		inner: &http.Server{
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			// Long enough for a push to the node to complete.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. "127.0.0.1:8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
