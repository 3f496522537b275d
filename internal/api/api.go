// Package api provides the HTTP entry points for EnquiryBot.
//
// It exposes the chat endpoint the website widget talks to, plus a small
// admin surface for listing enquiries and retriggering CRM sync. The chat
// handler is the only path into the flow engine and always runs behind the
// request deduplication guard.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CampusKit/enquirybot/internal/dedup"
	"github.com/CampusKit/enquirybot/internal/flow"
	"github.com/CampusKit/enquirybot/internal/mcb"
	"github.com/CampusKit/enquirybot/internal/store"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr   string
	Syncer *mcb.Syncer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSyncer wires the CRM sync adapter into the admin retry endpoint.
func WithSyncer(s *mcb.Syncer) Option {
	return func(o *Opts) { o.Syncer = s }
}

// Server wires the flow engine, the dedup guard and the record store behind
// the HTTP surface.
type Server struct {
	engine *flow.Engine
	guard  *dedup.Guard
	store  store.Store
	syncer *mcb.Syncer
	addr   string
}

// NewServer creates the API server.
func NewServer(engine *flow.Engine, guard *dedup.Guard, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine: engine,
		guard:  guard,
		store:  st,
		syncer: cfg.Syncer,
		addr:   cfg.Addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.chatHandler)
	mux.HandleFunc("GET /enquiries", s.listEnquiriesHandler)
	mux.HandleFunc("POST /enquiries/{number}/sync", s.syncEnquiryHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}
