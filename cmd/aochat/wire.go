package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/snehjoshi/aochat/internal/config"
	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/history"
	"github.com/snehjoshi/aochat/internal/metrics"
	"github.com/snehjoshi/aochat/internal/session"
	"github.com/snehjoshi/aochat/internal/types"
	"github.com/snehjoshi/aochat/pkg/client"
)

// stack is the set of components every command builds on.
type stack struct {
	cfg      *config.Config
	sessions *session.Store
	state    session.State
	client   *client.Client
	store    *history.Store
	metrics  *metrics.Registry
}

// openStack resolves the session and builds the remote client and history
// store for cfg.
func openStack(cfg *config.Config) (*stack, error) {
	sessions, err := session.Open(cfg.State.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	st, err := sessions.Resolve(cfg.Node.ProcessID, cfg.Chat.Username, cfg.Chat.WalletAddress, time.Now())
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	opts := []client.ClientOption{
		client.WithSessionID(st.SessionID),
		client.WithTimeout(config.Duration(cfg.Node.TimeoutMs)),
		client.WithCountPath(cfg.Node.CountPath),
	}
	if cfg.Node.RequestRate > 0 {
		opts = append(opts, client.WithRateLimit(cfg.Node.RequestRate, cfg.Node.RequestBurst))
	}
	c := client.New(cfg.Node.URL, cfg.Node.ProcessID, opts...)

	store := history.New(c, history.Options{
		CacheSize:     cfg.History.CacheSize,
		CacheTTL:      config.Duration(cfg.History.CacheTTLMs),
		SlotScanLimit: cfg.History.SlotScanLimit,
		Logger:        slog.Default(),
	})

	return &stack{
		cfg:      cfg,
		sessions: sessions,
		state:    st,
		client:   c,
		store:    store,
		metrics:  &metrics.Registry{},
	}, nil
}

// identity is the sender identity resolved for this session.
func (s *stack) identity() types.Identity {
	return types.Identity{Username: s.state.Username, WalletAddress: s.state.WalletAddress}
}

// newEngine builds an engine that persists any wallet the node reveals.
func (s *stack) newEngine() *engine.Engine {
	pid := s.cfg.Node.ProcessID
	return engine.New(s.client, s.store, s.cfg,
		engine.WithLogger(slog.Default()),
		engine.WithMetrics(s.metrics),
		engine.WithIdentity(s.identity()),
		engine.WithWalletHook(func(w string) {
			if err := s.sessions.AdoptWallet(pid, w); err != nil {
				slog.Warn("persist wallet failed", "err", err)
			}
		}),
	)
}

// Close records the session's last-seen time and releases the state file.
func (s *stack) Close() {
	if err := s.sessions.Touch(s.cfg.Node.ProcessID, time.Now()); err != nil {
		slog.Warn("session touch failed", "err", err)
	}
	if err := s.sessions.Close(); err != nil {
		slog.Warn("session store close error", "err", err)
	}
}
