package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/aochat/internal/engine"
	transphttp "github.com/snehjoshi/aochat/internal/transport/http"
	"github.com/snehjoshi/aochat/internal/transport/websocket"
)

func newRunCmd(gf *globalFlags) *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the chat: print messages and send each line typed on stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), gf, serve, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "also start the local HTTP/WebSocket surface (server.enabled)")
	return cmd
}

func runChat(ctx context.Context, gf *globalFlags, serve bool, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ── 1. Load configuration and logger ─────────────────────────────────────
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}
	if serve {
		cfg.Server.Enabled = true
	}

	// ── 2. Resolve session, remote client and history store ──────────────────
	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	slog.Info("aochat starting",
		"node", cfg.Node.URL,
		"process", cfg.Node.ProcessID,
		"session", st.state.SessionID,
		"username", st.state.Username,
		"auth", st.state.AuthMethod,
	)

	// ── 3. Build the engine and the console adapter ──────────────────────────
	eng := st.newEngine()
	defer eng.Destroy()
	eng.Subscribe(newConsole(out))

	// ── 4. Start the local HTTP / WebSocket surface ──────────────────────────
	var (
		srv      *transphttp.Server
		hub      *websocket.Hub
		serveErr = make(chan error, 1)
	)
	if cfg.Server.Enabled {
		hub = websocket.NewHub(eng, slog.Default())
		eng.Subscribe(hub)
		srv = transphttp.New(eng, hub, st.sessions, cfg, st.metrics)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("http surface listening", "addr", addr)
			if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	// ── 5. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, st.metrics.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 6. Load history and start polling ────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := eng.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// ── 7. Read stdin ────────────────────────────────────────────────────────
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		readInput(runCtx, eng, in, out)
	}()

	// ── 8. Graceful shutdown on SIGINT / SIGTERM / end of input ──────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case <-inputDone:
		slog.Info("input closed, shutting down")
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	if srv != nil {
		shutCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		hub.Close()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
	}

	slog.Info("aochat stopped")
	return nil
}

// readInput sends every non-empty line as a chat message. Lines starting with
// '/' are commands: /refresh, /stats, /quit.
func readInput(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/refresh":
			if err := eng.Refresh(ctx); err != nil {
				fmt.Fprintf(out, "* refresh failed: %v\n", err)
			}
		case line == "/stats":
			b, _ := json.MarshalIndent(eng.Stats(), "", "  ")
			fmt.Fprintf(out, "%s\n", b)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "* unknown command %s (try /refresh, /stats, /quit)\n", line)
		default:
			// Failures are reported through the console adapter.
			_, _ = eng.Send(ctx, line, "")
		}
	}
}
