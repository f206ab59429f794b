// Command aochat is a terminal and browser chat client for an AO process
// hosted on a HyperBEAM node.
//
// Usage:
//
//	aochat run     [--config config.yaml] [--serve]
//	aochat send    "hello world"
//	aochat history [-n 20]
//	aochat session [reset]
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/aochat/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aochat: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	nodeURL    string
	processID  string
	username   string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags
	root := &cobra.Command{
		Use:           "aochat",
		Short:         "Chat client for an AO process on a HyperBEAM node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "config.yaml", "path to config file")
	pf.StringVar(&gf.nodeURL, "node", "", "node base URL (overrides node.url)")
	pf.StringVarP(&gf.processID, "process", "p", "", "process id (overrides node.process_id)")
	pf.StringVarP(&gf.username, "username", "u", "", "display name (overrides chat.username)")
	pf.StringVar(&gf.dataDir, "data-dir", "", "state directory (overrides state.data_dir)")
	pf.StringVar(&gf.logLevel, "log-level", "", "debug | info | warn | error")

	root.AddCommand(
		newRunCmd(&gf),
		newSendCmd(&gf),
		newHistoryCmd(&gf),
		newSessionCmd(&gf),
	)
	return root
}

// loadConfig reads the config file, applies flag overrides, validates it and
// installs the default logger.
func loadConfig(gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if gf.nodeURL != "" {
		cfg.Node.URL = gf.nodeURL
	}
	if gf.processID != "" {
		cfg.Node.ProcessID = gf.processID
	}
	if gf.username != "" {
		cfg.Chat.Username = gf.username
	}
	if gf.dataDir != "" {
		cfg.State.DataDir = gf.dataDir
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	slog.SetDefault(newLogger(cfg.Log))
	return cfg, nil
}

// newLogger builds the slog logger described by cfg. Logs go to stderr so
// they never interleave with chat output on stdout.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
