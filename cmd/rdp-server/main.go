// Command rdp-server exposes a Linux/Wayland desktop over RDP. It wires
// together internal/config, internal/session, and internal/server behind
// a cobra command tree, following api/pkg/desktop/desktop.go's
// top-level-flag-then-run shape (IntuitionAmiga-IntuitionEngine/LanternOps-breeze's
// agent/cmd/breeze-agent/main.go supplied the rootCmd/subcommand/init()
// wiring itself, since the teacher has no cmd/ entry point of its own).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lamco/rdp-server/internal/config"
	"github.com/lamco/rdp-server/internal/credstore"
	"github.com/lamco/rdp-server/internal/server"
	"github.com/lamco/rdp-server/internal/session"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rdp-server",
	Short: "RDP server for a Linux/Wayland desktop",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start accepting RDP connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect or clear the persisted capture restore token",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "Report whether a restore token is currently persisted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTokensList(cmd.Context())
	},
}

var tokensClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted restore token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTokensClear(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file merged into the environment before load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensClearCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokensCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfigFile merges an optional YAML file named by --config into the
// process environment so config.Load's existing envconfig.Process pass
// picks up its values, keeping internal/config itself untouched. Absent
// --config this is a no-op: every field already has an envconfig default.
func loadConfigFile() error {
	if cfgFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		envKey := "RDP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if _, set := os.LookupEnv(envKey); set {
			continue
		}
		if err := os.Setenv(envKey, fmt.Sprintf("%v", v.Get(key))); err != nil {
			return fmt.Errorf("apply config key %q: %w", key, err)
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runServe(parentCtx context.Context) error {
	if err := loadConfigFile(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger()

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	srv, err := server.New(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server run: %w", err)
	}
	return nil
}

func dataHome() string {
	if home := os.Getenv("XDG_DATA_HOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func runTokensList(ctx context.Context) error {
	log := newLogger()
	store := session.CredentialStore(ctx, log, dataHome())

	tok, ok, err := store.Load(ctx, session.RestoreTokenName)
	if err != nil {
		return fmt.Errorf("load restore token: %w", err)
	}
	if !ok {
		fmt.Printf("no restore token persisted (backend: %s)\n", store.Name())
		return nil
	}
	defer credstore.Zero(tok)
	fmt.Printf("restore token persisted (backend: %s, %d bytes)\n", store.Name(), len(tok))
	return nil
}

func runTokensClear(ctx context.Context) error {
	log := newLogger()
	store := session.CredentialStore(ctx, log, dataHome())

	if err := store.Delete(ctx, session.RestoreTokenName); err != nil {
		return fmt.Errorf("delete restore token: %w", err)
	}
	fmt.Printf("restore token cleared (backend: %s)\n", store.Name())
	return nil
}
