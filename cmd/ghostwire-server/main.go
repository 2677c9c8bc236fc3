// ABOUTME: Entry point for the ghostwire coordination server
// ABOUTME: Serves agent listeners and the operator management API

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/ghostwire/ghostwire/internal/config"
	"github.com/ghostwire/ghostwire/internal/dispatch"
	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/ledger"
	"github.com/ghostwire/ghostwire/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _               _            _
  __ _| |__   ___  ___| |___      _(_)_ __ ___
 / _' | '_ \ / _ \/ __| __\ \ /\ / / | '__/ _ \
| (_| | | | | (_) \__ \ |_ \ V  V /| | | |  __/
 \__, |_| |_|\___/|___/\__| \_/\_/ |_|_|  \___|
 |___/
`

func main() {
	root := &cobra.Command{
		Use:           "ghostwire-server",
		Short:         "ghostwire coordination server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to server config")

	root.AddCommand(serveCmd(), initCmd(), healthCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// defaultConfigPath resolves the server config location.
// Priority: GHOSTWIRE_CONFIG env var > XDG_CONFIG_HOME/ghostwire/server.yaml >
// ~/.config/ghostwire/server.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("GHOSTWIRE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ghostwire", "server.yaml")
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the coordination server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("API:       %s\n", cfg.Server.APIAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	for _, l := range cfg.Listeners {
		green.Print("    ▶ ")
		fmt.Printf("Listener:  %s:%d (%s)\n", l.Host, l.Port, l.Name)
	}
	fmt.Println()

	logger.Info("starting ghostwire-server",
		"config", configPath,
		"api_addr", cfg.Server.APIAddr,
		"listeners", len(cfg.Listeners),
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	bus := events.NewBus(logger)
	led := ledger.New(st, bus, logger)
	defer led.Close()

	var metrics *dispatch.Metrics
	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		metrics = dispatch.NewMetrics(promReg)
	}

	opts := []dispatch.Option{}
	if metrics != nil {
		opts = append(opts, dispatch.WithMetrics(metrics))
	}
	if cfg.Agents.SweepSchedule != "" {
		opts = append(opts, dispatch.WithSweepSchedule(cfg.Agents.SweepSchedule))
	}
	svc := dispatch.NewService(st, led, bus, logger, opts...)
	if err := svc.StartSweep(); err != nil {
		return fmt.Errorf("starting status sweep: %w", err)
	}
	defer svc.StopSweep()

	checkin := dispatch.CheckinHandler(svc, logger)
	lm := dispatch.NewListenerManager(checkin, st, bus, metrics, logger)
	lm.ExchangeTimeout = cfg.Agents.CheckinTimeout
	for _, l := range cfg.Listeners {
		if _, err := lm.Start(ctx, dispatch.ListenerSpec{
			Name:     l.Name,
			Host:     l.Host,
			Port:     l.Port,
			CertFile: l.CertFile,
			KeyFile:  l.KeyFile,
		}); err != nil {
			return fmt.Errorf("starting listener %s: %w", l.Name, err)
		}
	}
	defer lm.StopAll(context.Background())

	auth := dispatch.NewAuthenticator(cfg.Auth.Operator, cfg.Auth.OperatorHash, []byte(cfg.Auth.JWTSecret))
	api := dispatch.NewAPIServer(svc, lm, auth, promReg, logger)
	if cfg.Metrics.Enabled {
		api.MetricsPath = cfg.Metrics.Path
	}
	apiSrv := &http.Server{
		Addr:              cfg.Server.APIAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("operator API listening", "addr", cfg.Server.APIAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	bus.Publish(events.KindServerStarted, map[string]any{"version": version}, "server")

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("operator API failed: %w", err)
	}

	bus.Publish(events.KindServerStopped, nil, "server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("operator API drain incomplete", "error", err)
	}
	return nil
}

func initCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a server config with fresh credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runInit(configPath, operator)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "operator username")
	return cmd
}

// runInit writes a starter config: random JWT secret, bcrypt hash of a
// password read from the terminal, one plain HTTP listener.
func runInit(configPath, operator string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	fmt.Print("Operator password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`server:
  api_addr: "127.0.0.1:9090"

listeners:
  - name: "primary"
    host: "0.0.0.0"
    port: 8080

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  operator: "%s"
  operator_hash: "%s"

agents:
  checkin_timeout: "30s"
  sweep_schedule: "@every 1m"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`, filepath.Join(filepath.Dir(configPath), "ghostwire.db"), secret, operator, string(hash))

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Config written to %s\n", configPath)
	return nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runHealth(cmd.Context(), configPath)
		},
	}
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.APIAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
