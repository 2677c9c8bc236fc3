// ABOUTME: Entry point for the ghostwire agent
// ABOUTME: Runs the check-in loop against a coordinator until terminated

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghostwire/ghostwire/internal/agent"
	"github.com/ghostwire/ghostwire/internal/config"
	"github.com/ghostwire/ghostwire/internal/modules"
)

func main() {
	var (
		server   string
		sleep    int
		jitter   int
		agentID  string
		profile  string
		insecure bool
		verbose  bool
	)

	root := &cobra.Command{
		Use:           "ghostwire-agent",
		Short:         "ghostwire remote agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := agent.Config{
				ServerURL:     server,
				AgentID:       agentID,
				SleepInterval: sleep,
				JitterPercent: jitter,
				InsecureTLS:   insecure,
			}

			// Profile values fill anything the flags left unset.
			if profile != "" {
				p, err := config.LoadProfile(profile)
				if err != nil {
					return err
				}
				if cfg.ServerURL == "" {
					cfg.ServerURL = p.Server
				}
				if cfg.AgentID == "" {
					cfg.AgentID = p.AgentID
				}
				if !cmd.Flags().Changed("sleep") && p.SleepInterval > 0 {
					cfg.SleepInterval = p.SleepInterval
				}
				if !cmd.Flags().Changed("jitter") && p.JitterPercent > 0 {
					cfg.JitterPercent = p.JitterPercent
				}
				if p.UserAgent != "" {
					cfg.UserAgent = p.UserAgent
				}
				if p.InsecureTLS {
					cfg.InsecureTLS = true
				}
			}
			if cfg.ServerURL == "" {
				return fmt.Errorf("a coordinator URL is required (--server or profile)")
			}

			return run(cmd.Context(), cfg, verbose)
		},
	}

	root.Flags().StringVar(&server, "server", "", "coordinator URL")
	root.Flags().IntVar(&sleep, "sleep", 60, "sleep interval in seconds")
	root.Flags().IntVar(&jitter, "jitter", 10, "jitter percent [0,50]")
	root.Flags().StringVar(&agentID, "id", "", "fixed agent id (generated when empty)")
	root.Flags().StringVar(&profile, "profile", "", "path to a TOML agent profile")
	root.Flags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg agent.Config, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry := modules.NewRegistry(logger)
	b := agent.New(cfg, registry, logger)

	if err := registry.Register(ctx, agent.NewCoreModule(b, b.ID())); err != nil {
		return fmt.Errorf("registering core module: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		registry.Shutdown(shutdownCtx)
	}()

	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Run(ctx)
}
