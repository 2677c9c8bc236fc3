// ABOUTME: Entry point for the ghostwire operator console
// ABOUTME: Logs in, then feeds a REPL into the session multiplexer

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ghostwire/ghostwire/internal/console"
	"github.com/ghostwire/ghostwire/internal/opclient"
)

func main() {
	var (
		server   string
		user     string
		password string
	)

	root := &cobra.Command{
		Use:           "ghostwire-console",
		Short:         "ghostwire operator console",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), server, user, password)
		},
	}
	root.Flags().StringVar(&server, "server", "http://127.0.0.1:9090", "coordinator API URL")
	root.Flags().StringVar(&user, "user", "operator", "operator username")
	root.Flags().StringVar(&password, "password", "", "operator password (prompted when empty)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server, user, password string) error {
	if password == "" {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	}

	client := opclient.New(server)
	if err := client.Login(ctx, user, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Connected to %s as %s\n", server, user)

	// Console output is for humans; keep log noise out of the REPL.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := console.NewMultiplexer(client, logger)

	return repl(ctx, mux)
}

func repl(ctx context.Context, mux *console.Multiplexer) error {
	prompt := color.New(color.FgCyan, color.Bold)
	failure := color.New(color.FgRed)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Printf("%s > ", mux.Prompt())
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		output, err := mux.Process(ctx, scanner.Text())
		switch {
		case errors.Is(err, console.ErrExit):
			return nil
		case err != nil:
			failure.Printf("✗ %v\n", err)
		case output != "":
			fmt.Println(output)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
