package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

const shutdownTimeout = 30 * time.Second

// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

type serveOptions struct {
	configPath string
	port       int
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Real-time relay for multi-participant, multi-AI chat sessions",
		Long: `chatrelay hosts chat sessions shared by human participants and AI
platforms. Participants connect over websockets at /ws, sessions are managed
through the HTTP API under /api/sessions, and human messages are handed to a
forwarding sink for the browser extension to deliver.

Running without a subcommand starts the server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML config file (default $CHATRELAY_CONFIG_FILE)")
	rootCmd.PersistentFlags().IntVarP(&opts.port, "port", "p", 0, "Override the HTTP port")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd(opts), newVersionCmd())
	return rootCmd
}

func newServeCmd(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatrelay %s (commit: %s)\n", version, commit)
		},
	}
}

// loadConfig applies file > environment > defaults, then flag overrides
func loadConfig(opts *serveOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("CHATRELAY_CONFIG_FILE")
	}

	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.port != 0 {
		cfg.HTTP.Port = opts.port
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	if err := application.Start(ctx); err != nil {
		application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	select {
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down")
	}

	// Timeout context prevents hanging shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
