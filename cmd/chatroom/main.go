package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatroom/internal/app"
	"chatroom/internal/config"
	"chatroom/internal/logging"
)

// Main entry point; SIGINT/SIGTERM trigger a graceful shutdown.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling.
// It serves until ctx is cancelled, then shuts down within the configured
// timeout.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chatroom", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CHATROOM_CONFIG_FILE"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Console: cfg.IsDevelopment() || strings.EqualFold(cfg.Logging.Format, "console"),
		Service: "chatroom",
		Room:    cfg.Room.Name,
	})

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Serve until cancelled
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
