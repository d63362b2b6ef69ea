// roomcast - live broadcast room ingestion engine
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/roomcast/internal/checkpoint"
	"github.com/ashureev/roomcast/internal/config"
	"github.com/ashureev/roomcast/internal/engine"
	"github.com/ashureev/roomcast/internal/roomapi"
	"github.com/ashureev/roomcast/internal/signing"
	"github.com/ashureev/roomcast/internal/status"
)

var (
	saveInterval int
	logLevel     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomcast ROOM_ID",
		Short: "Ingest a broadcast room's real-time event feed",
		Long: `roomcast connects to a live broadcast room's push feed, classifies chat,
gift, member, like, follow and room-stats events, aggregates them per
session, and checkpoints the aggregate to JSON files.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}

	rootCmd.Flags().IntVar(&saveInterval, "save-interval", 300, "checkpoint interval in seconds")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, roomID string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if saveInterval > 0 {
		cfg.SaveInterval = time.Duration(saveInterval) * time.Second
	}

	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("room id cannot be empty")
	}

	slog.Info("Starting roomcast",
		"room_id", roomID,
		"save_interval", cfg.SaveInterval.String(),
		"signer", cfg.SignerAddr,
	)

	signerCfg := signing.DefaultGrpcGatewayConfig()
	signerCfg.Address = cfg.SignerAddr
	signerCfg.RequestTimeout = cfg.SigningTimeout
	gateway, err := signing.NewGrpcGateway(signerCfg, logger)
	if err != nil {
		return fmt.Errorf("signer unavailable: %w", err)
	}
	defer gateway.Close()

	store, err := checkpoint.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	resolver := roomapi.NewResolver(cfg.LiveBaseURL, cfg.HTTPTimeout, logger)
	eng := engine.New(cfg, roomID, gateway, resolver, store, logger)

	if cfg.StatusAddr != "" {
		statusSrv := status.NewServer(cfg.StatusAddr, eng, logger)
		go statusSrv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			statusSrv.Shutdown(shutdownCtx)
		}()
	}

	if err := eng.Run(ctx); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
