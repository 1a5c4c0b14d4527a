package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biswa/tourcall-signal/internal/config"
	"github.com/biswa/tourcall-signal/internal/server"
)

func newServeCmd() *cobra.Command {
	cfg, envErr := config.FromEnv(os.LookupEnv)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		LegacySocketIO:    cfg.LegacySocketIO,
		WSPath:            cfg.WSPath,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MaxMessagesPerSecond,
		QueueSize:         cfg.QueueSize,
		ScreenRequestTTL:  cfg.ScreenRequestTTL,
		SweepInterval:     cfg.SweepInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}
