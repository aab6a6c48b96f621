package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonicline/backend/internal/action"
	"github.com/sonicline/backend/internal/chatlog"
	"github.com/sonicline/backend/internal/config"
	"github.com/sonicline/backend/internal/health"
	"github.com/sonicline/backend/internal/observability"
	"github.com/sonicline/backend/internal/session"
	"github.com/sonicline/backend/internal/ws"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, port, pretty)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human-readable log output")
	return cmd
}

func runServe(configPath string, port int, pretty bool) error {
	logger := observability.InitLogger("soniclined", pretty)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	probe, err := health.NewProbe()
	if err != nil {
		return fmt.Errorf("init health probe: %w", err)
	}

	registry := session.NewRegistry(session.Options{
		HistoryLimit: cfg.Session.HistoryLimit,
		SessionTTL:   cfg.Session.SessionTTL.Std(),
		ReapInterval: cfg.Session.ReapInterval.Std(),
	}, logger)
	registry.Start(context.Background())
	defer registry.Close()

	actions := action.NewRegistry(logger)
	registerBuiltinActions(actions)

	chat := chatlog.New(cfg.Chat.LogLimit)
	server := ws.NewServer(cfg, registry, actions, chat, probe, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

// registerBuiltinActions installs the handlers the server itself provides.
// Real collaborators (blockchain, LLM, voice) register theirs here when
// embedding the server.
func registerBuiltinActions(actions *action.Registry) {
	actions.Register("ping", func(ctx context.Context, params any) (any, error) {
		return map[string]any{
			"pong":      true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	})
}
