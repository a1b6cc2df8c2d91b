package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/canvasnet"
	"github.com/luciancaetano/canvasnet/internal/config"
	"github.com/luciancaetano/canvasnet/internal/logging"
	"github.com/luciancaetano/canvasnet/internal/protocol"
	"github.com/luciancaetano/canvasnet/internal/tasks"
	"github.com/luciancaetano/canvasnet/internal/websocket"
)

const stopTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configBase string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket session server",
		Long: `Start the session server. Settings are read from <config>.json or
<config>.toml; when neither exists a default <config>.toml is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configBase)
		},
	}
	cmd.Flags().StringVar(&configBase, "config", "config", "Config file path without extension")
	return cmd
}

func runServe(parent context.Context, configBase string) error {
	logger := logging.ConfigureRuntime()

	settings, path, err := config.Load(configBase)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info().Str("path", path).Msg("configuration loaded")

	var corpus *protocol.Corpus
	if settings.DescriptorSet != "" {
		corpus, err = protocol.LoadCorpusFile(settings.DescriptorSet)
		if err != nil {
			return err
		}
		logger.Info().Int("schemas", corpus.Len()).Msg("protobuf descriptor set loaded")
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	server := websocket.New(&websocket.ServerConfig{
		Settings: settings,
		Corpus:   corpus,
		Logger:   &logger,
	})

	running, _ := tasks.Spawn(ctx, server,
		tasks.Entry[*websocket.Server]{Name: "webserver", Run: runWebserver},
	)

	i, err := tasks.FirstExit(ctx, running)
	if i >= 0 {
		logger.Warn().Str("task", running[i].Name).AnErr("reason", err).Msg("task exited")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if stopErr := server.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, canvasnet.ErrServerNotRunning) {
		logger.Error().Err(stopErr).Msg("shutdown incomplete")
	}

	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("interrupted, shut down")
		return nil
	}
	return err
}

// runWebserver serves until ctx ends. Start only fails on bind errors.
func runWebserver(ctx context.Context, server *websocket.Server) error {
	if err := server.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}
