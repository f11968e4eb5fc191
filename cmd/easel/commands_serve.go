package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/easel/internal/agent"
	"github.com/haasonsaas/easel/internal/auth"
	"github.com/haasonsaas/easel/internal/config"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/orchestrator"
	"github.com/haasonsaas/easel/internal/registry"
	"github.com/haasonsaas/easel/internal/server"
	"github.com/haasonsaas/easel/internal/storage"
	"github.com/haasonsaas/easel/internal/tools"
	"github.com/haasonsaas/easel/internal/workspace"
)

// buildServeCmd creates the "serve" command that starts the Easel server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Easel server",
		Long: `Start the Easel server.

The server listens for WebSocket connections at /ws, serves the REST API
under /api, the public galleries under /public, and Prometheus metrics on
the metrics port. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  easel serve

  # Start with custom config
  easel serve --config /etc/easel/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	applyEnvOverrides(cfg)

	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set EASEL_JWT_SECRET)")
	}
	if cfg.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required (set ANTHROPIC_API_KEY)")
	}
	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	users, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening user database: %w", err)
	}
	defer users.Close()

	var imagine tools.ImagineClient
	if cfg.Imagine.APIKey != "" {
		imagine = tools.NewOpenAIImagineClient(cfg.Imagine.APIKey, cfg.Imagine.Model)
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(signalCtx, registry.Options{
		Root: cfg.Workspace.Root,
		Workspace: workspace.Options{
			CanvasWidth:  cfg.Canvas.Width,
			CanvasHeight: cfg.Canvas.Height,
			MaxBytes:     cfg.Workspace.MaxWorkspaceBytes,
			MaxPending:   cfg.Workspace.MaxPendingStrokes,
			Density:      cfg.Canvas.PathStepsPerUnit,
			SaveDebounce: cfg.Workspace.SaveDebounce,
		},
		Orchestrator: orchestrator.Config{
			Interval:         cfg.Agent.Interval,
			ClientFPS:        cfg.Canvas.ClientFPS,
			AnimationBuffer:  cfg.Canvas.AnimationWaitBuffer,
			MaxAnimationWait: cfg.Canvas.MaxAnimationWait,
			MaxIterations:    cfg.Agent.MaxIterations,
		},
		Sessions: func(runner agent.ToolRunner) (agent.Session, error) {
			return agent.NewAnthropicSession(cfg.Agent.APIKey, "", agent.SessionOptions{
				SystemPrompt:  artistSystemPrompt,
				Tools:         tools.Defs(),
				Runner:        runner,
				Model:         cfg.Agent.Model,
				MaxTokens:     cfg.Agent.MaxTokens,
				MaxIterations: cfg.Agent.MaxIterations,
			}, log)
		},
		Python:           tools.NewPythonRunner(cfg.Agent.PythonBin, cfg.Agent.PythonTimeout),
		Imagine:          imagine,
		ImagineTimeout:   cfg.Imagine.Timeout,
		StrokesPerMinute: cfg.Workspace.MaxStrokesPerMinute,
		ConnsPerUser:     cfg.Server.MaxConnectionsPerUser,
		IdleGracePeriod:  cfg.Workspace.IdleGracePeriod,
		Log:              log,
		Metrics:          metrics,
	})

	srv := server.New(cfg, authSvc, reg, users, version, log, metrics)
	return srv.Run(signalCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("EASEL_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyEnvOverrides lets secrets come from the environment so config files
// stay free of credentials.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("EASEL_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Imagine.APIKey == "" {
		cfg.Imagine.APIKey = v
	}
}

const artistSystemPrompt = `You are a visual artist working on a shared digital canvas.
You draw with vector paths (lines, polylines, quadratic and cubic curves,
and raw SVG path data) using the tools provided. Work in deliberate
passes: study the canvas, add a coherent group of strokes, then look
again. The human you share the canvas with may draw alongside you and
leave you direction; treat their marks and words as part of the piece.
When a piece feels complete, sign it, give it a title, and mark it done.`
