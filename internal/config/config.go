// Package config loads and validates the Easel server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Easel.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Canvas    CanvasConfig    `yaml:"canvas"`
	Agent     AgentConfig     `yaml:"agent"`
	Imagine   ImagineConfig   `yaml:"imagine"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`

	// MaxConnectionsPerUser caps simultaneous sockets per user. 0 = unlimited.
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`

	// ShutdownTimeout bounds connection drain and task join during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type DatabaseConfig struct {
	// Path is the sqlite database file for user records and invite codes.
	Path string `yaml:"path"`
}

type WorkspaceConfig struct {
	// Root is the base directory for per-user workspace state.
	Root string `yaml:"root"`

	// MaxWorkspaceBytes caps the serialized workspace.json size; older
	// canvas strokes are trimmed when exceeded.
	MaxWorkspaceBytes int `yaml:"max_workspace_bytes"`

	// MaxPendingStrokes caps the pending stroke queue; oldest entries are
	// dropped to make room for new batches.
	MaxPendingStrokes int `yaml:"max_pending_strokes"`

	// MaxStrokesPerMinute rate-limits human stroke messages per user.
	MaxStrokesPerMinute int `yaml:"max_strokes_per_minute"`

	// IdleGracePeriod is how long a workspace stays active with no
	// connections before it is deactivated.
	IdleGracePeriod time.Duration `yaml:"idle_grace_period"`

	// SaveDebounce coalesces rapid state saves into one deferred write.
	SaveDebounce time.Duration `yaml:"save_debounce"`
}

type CanvasConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// PathStepsPerUnit is the interpolation density in steps per unit of
	// path length.
	PathStepsPerUnit float64 `yaml:"path_steps_per_unit"`

	// ClientFPS, AnimationWaitBuffer, and MaxAnimationWait size the
	// orchestrator's draw-gate:
	// wait = min(points/ClientFPS + AnimationWaitBuffer, MaxAnimationWait).
	ClientFPS           float64       `yaml:"client_fps"`
	AnimationWaitBuffer time.Duration `yaml:"animation_wait_buffer"`
	MaxAnimationWait    time.Duration `yaml:"max_animation_wait"`
}

type AgentConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// MaxIterations bounds tool-use round trips within one turn.
	MaxIterations int `yaml:"max_iterations"`

	// Interval is the orchestrator loop's safety-net wake period.
	Interval time.Duration `yaml:"interval"`

	// PythonBin and PythonTimeout govern the generate_svg sandbox.
	PythonBin     string        `yaml:"python_bin"`
	PythonTimeout time.Duration `yaml:"python_timeout"`
}

type ImagineConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in the
// file are expanded before parsing, so secrets can be injected as
// ${EASEL_JWT_SECRET} and similar.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.MaxConnectionsPerUser < 0 {
		cfg.Server.MaxConnectionsPerUser = 0
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "easel.db"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "workspaces"
	}
	if cfg.Workspace.MaxWorkspaceBytes == 0 {
		cfg.Workspace.MaxWorkspaceBytes = 8 << 20
	}
	if cfg.Workspace.MaxPendingStrokes == 0 {
		cfg.Workspace.MaxPendingStrokes = 2000
	}
	if cfg.Workspace.MaxStrokesPerMinute == 0 {
		cfg.Workspace.MaxStrokesPerMinute = 120
	}
	if cfg.Workspace.IdleGracePeriod == 0 {
		cfg.Workspace.IdleGracePeriod = 5 * time.Minute
	}
	if cfg.Workspace.SaveDebounce == 0 {
		cfg.Workspace.SaveDebounce = 2 * time.Second
	}
	if cfg.Canvas.Width == 0 {
		cfg.Canvas.Width = 1024
	}
	if cfg.Canvas.Height == 0 {
		cfg.Canvas.Height = 768
	}
	if cfg.Canvas.PathStepsPerUnit == 0 {
		cfg.Canvas.PathStepsPerUnit = 0.5
	}
	if cfg.Canvas.ClientFPS == 0 {
		cfg.Canvas.ClientFPS = 360
	}
	if cfg.Canvas.AnimationWaitBuffer == 0 {
		cfg.Canvas.AnimationWaitBuffer = 500 * time.Millisecond
	}
	if cfg.Canvas.MaxAnimationWait == 0 {
		cfg.Canvas.MaxAnimationWait = 30 * time.Second
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 12
	}
	if cfg.Agent.Interval == 0 {
		cfg.Agent.Interval = 45 * time.Second
	}
	if cfg.Agent.PythonBin == "" {
		cfg.Agent.PythonBin = "python3"
	}
	if cfg.Agent.PythonTimeout == 0 {
		cfg.Agent.PythonTimeout = 20 * time.Second
	}
	if cfg.Imagine.Model == "" {
		cfg.Imagine.Model = "dall-e-3"
	}
	if cfg.Imagine.Timeout == 0 {
		cfg.Imagine.Timeout = 60 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
