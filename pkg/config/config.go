package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`

		Reconnect struct {
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			MaxAttempts  int           `yaml:"max_attempts"`
		} `yaml:"reconnect"`
	} `yaml:"signal"`

	Studio struct {
		MaxParticipants int `yaml:"max_participants"`
		MaxOnStage      int `yaml:"max_on_stage"`
	} `yaml:"studio"`

	Compositor struct {
		FrameRate  int     `yaml:"frame_rate"`
		Width      int     `yaml:"width"`
		Height     int     `yaml:"height"`
		MasterGain float64 `yaml:"master_gain"`

		VerticalCrop struct {
			Enabled         bool    `yaml:"enabled"`
			SmoothingFactor float64 `yaml:"smoothing_factor"`
		} `yaml:"vertical_crop"`
	} `yaml:"compositor"`

	Streaming struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
		Jitter       bool          `yaml:"jitter"`

		HealthInterval     time.Duration `yaml:"health_interval"`
		DegradedLossRatio  float64       `yaml:"degraded_loss_ratio"`
		MinBitrateKbps     int           `yaml:"min_bitrate_kbps"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

		RelayControlURL string `yaml:"relay_control_url"`
	} `yaml:"streaming"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Chat struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"chat"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("signal.reconnect.initial_delay must be > 0")
	}
	if c.Signal.Reconnect.MaxDelay < c.Signal.Reconnect.InitialDelay {
		return fmt.Errorf("signal.reconnect.max_delay must be >= initial_delay")
	}

	// Studio
	if c.Studio.MaxParticipants <= 0 {
		return fmt.Errorf("studio.max_participants must be > 0")
	}
	if c.Studio.MaxOnStage <= 0 || c.Studio.MaxOnStage > c.Studio.MaxParticipants {
		return fmt.Errorf("studio.max_on_stage must be > 0 and <= max_participants")
	}

	// Compositor
	if c.Compositor.FrameRate <= 0 || c.Compositor.FrameRate > 120 {
		return fmt.Errorf("compositor.frame_rate must be in (0, 120]")
	}
	if c.Compositor.Width <= 0 || c.Compositor.Height <= 0 {
		return fmt.Errorf("compositor dimensions must be > 0")
	}
	if c.Compositor.MasterGain < 0 || c.Compositor.MasterGain > 1 {
		return fmt.Errorf("compositor.master_gain must be in [0, 1]")
	}
	if c.Compositor.VerticalCrop.Enabled {
		f := c.Compositor.VerticalCrop.SmoothingFactor
		if f <= 0 || f > 1 {
			return fmt.Errorf("compositor.vertical_crop.smoothing_factor must be in (0, 1]")
		}
	}

	// Streaming
	if c.Streaming.MaxAttempts < 0 {
		return fmt.Errorf("streaming.max_attempts must be >= 0")
	}
	if c.Streaming.InitialDelay <= 0 {
		return fmt.Errorf("streaming.initial_delay must be > 0")
	}
	if c.Streaming.MaxDelay < c.Streaming.InitialDelay {
		return fmt.Errorf("streaming.max_delay must be >= initial_delay")
	}
	if c.Streaming.Multiplier < 1 {
		return fmt.Errorf("streaming.multiplier must be >= 1")
	}
	if c.Streaming.HealthInterval <= 0 {
		return fmt.Errorf("streaming.health_interval must be > 0")
	}
	if c.Streaming.DegradedLossRatio <= 0 || c.Streaming.DegradedLossRatio >= 1 {
		return fmt.Errorf("streaming.degraded_loss_ratio must be in (0, 1)")
	}
	if c.Streaming.NegotiationTimeout <= 0 {
		return fmt.Errorf("streaming.negotiation_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Chat
	if c.Chat.MessagesPerSecond <= 0 {
		return fmt.Errorf("chat.messages_per_second must be > 0")
	}
	if c.Chat.Burst <= 0 {
		return fmt.Errorf("chat.burst must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file next to the process is honored before the environment is read.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.RateLimitRPS = 20
	cfg.Server.RateLimitBurst = 40

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Signal.Reconnect.MaxDelay = 30 * time.Second
	cfg.Signal.Reconnect.MaxAttempts = 0 // unbounded; clients resync on success

	cfg.Studio.MaxParticipants = 50
	cfg.Studio.MaxOnStage = 10

	cfg.Compositor.FrameRate = 30
	cfg.Compositor.Width = 1280
	cfg.Compositor.Height = 720
	cfg.Compositor.MasterGain = 1.0
	cfg.Compositor.VerticalCrop.Enabled = false
	cfg.Compositor.VerticalCrop.SmoothingFactor = 0.2

	cfg.Streaming.MaxAttempts = 5
	cfg.Streaming.InitialDelay = 500 * time.Millisecond
	cfg.Streaming.MaxDelay = 30 * time.Second
	cfg.Streaming.Multiplier = 2.0
	cfg.Streaming.Jitter = true
	cfg.Streaming.HealthInterval = 2 * time.Second
	cfg.Streaming.DegradedLossRatio = 0.05
	cfg.Streaming.MinBitrateKbps = 200
	cfg.Streaming.NegotiationTimeout = 15 * time.Second
	cfg.Streaming.RelayControlURL = "http://localhost:8085"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 12 * time.Hour

	cfg.Chat.MessagesPerSecond = 5
	cfg.Chat.Burst = 10

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("STAGECAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STAGECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("STAGECAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("STAGECAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
