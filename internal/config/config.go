// Package config provides configuration management for corestream using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultHTTPTimeout     = 60 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 5 * time.Second
	defaultFragmentsCache  = 3
	defaultBitrateTol      = 0.1
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transport TransportConfig `mapstructure:"transport"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds the optional debug/introspection HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// TransportConfig holds the injected downloader's request timeouts and
// retry policy for manifest and fragment fetches.
type TransportConfig struct {
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// SchedulerConfig holds scheduler behavior properties: bitrate
// selection, live-edge positioning, and back-pressure, independent of
// whatever HLS/DASH/MSS manifest is being played.
type SchedulerConfig struct {
	// ConnectionSpeed/StartBitrate seed the adapter's initial bandwidth
	// estimate in bits/s before any segment download has completed.
	// 0 means auto (first segment's observed throughput seeds the EMA).
	ConnectionSpeed int64 `mapstructure:"connection_speed"`
	StartBitrate    int64 `mapstructure:"start_bitrate"`

	// MaxVideoWidth/Height/Framerate cap the representation ladder the
	// adapter is allowed to select from. 0 means unbounded.
	MaxVideoWidth     int `mapstructure:"max_video_width"`
	MaxVideoHeight    int `mapstructure:"max_video_height"`
	MaxVideoFramerate int `mapstructure:"max_video_framerate"`

	// PresentationDelay controls how far behind the live edge playback
	// sits for a live playlist, expressed as "Ns", "Nms", or "Nf" (frames,
	// resolved against a representation's frame rate by the caller).
	// Empty string means "use the manifest's suggested_presentation_delay".
	PresentationDelay string `mapstructure:"presentation_delay"`

	// FragmentsCache is a segment count for VOD buffering. Must be >= 2.
	// It is validated and passed through to the scheduler's Config, but
	// the scheduler does not read it, so it does not change how many
	// segments are buffered or when end-of-stream is declared.
	FragmentsCache int `mapstructure:"fragments_cache"`

	// BitrateSwitchTolerance must lie in [0,1]. It is validated and passed
	// through to the scheduler's Config; the bitrate adapter does not read
	// it.
	BitrateSwitchTolerance float64 `mapstructure:"bitrate_switch_tolerance"`

	// MaxQueueSizeBuffers is a per-track fragment-count limit, 0 meaning
	// unbounded. It is loaded only; no component reads it, so no queue is
	// bounded by it.
	MaxQueueSizeBuffers int `mapstructure:"max_queue_size_buffers"`

	// MaxQueueSizeBytes is a byte-based counterpart of MaxQueueSizeBuffers,
	// 0 meaning unbounded. Accepts human-readable values like "8MB". It is
	// loaded only; no component reads it.
	MaxQueueSizeBytes ByteSize `mapstructure:"max_queue_size_bytes"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CORESTREAM_ and use underscores
// for nesting. Example: CORESTREAM_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/corestream")
		v.AddConfigPath("$HOME/.corestream")
	}

	v.SetEnvPrefix("CORESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server (debug HTTP) defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Transport defaults
	v.SetDefault("transport.http_timeout", defaultHTTPTimeout)
	v.SetDefault("transport.retry_attempts", defaultRetryAttempts)
	v.SetDefault("transport.retry_delay", defaultRetryDelay)

	// Scheduler defaults
	v.SetDefault("scheduler.connection_speed", 0)
	v.SetDefault("scheduler.start_bitrate", 0)
	v.SetDefault("scheduler.max_video_width", 0)
	v.SetDefault("scheduler.max_video_height", 0)
	v.SetDefault("scheduler.max_video_framerate", 0)
	v.SetDefault("scheduler.presentation_delay", "")
	v.SetDefault("scheduler.fragments_cache", defaultFragmentsCache)
	v.SetDefault("scheduler.bitrate_switch_tolerance", defaultBitrateTol)
	v.SetDefault("scheduler.max_queue_size_buffers", 0)
	v.SetDefault("scheduler.max_queue_size_bytes", 0)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Scheduler.FragmentsCache < 2 {
		return fmt.Errorf("scheduler.fragments_cache must be at least 2")
	}
	if c.Scheduler.BitrateSwitchTolerance < 0 || c.Scheduler.BitrateSwitchTolerance > 1 {
		return fmt.Errorf("scheduler.bitrate_switch_tolerance must be within [0,1]")
	}
	if c.Scheduler.PresentationDelay != "" {
		if _, _, err := ParsePresentationDelay(c.Scheduler.PresentationDelay); err != nil {
			return fmt.Errorf("scheduler.presentation_delay: %w", err)
		}
	}

	return nil
}

// Address returns the debug server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
