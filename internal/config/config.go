// Package config loads the gateway's server configuration from an optional
// YAML file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/realtime-stt-lab/internal/voice"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	WhisperURL       string `yaml:"whisper_url"`
	WhisperTimeoutMs int    `yaml:"whisper_timeout_ms"`
	// ScorerURL selects the HTTP scorer; empty uses the built-in energy scorer.
	ScorerURL       string `yaml:"scorer_url"`
	ScorerTimeoutMs int    `yaml:"scorer_timeout_ms"`

	MaxSessions                int `yaml:"max_sessions"`
	MaxConcurrentTranscription int `yaml:"max_concurrent_transcriptions"`
	TranscriptionQueueSize     int `yaml:"transcription_queue_size"`

	SaveAudio SaveAudioConfig `yaml:"save_audio"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MCPRegistryURL, when set, is sent a registration record pointing at
	// AdvertiseURL on startup.
	MCPRegistryURL string `yaml:"mcp_registry_url"`
	AdvertiseURL   string `yaml:"advertise_url"`

	// Session holds the defaults every new session starts from.
	Session voice.SessionConfig `yaml:"session"`
}

// SaveAudioConfig controls the debug capture of accepted utterances.
type SaveAudioConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
	Interval  time.Duration `yaml:"cleanup_interval"`
	MaxFiles  int           `yaml:"max_files"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ListenAddr:                 ":8080",
		LogLevel:                   "info",
		WhisperTimeoutMs:           30000,
		ScorerTimeoutMs:            500,
		MaxConcurrentTranscription: 8,
		TranscriptionQueueSize:     4,
		SaveAudio: SaveAudioConfig{
			Retention: 24 * time.Hour,
			Interval:  time.Minute,
			MaxFiles:  1000,
		},
		ShutdownTimeout: 10 * time.Second,
		Session:         voice.DefaultSessionConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if set, then environment overrides. The result is validated.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults and validates the result.
// Environment overrides are not applied.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from the environment. getenv is os.Getenv outside
// tests.
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: not an integer", key, v))
				return
			}
			*dst = n
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("WHISPER_URL", &cfg.WhisperURL)
	num("WHISPER_TIMEOUT_MS", &cfg.WhisperTimeoutMs)
	str("SCORER_URL", &cfg.ScorerURL)
	num("SCORER_TIMEOUT_MS", &cfg.ScorerTimeoutMs)
	num("MAX_SESSIONS", &cfg.MaxSessions)
	num("MAX_CONCURRENT_TRANSCRIPTIONS", &cfg.MaxConcurrentTranscription)
	num("TRANSCRIPTION_QUEUE_SIZE", &cfg.TranscriptionQueueSize)
	str("MCP_URL", &cfg.MCPRegistryURL)
	str("ADVERTISE_URL", &cfg.AdvertiseURL)

	if v := strings.ToLower(strings.TrimSpace(getenv("SAVE_AUDIO_ENABLED"))); v != "" {
		cfg.SaveAudio.Enabled = v == "true" || v == "1" || v == "yes"
	}
	str("SAVE_AUDIO_DIR", &cfg.SaveAudio.Dir)
	num("SAVE_AUDIO_MAX_FILES", &cfg.SaveAudio.MaxFiles)
	if v := strings.TrimSpace(getenv("SAVE_AUDIO_RETENTION_HOURS")); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SAVE_AUDIO_RETENTION_HOURS=%q: not an integer", v))
		} else {
			cfg.SaveAudio.Retention = time.Duration(h) * time.Hour
		}
	}

	if v := strings.TrimSpace(getenv("VAD_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("VAD_THRESHOLD=%q: not a number", v))
		} else {
			cfg.Session.VAD.Threshold = f
		}
	}
	str("DEFAULT_LANG", &cfg.Session.Transcription.Language)
	str("WHISPER_MODEL", &cfg.Session.Transcription.Model)
	str("DEVICE", &cfg.Session.Transcription.Device)
	str("COMPUTE_TYPE", &cfg.Session.Transcription.ComputeType)

	return errors.Join(errs...)
}

// Validate returns a joined error listing every problem found.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr is required"))
	}
	if c.WhisperTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("whisper_timeout_ms must be > 0"))
	}
	if c.ScorerURL != "" && c.ScorerTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("scorer_timeout_ms must be > 0"))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("max_sessions must be >= 0"))
	}
	if c.MaxConcurrentTranscription < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_transcriptions must be >= 1"))
	}
	if c.TranscriptionQueueSize < 1 {
		errs = append(errs, fmt.Errorf("transcription_queue_size must be >= 1"))
	}
	if c.SaveAudio.Enabled {
		if strings.TrimSpace(c.SaveAudio.Dir) == "" {
			errs = append(errs, fmt.Errorf("save_audio.dir is required when save_audio.enabled"))
		}
		if c.SaveAudio.Interval <= 0 {
			errs = append(errs, fmt.Errorf("save_audio.cleanup_interval must be > 0"))
		}
	}
	if c.MCPRegistryURL != "" && c.AdvertiseURL == "" {
		errs = append(errs, fmt.Errorf("advertise_url is required when mcp_registry_url is set"))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WhisperTimeout is WhisperTimeoutMs as a duration.
func (c Config) WhisperTimeout() time.Duration {
	return time.Duration(c.WhisperTimeoutMs) * time.Millisecond
}

// ScorerTimeout is ScorerTimeoutMs as a duration.
func (c Config) ScorerTimeout() time.Duration {
	return time.Duration(c.ScorerTimeoutMs) * time.Millisecond
}
