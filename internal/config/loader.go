package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by [ApplyEnv]. The license normally
// arrives this way, loaded from a .env file by the CLI.
const (
	EnvLicense   = "NAVTALK_LICENSE"
	EnvHost      = "NAVTALK_HOST"
	EnvModel     = "NAVTALK_MODEL"
	EnvCharacter = "NAVTALK_CHARACTER"
	EnvVoice     = "NAVTALK_VOICE"
)

// Load reads the YAML configuration file at path on top of [Default] and
// returns a validated [Config] with environment overrides applied. A missing
// file is not an error; defaults and environment are used alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env + defaults
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			if err := decodeInto(cfg, f); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with any set NAVTALK_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvLicense); v != "" {
		cfg.Service.License = v
	}
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Service.Host = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Session.Model = v
	}
	if v := os.Getenv(EnvCharacter); v != "" {
		cfg.Session.Character = v
	}
	if v := os.Getenv(EnvVoice); v != "" {
		cfg.Session.Voice = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// An empty license is deliberately allowed: the session manager surfaces a
// user-facing message at connect time instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Service.Host == "" {
		errs = append(errs, errors.New("service.host is required"))
	}
	if cfg.Service.Path == "" {
		errs = append(errs, errors.New("service.path is required"))
	}
	if cfg.Session.Model == "" {
		errs = append(errs, errors.New("session.model is required"))
	}
	if cfg.Session.Voice == "" {
		errs = append(errs, errors.New("session.voice is required"))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must be positive", cfg.Audio.ChunkSize))
	}
	if cfg.History.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d must be positive", cfg.History.MaxEntries))
	}
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("log.max_size_mb %d must be positive when log.file is set", cfg.Log.MaxSizeMB))
	}

	return errors.Join(errs...)
}
