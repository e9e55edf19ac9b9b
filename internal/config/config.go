package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/extbridge/internal/logging"
	"github.com/danmuck/extbridge/internal/protocol/dispatch"
	"github.com/rs/zerolog"
)

// BridgeConfig is the resolved configuration shared by the host CLI and the
// worker process.
type BridgeConfig struct {
	Session    dispatch.Config
	Log        logging.Config
	WorkerPath string
	WorkerArgs []string
}

type fileConfig struct {
	Name            string   `toml:"name"`
	MaxPayloadBytes int64    `toml:"max_payload_bytes"`
	MaxDepth        int      `toml:"max_depth"`
	LogLevel        string   `toml:"log_level"`
	LogTimestamp    bool     `toml:"log_timestamp"`
	LogNoColor      bool     `toml:"log_no_color"`
	WorkerPath      string   `toml:"worker_path"`
	WorkerArgs      []string `toml:"worker_args"`
}

func Default(profile logging.Profile) BridgeConfig {
	return BridgeConfig{
		Session:    dispatch.DefaultConfig(),
		Log:        logging.DefaultConfig(profile),
		WorkerPath: "extworker",
	}
}

// Load overlays the keys defined in path onto base. An empty path returns
// base unchanged.
func Load(path string, base BridgeConfig) (BridgeConfig, error) {
	cfg := base
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return BridgeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return BridgeConfig{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Session.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 || raw.MaxPayloadBytes > int64(^uint32(0)) {
			return BridgeConfig{}, fmt.Errorf("max_payload_bytes out of range: %d", raw.MaxPayloadBytes)
		}
		cfg.Session.Frame.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("max_depth") {
		cfg.Session.Codec.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return BridgeConfig{}, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log_timestamp") {
		cfg.Log.Timestamp = raw.LogTimestamp
	}
	if meta.IsDefined("log_no_color") {
		cfg.Log.NoColor = raw.LogNoColor
	}
	if meta.IsDefined("worker_path") {
		cfg.WorkerPath = strings.TrimSpace(raw.WorkerPath)
	}
	if meta.IsDefined("worker_args") {
		cfg.WorkerArgs = append([]string(nil), raw.WorkerArgs...)
	}

	if err := Validate(cfg); err != nil {
		return BridgeConfig{}, err
	}
	return cfg, nil
}

func Validate(cfg BridgeConfig) error {
	if strings.TrimSpace(cfg.Session.Name) == "" {
		return fmt.Errorf("bridge config missing name")
	}
	if cfg.Session.Codec.MaxDepth < 4 {
		return fmt.Errorf("max_depth must be at least 4, got %d", cfg.Session.Codec.MaxDepth)
	}
	if cfg.Session.Frame.MaxPayloadBytes == 0 {
		return fmt.Errorf("max_payload_bytes must be positive")
	}
	if cfg.Log.Level < zerolog.TraceLevel {
		return fmt.Errorf("invalid log level %v", cfg.Log.Level)
	}
	return nil
}
