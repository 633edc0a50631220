package main

import (
	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML-decoded shape of the daemon's config file. The
// library's own writeq.Config stays a plain Go struct with
// package-level defaults; this only governs the demo process.
type fileConfig struct {
	Server struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"server"`

	Engine struct {
		WriteSpinCount   int   `toml:"write_spin_count"`
		WatermarkLow     int64 `toml:"watermark_low"`
		WatermarkHigh    int64 `toml:"watermark_high"`
		VectorLimitCount int   `toml:"vector_limit_count"`
	} `toml:"engine"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

func defaultFileConfig() fileConfig {
	var cfg fileConfig
	cfg.Server.ListenAddr = "127.0.0.1:9090"
	cfg.Log.Level = "info"
	return cfg
}

// loadConfig decodes path into a fileConfig seeded with defaults, so a
// config file only needs to mention the keys it overrides.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}
