package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stemquina/pkg/spec"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration: defaults, then an optional YAML
// file, then STEMQUINA_* environment overrides.
type Config struct {
	// Session
	Library      string  `yaml:"library"`
	Socket       string  `yaml:"socket"`
	TickMs       int     `yaml:"tick_ms"`
	MasterVolume float64 `yaml:"master_volume"`
	Repeat       bool    `yaml:"repeat"`
	CountIn      bool    `yaml:"count_in"`
	BufferMs     int     `yaml:"buffer_ms"` // speaker buffer

	// Separation
	SeparatorCommand string `yaml:"separator_command"`
	SeparatorModel   string `yaml:"separator_model"`
	Workers          int    `yaml:"workers"`
	TempDir          string `yaml:"temp_dir"`

	// Client
	HistoryFile string `yaml:"history_file"`
}

func Default() Config {
	history := ".stemquina_history"
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, history)
	}
	return Config{
		Library:          "./database",
		Socket:           "/tmp/stemquina.sock",
		TickMs:           int(spec.TickInterval / time.Millisecond),
		MasterVolume:     spec.MasterVolume,
		Repeat:           true,
		CountIn:          false,
		BufferMs:         100,
		SeparatorCommand: "python3 -m demucs.separate",
		SeparatorModel:   "htdemucs",
		Workers:          1,
		TempDir:          "./demucs_temp",
		HistoryFile:      history,
	}
}

// Load builds a Config. An empty path or a missing file skips the YAML
// step; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Default(), fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Library = envStr("STEMQUINA_LIBRARY", c.Library)
	c.Socket = envStr("STEMQUINA_SOCKET", c.Socket)
	c.TickMs = envInt("STEMQUINA_TICK_MS", c.TickMs)
	c.MasterVolume = envFloat("STEMQUINA_MASTER_VOLUME", c.MasterVolume)
	c.Repeat = envBool("STEMQUINA_REPEAT", c.Repeat)
	c.CountIn = envBool("STEMQUINA_COUNT_IN", c.CountIn)
	c.BufferMs = envInt("STEMQUINA_BUFFER_MS", c.BufferMs)
	c.SeparatorCommand = envStr("STEMQUINA_SEPARATOR", c.SeparatorCommand)
	c.SeparatorModel = envStr("STEMQUINA_MODEL", c.SeparatorModel)
	c.Workers = envInt("STEMQUINA_WORKERS", c.Workers)
	c.TempDir = envStr("STEMQUINA_TEMP", c.TempDir)
	c.HistoryFile = envStr("STEMQUINA_HISTORY", c.HistoryFile)
}

// Normalize clamps out-of-range values back into range.
func (c *Config) Normalize() {
	if c.TickMs < 5 {
		c.TickMs = 5
	}
	if c.TickMs > 100 {
		c.TickMs = 100
	}
	c.MasterVolume = max(spec.GainMin, min(spec.GainMax, c.MasterVolume))
	if c.BufferMs < 10 {
		c.BufferMs = 10
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if strings.TrimSpace(c.SeparatorCommand) == "" {
		c.SeparatorCommand = Default().SeparatorCommand
	}
	if c.SeparatorModel == "" {
		c.SeparatorModel = Default().SeparatorModel
	}
}

func (c Config) Tick() time.Duration   { return time.Duration(c.TickMs) * time.Millisecond }
func (c Config) Buffer() time.Duration { return time.Duration(c.BufferMs) * time.Millisecond }

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
