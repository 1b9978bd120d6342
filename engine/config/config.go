package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/rendercore/engine/core"
)

type Log struct {
	Level string `toml:"level"`
}

type AutoParams struct {
	MinBufferSize uint64 `toml:"min_buffer_size"`
	MaxBufferSize uint64 `toml:"max_buffer_size"`
	Alignment     uint64 `toml:"alignment"`
	HistoryFrames int    `toml:"history_frames"`
}

type Renderer struct {
	// Preferred driver name. Empty selects the first registered driver.
	Device               string     `toml:"device"`
	MaxFramesInFlight    int        `toml:"max_frames_in_flight"`
	FramebufferCacheSize int        `toml:"framebuffer_cache_size"`
	DebugLabels          bool       `toml:"debug_labels"`
	AutoParams           AutoParams `toml:"auto_params"`
}

type Config struct {
	Log      Log      `toml:"log"`
	Renderer Renderer `toml:"renderer"`
}

func Default() *Config {
	return &Config{
		Log: Log{
			Level: "info",
		},
		Renderer: Renderer{
			Device:               "",
			MaxFramesInFlight:    3,
			FramebufferCacheSize: 64,
			DebugLabels:          true,
			AutoParams: AutoParams{
				MinBufferSize: 64 * 1024,
				MaxBufferSize: 16 * 1024 * 1024,
				Alignment:     256,
				HistoryFrames: 60,
			},
		},
	}
}

// Load reads the file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config file %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a TOML document on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		err = fmt.Errorf("failed to decode config: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) Validate() error {
	var err error
	ap := c.Renderer.AutoParams
	switch {
	case c.Renderer.MaxFramesInFlight < 1:
		err = fmt.Errorf("renderer.max_frames_in_flight must be >= 1, got %d", c.Renderer.MaxFramesInFlight)
	case c.Renderer.FramebufferCacheSize < 1:
		err = fmt.Errorf("renderer.framebuffer_cache_size must be >= 1, got %d", c.Renderer.FramebufferCacheSize)
	case ap.Alignment == 0 || ap.Alignment&(ap.Alignment-1) != 0:
		err = fmt.Errorf("renderer.auto_params.alignment must be a power of two, got %d", ap.Alignment)
	case ap.MinBufferSize == 0:
		err = fmt.Errorf("renderer.auto_params.min_buffer_size must be > 0")
	case ap.MaxBufferSize < ap.MinBufferSize:
		err = fmt.Errorf("renderer.auto_params.max_buffer_size (%d) is smaller than min_buffer_size (%d)", ap.MaxBufferSize, ap.MinBufferSize)
	case ap.HistoryFrames < 1:
		err = fmt.Errorf("renderer.auto_params.history_frames must be >= 1, got %d", ap.HistoryFrames)
	}
	if err == nil {
		if _, lerr := parseLevel(c.Log.Level); lerr != nil {
			err = fmt.Errorf("log.level: %w", lerr)
		}
	}
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	return nil
}

func parseLevel(level string) (log.Level, error) {
	return log.ParseLevel(level)
}
