package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const DefaultPath = "config/mixer.json"

type AppConfig struct {
	Logging  LoggingConfig  `json:"logging"`
	Mixer    MixerConfig    `json:"mixer"`
	Monitor  MonitorConfig  `json:"monitor"`
	Output   OutputConfig   `json:"output"`
	Settings SettingsConfig `json:"settings"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MixerConfig struct {
	MasterVolume      float64            `json:"master_volume"`
	TickRate          int                `json:"tick_rate"`
	FadeFrameMs       int                `json:"fade_frame_ms"`
	DynamicsEnabled   bool               `json:"dynamics_enabled"`
	Dynamics          DynamicsConfig     `json:"dynamics"`
	Ducking           DuckingConfig      `json:"ducking"`
	ChannelVolumes    map[string]float64 `json:"channel_volumes"`
	ActivityThreshold float64            `json:"activity_threshold"`
}

type DynamicsConfig struct {
	Normalization bool    `json:"normalization"`
	TargetLevel   float64 `json:"target_level"`
	Compression   bool    `json:"compression"`
	Threshold     float64 `json:"threshold"`
	Ratio         float64 `json:"ratio"`
	AttackMs      float64 `json:"attack_ms"`
	ReleaseMs     float64 `json:"release_ms"`
}

type DuckingConfig struct {
	Enabled    bool   `json:"enabled"`
	Resolution string `json:"resolution"`
}

type MonitorConfig struct {
	Addr        string `json:"addr"`
	BroadcastMs int    `json:"broadcast_ms"`
}

type OutputConfig struct {
	SampleRate   int                `json:"sample_rate"`
	Channels     int                `json:"channels"`
	BufferFrames int                `json:"buffer_frames"`
	ToneFreqs    map[string]float64 `json:"tone_freqs"`
}

type SettingsConfig struct {
	Path     string `json:"path"`
	Autosave bool   `json:"autosave"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		Mixer: MixerConfig{
			MasterVolume:    1.0,
			TickRate:        60,
			FadeFrameMs:     16,
			DynamicsEnabled: false,
			Dynamics: DynamicsConfig{
				Normalization: false,
				TargetLevel:   0.8,
				Compression:   false,
				Threshold:     0.7,
				Ratio:         4.0,
				AttackMs:      3,
				ReleaseMs:     100,
			},
			Ducking: DuckingConfig{
				Enabled:    true,
				Resolution: "strict_priority",
			},
			ChannelVolumes:    map[string]float64{},
			ActivityThreshold: 0.1,
		},
		Monitor: MonitorConfig{
			Addr:        "127.0.0.1:8765",
			BroadcastMs: 100,
		},
		Output: OutputConfig{
			SampleRate:   48000,
			Channels:     2,
			BufferFrames: 1024,
			ToneFreqs: map[string]float64{
				"Music":        220,
				"SoundEffects": 880,
				"Voice":        440,
				"Ambient":      110,
				"UI":           1320,
			},
		},
		Settings: SettingsConfig{
			Path:     "config/mixer_settings.json",
			Autosave: true,
		},
	}
}

func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
	if addr := strings.TrimSpace(os.Getenv("MIXER_MONITOR_ADDR")); addr != "" {
		c.Monitor.Addr = addr
	}
	if path := strings.TrimSpace(os.Getenv("MIXER_SETTINGS_PATH")); path != "" {
		c.Settings.Path = path
	}
}

func (c *AppConfig) Validate() error {
	if c.Mixer.TickRate <= 0 {
		return errors.New("mixer.tick_rate must be positive")
	}
	if c.Mixer.FadeFrameMs < 0 {
		return errors.New("mixer.fade_frame_ms must be non-negative")
	}
	if c.Mixer.Dynamics.Ratio < 1 {
		return errors.New("mixer.dynamics.ratio must be at least 1")
	}
	if c.Mixer.Dynamics.AttackMs < 0 || c.Mixer.Dynamics.ReleaseMs < 0 {
		return errors.New("mixer.dynamics attack/release must be non-negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Mixer.Ducking.Resolution)) {
	case "", "strict_priority", "level_or_priority":
	default:
		return fmt.Errorf("invalid mixer.ducking.resolution: %s", c.Mixer.Ducking.Resolution)
	}

	for name, v := range c.Mixer.ChannelVolumes {
		if v < 0 || v > 1 {
			return fmt.Errorf("mixer.channel_volumes.%s must be within [0,1]", name)
		}
	}

	if c.Monitor.BroadcastMs <= 0 {
		return errors.New("monitor.broadcast_ms must be positive")
	}
	if c.Output.SampleRate <= 0 {
		return errors.New("output.sample_rate must be positive")
	}
	if c.Output.Channels != 1 && c.Output.Channels != 2 {
		return errors.New("output.channels must be 1 or 2")
	}
	if c.Output.BufferFrames <= 0 {
		return errors.New("output.buffer_frames must be positive")
	}

	return nil
}
