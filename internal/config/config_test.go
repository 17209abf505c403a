package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MergesDefaultsAndEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mixer.json")
	data := `{
		"logging": {"level": "debug"},
		"mixer": {"master_volume": 0.5, "channel_volumes": {"Music": 0.3}},
		"output": {"sample_rate": 44100}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("MIXER_MONITOR_ADDR", ":9000")
	t.Setenv("MIXER_SETTINGS_PATH", "/tmp/settings.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected LOG_LEVEL to override config, got %q", cfg.Logging.Level)
	}
	if cfg.Mixer.MasterVolume != 0.5 {
		t.Fatalf("expected master volume 0.5, got %v", cfg.Mixer.MasterVolume)
	}
	if cfg.Mixer.ChannelVolumes["Music"] != 0.3 {
		t.Fatalf("expected music volume override, got %v", cfg.Mixer.ChannelVolumes)
	}
	if cfg.Mixer.TickRate != 60 {
		t.Fatalf("expected default tick rate to be preserved, got %d", cfg.Mixer.TickRate)
	}
	if cfg.Output.SampleRate != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", cfg.Output.SampleRate)
	}
	if cfg.Output.ToneFreqs["Voice"] != 440 {
		t.Fatalf("expected default tone frequencies to be preserved")
	}
	if cfg.Monitor.Addr != ":9000" {
		t.Fatalf("expected monitor addr from env, got %q", cfg.Monitor.Addr)
	}
	if cfg.Settings.Path != "/tmp/settings.json" {
		t.Fatalf("expected settings path from env, got %q", cfg.Settings.Path)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mixer.MasterVolume != 1.0 || !cfg.Mixer.Ducking.Enabled {
		t.Fatalf("expected defaults, got %+v", cfg.Mixer)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"tick rate", func(c *AppConfig) { c.Mixer.TickRate = 0 }},
		{"ratio", func(c *AppConfig) { c.Mixer.Dynamics.Ratio = 0.5 }},
		{"resolution", func(c *AppConfig) { c.Mixer.Ducking.Resolution = "loudest" }},
		{"channel volume", func(c *AppConfig) { c.Mixer.ChannelVolumes["Music"] = 1.5 }},
		{"broadcast", func(c *AppConfig) { c.Monitor.BroadcastMs = 0 }},
		{"output channels", func(c *AppConfig) { c.Output.Channels = 6 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "mixer.example.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Mixer.Dynamics.Compression {
		t.Fatal("expected compression enabled in example config")
	}
	if cfg.Mixer.ChannelVolumes["Music"] != 0.8 {
		t.Fatalf("expected music volume 0.8, got %v", cfg.Mixer.ChannelVolumes["Music"])
	}
	if len(cfg.Output.ToneFreqs) != 5 {
		t.Fatalf("expected default tone frequencies, got %v", cfg.Output.ToneFreqs)
	}
}
