// Package mixer combines master volume, channel state, ducking, dynamics and
// fades into the per-tick final volume of every channel.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/config"
	"github.com/liuscraft/orion-mixer/internal/ducking"
	"github.com/liuscraft/orion-mixer/internal/dynamics"
	"github.com/liuscraft/orion-mixer/internal/events"
	"github.com/liuscraft/orion-mixer/internal/fade"
)

// ErrPersistenceFailure 包装外部存储返回的错误，不做重试
var ErrPersistenceFailure = errors.New("persistence failure")

// Controller 混音器控制面，监控服务与音频输出只依赖此接口
type Controller interface {
	SetMasterVolume(v float32)
	MasterVolume() float32
	SetEnabled(enabled bool)
	Enabled() bool

	SetChannelVolume(t channel.Type, v float32) error
	SetChannelMute(t channel.Type, muted bool) error
	ToggleMute(t channel.Type) (bool, error)
	FinalVolume(t channel.Type) float32
	Update(dt float32)

	MuteAll()
	UnmuteAll()
	SoloChannel(t channel.Type) error

	SetDucking(trigger channel.Type, affected []channel.Type, level float32) error
	DuckMusic(level float32) error
	StopDucking()
	SetDuckingEnabled(enabled bool)

	FadeChannelAsync(ctx context.Context, t channel.Type, target float32, duration time.Duration) (*fade.Handle, error)
	FadeInAsync(ctx context.Context, t channel.Type, target float32, duration time.Duration) (*fade.Handle, error)
	FadeOutAsync(ctx context.Context, t channel.Type, duration time.Duration) (*fade.Handle, error)
	CancelAllFades()

	SetDynamicsEnabled(enabled bool)
	Statistics() map[string]dynamics.Analysis
	AnalyzeChannel(t channel.Type) (dynamics.Analysis, error)

	SaveConfiguration() Settings
	LoadConfiguration(s Settings) error
	ResetToDefaults()

	Snapshot() Snapshot
	Subscribe(eventType events.EventType, handler events.EventHandler) uuid.UUID
	Unsubscribe(id uuid.UUID) bool
}

// Settings 持久化文档，字段名即 JSON 键
type Settings struct {
	MasterVolume      float32          `json:"MasterVolume"`
	Enabled           bool             `json:"Enabled"`
	Channels          []channel.Config `json:"Channels"`
	VolumeController  dynamics.Config  `json:"VolumeController"`
	DuckingController ducking.Config   `json:"DuckingController"`
}

// Store 由外部实现的持久化协作者
type Store interface {
	Save(s Settings) error
	Load() (Settings, error)
}

// Options 构造参数
type Options struct {
	MasterVolume      float32
	Enabled           bool
	ChannelVolumes    map[channel.Type]float32
	FadeFrameInterval time.Duration
	DynamicsEnabled   bool
	Dynamics          dynamics.Config
	DuckingEnabled    bool
	ActivityThreshold float32
	Resolution        ducking.Resolution
	// Bus 为 nil 时创建新的事件总线
	Bus events.Bus
}

func DefaultOptions() *Options {
	return &Options{
		MasterVolume:      1.0,
		Enabled:           true,
		FadeFrameInterval: fade.FrameTime,
		Dynamics:          dynamics.DefaultConfig(),
		DuckingEnabled:    true,
		ActivityThreshold: ducking.DefaultActivityThreshold,
		Resolution:        ducking.ResolveStrictPriority,
	}
}

// OptionsFromConfig 将应用配置映射为构造参数
func OptionsFromConfig(cfg config.MixerConfig) (*Options, error) {
	opts := DefaultOptions()
	opts.MasterVolume = float32(cfg.MasterVolume)
	opts.DynamicsEnabled = cfg.DynamicsEnabled
	opts.DuckingEnabled = cfg.Ducking.Enabled
	opts.ActivityThreshold = float32(cfg.ActivityThreshold)
	if cfg.FadeFrameMs > 0 {
		opts.FadeFrameInterval = time.Duration(cfg.FadeFrameMs) * time.Millisecond
	}

	resolution, err := ducking.ParseResolution(cfg.Ducking.Resolution)
	if err != nil {
		return nil, err
	}
	opts.Resolution = resolution

	opts.Dynamics = dynamics.Config{
		NormalizationEnabled: cfg.Dynamics.Normalization,
		TargetLevel:          float32(cfg.Dynamics.TargetLevel),
		CompressionEnabled:   cfg.Dynamics.Compression,
		CompressionThreshold: float32(cfg.Dynamics.Threshold),
		CompressionRatio:     float32(cfg.Dynamics.Ratio),
		AttackTime:           float32(cfg.Dynamics.AttackMs / 1000),
		ReleaseTime:          float32(cfg.Dynamics.ReleaseMs / 1000),
	}

	if len(cfg.ChannelVolumes) > 0 {
		opts.ChannelVolumes = make(map[channel.Type]float32, len(cfg.ChannelVolumes))
		for name, v := range cfg.ChannelVolumes {
			t, err := channel.ParseType(name)
			if err != nil {
				return nil, fmt.Errorf("mixer.channel_volumes: %w", err)
			}
			opts.ChannelVolumes[t] = float32(v)
		}
	}
	return opts, nil
}

// ChannelSnapshot 单个通道的只读视图
type ChannelSnapshot struct {
	Type      channel.Type `json:"type"`
	Name      string       `json:"name"`
	Volume    float32      `json:"volume"`
	Current   float32      `json:"current"`
	Effective float32      `json:"effective"`
	Final     float32      `json:"final"`
	Muted     bool         `json:"muted"`
	Ducked    bool         `json:"ducked"`
	DuckLevel float32      `json:"duck_level"`
	Fading    bool         `json:"fading"`
}

// DuckingSnapshot 单个通道的闪避状态
type DuckingSnapshot struct {
	Type     channel.Type     `json:"type"`
	Target   float32          `json:"target"`
	Current  float32          `json:"current"`
	Active   bool             `json:"active"`
	Priority ducking.Priority `json:"priority"`
}

// Snapshot 混音器的只读视图
type Snapshot struct {
	Tick            uint64            `json:"tick"`
	MasterVolume    float32           `json:"master_volume"`
	Enabled         bool              `json:"enabled"`
	DynamicsEnabled bool              `json:"dynamics_enabled"`
	DuckingEnabled  bool              `json:"ducking_enabled"`
	Channels        []ChannelSnapshot `json:"channels"`
	Ducking         []DuckingSnapshot `json:"ducking"`
}

// Channel 按类型查找通道快照
func (s Snapshot) Channel(t channel.Type) (ChannelSnapshot, bool) {
	for _, c := range s.Channels {
		if c.Type == t {
			return c, true
		}
	}
	return ChannelSnapshot{}, false
}
