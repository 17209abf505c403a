package channel

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConfigMismatch 加载的通道配置类型与目标通道不一致
var ErrConfigMismatch = errors.New("channel config mismatch")

const (
	// DefaultFadeSpeed 平滑速度，单位：音量/秒
	DefaultFadeSpeed float32 = 5.0
	minFadeSpeed     float32 = 0.01
	snapEpsilon      float32 = 1e-3
)

// Config 通道的持久化形式
type Config struct {
	Type    Type    `json:"Type"`
	Name    string  `json:"Name"`
	Volume  float32 `json:"Volume"`
	IsMuted bool    `json:"IsMuted"`
}

// Channel 单个逻辑通道的音量、静音与闪避状态。
//
// 所有字段由 mu 保护：主循环的 Update 与淡入淡出任务会并发写入同一通道。
// smoothed 是平滑后、尚未乘以闪避系数的值；current 是实际输出值。
type Channel struct {
	mu        sync.Mutex
	typ       Type
	name      string
	volume    float32
	target    float32
	smoothed  float32
	current   float32
	fadeSpeed float32
	muted     bool
	duckLevel float32
	ducked    bool
}

// New 创建通道，音量取该类型的默认值
func New(t Type) *Channel {
	v := DefaultVolume(t)
	return &Channel{
		typ:       t,
		name:      t.String(),
		volume:    v,
		target:    v,
		smoothed:  v,
		current:   v,
		fadeSpeed: DefaultFadeSpeed,
		duckLevel: 1.0,
	}
}

func (c *Channel) Type() Type {
	return c.typ
}

func (c *Channel) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Channel) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = c.typ.String()
	}
	c.name = name
}

// Volume 用户设置的基础音量
func (c *Channel) Volume() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *Channel) TargetVolume() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// CurrentVolume 平滑并应用闪避后的输出值
func (c *Channel) CurrentVolume() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// EffectiveVolume 静音时为 0，否则为 CurrentVolume
func (c *Channel) EffectiveVolume() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLocked()
}

func (c *Channel) effectiveLocked() float32 {
	if c.muted {
		return 0
	}
	return c.current
}

func (c *Channel) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Channel) DuckLevel() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duckLevel
}

func (c *Channel) IsDucked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ducked
}

func (c *Channel) FadeSpeed() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fadeSpeed
}

// SetVolume 设置基础音量，返回存储值是否发生变化
func (c *Channel) SetVolume(v float32) bool {
	v = Clamp01(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.volume != v
	c.volume = v
	if !c.muted {
		c.target = v
	}
	return changed
}

// SetMuted 切换静音状态，仅在状态实际改变时返回 true
func (c *Channel) SetMuted(muted bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted == muted {
		return false
	}
	c.muted = muted
	if muted {
		c.target = 0
	} else {
		c.target = c.volume
	}
	return true
}

// Update 以 fadeSpeed 将平滑值线性逼近目标值，然后乘以闪避系数
func (c *Channel) Update(dt float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	diff := c.target - c.smoothed
	if abs32(diff) > snapEpsilon {
		step := clamp(c.fadeSpeed*dt, 0, 1)
		c.smoothed += diff * step
		if abs32(c.target-c.smoothed) <= snapEpsilon {
			c.smoothed = c.target
		}
	} else {
		c.smoothed = c.target
	}
	c.applyDuckLocked()
}

// FadeTo 立即提交新的音量意图，平滑过程只影响可听的过渡
func (c *Channel) FadeTo(target, speed float32) {
	target = Clamp01(target)
	if speed < minFadeSpeed {
		speed = minFadeSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = target
	if !c.muted {
		c.target = target
	}
	c.fadeSpeed = speed
}

// SetImmediate 跳过平滑直接设置音量
func (c *Channel) SetImmediate(v float32) {
	v = Clamp01(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	if !c.muted {
		c.target = v
		c.smoothed = v
	}
	c.applyDuckLocked()
}

// SetDuck 由闪避引擎写入
func (c *Channel) SetDuck(active bool, level float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ducked = active
	c.duckLevel = Clamp01(level)
	c.applyDuckLocked()
}

func (c *Channel) applyDuckLocked() {
	c.current = c.smoothed
	if c.ducked {
		c.current *= c.duckLevel
	}
}

// Config 导出通道配置
func (c *Channel) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Config{
		Type:    c.typ,
		Name:    c.name,
		Volume:  c.volume,
		IsMuted: c.muted,
	}
}

// ApplyConfig 加载通道配置；类型不一致时不做任何修改
func (c *Channel) ApplyConfig(cfg Config) error {
	if cfg.Type != c.typ {
		return fmt.Errorf("%w: channel %s cannot load config for %s", ErrConfigMismatch, c.typ, cfg.Type)
	}
	v := Clamp01(cfg.Volume)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Name != "" {
		c.name = cfg.Name
	}
	c.volume = v
	c.muted = cfg.IsMuted
	if c.muted {
		c.target = 0
	} else {
		c.target = v
	}
	c.smoothed = c.target
	c.applyDuckLocked()
	return nil
}

// Reset 取消静音与闪避并立即设置音量
func (c *Channel) Reset(volume float32) {
	volume = Clamp01(volume)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = false
	c.ducked = false
	c.duckLevel = 1.0
	c.fadeSpeed = DefaultFadeSpeed
	c.volume = volume
	c.target = volume
	c.smoothed = volume
	c.current = volume
}

// Clamp01 将值限制在 [0,1]
func Clamp01(v float32) float32 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float32) float32 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
