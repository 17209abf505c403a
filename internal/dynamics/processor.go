// Package dynamics applies peak normalization and envelope-follower
// compression to scalar channel volumes.
package dynamics

import (
	"math"
	"sync"

	"github.com/liuscraft/orion-mixer/internal/stats"
)

const (
	minPeak         = 0.01
	maxNormalize    = 2.0
	minRMS          = 0.01
	minRecommended  = 0.1
	maxRecommended  = 3.0
	minRangeFloor   = 1e-3
	minTimeConstant = 1e-4
)

// Config 归一化与压缩参数（对应持久化文档的 VolumeController）
type Config struct {
	NormalizationEnabled bool    `json:"NormalizationEnabled"`
	TargetLevel          float32 `json:"TargetLevel"`
	CompressionEnabled   bool    `json:"CompressionEnabled"`
	CompressionThreshold float32 `json:"CompressionThreshold"`
	CompressionRatio     float32 `json:"CompressionRatio"`
	AttackTime           float32 `json:"AttackTime"`
	ReleaseTime          float32 `json:"ReleaseTime"`
}

func DefaultConfig() Config {
	return Config{
		NormalizationEnabled: false,
		TargetLevel:          0.8,
		CompressionEnabled:   false,
		CompressionThreshold: 0.7,
		CompressionRatio:     4.0,
		AttackTime:           0.003,
		ReleaseTime:          0.1,
	}
}

// sanitized 将越界参数规范化，而不是报错
func (c Config) sanitized() Config {
	c.TargetLevel = clamp01(c.TargetLevel)
	c.CompressionThreshold = clamp01(c.CompressionThreshold)
	if c.CompressionRatio < 1 || c.CompressionRatio != c.CompressionRatio {
		c.CompressionRatio = 1
	}
	if c.AttackTime < 0 {
		c.AttackTime = 0
	}
	if c.ReleaseTime < 0 {
		c.ReleaseTime = 0
	}
	return c
}

// Analysis 单个通道历史窗口的分析结果
type Analysis struct {
	ChannelID       string  `json:"channel_id"`
	PeakLevel       float32 `json:"peak_level"`
	AverageLevel    float32 `json:"average_level"`
	RMSLevel        float32 `json:"rms_level"`
	DynamicRange    float32 `json:"dynamic_range_db"`
	RecommendedGain float32 `json:"recommended_gain"`
	SampleCount     int     `json:"sample_count"`
}

// Processor 归一化增益与压缩包络跟随器。
// 归一化使用窗口内最大值，压缩使用按通道 id 保存的指数包络，两者互不影响。
type Processor struct {
	mu        sync.Mutex
	cfg       Config
	tracker   *stats.Tracker
	envelopes map[string]float32
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{
		cfg:       cfg.sanitized(),
		tracker:   stats.NewTracker(stats.DefaultCapacity),
		envelopes: make(map[string]float32),
	}
}

func (p *Processor) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Processor) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg.sanitized()
}

func (p *Processor) Tracker() *stats.Tracker {
	return p.tracker
}

// ProcessVolume 记录输入并依次应用归一化与压缩，输出限制在 [0,1]
func (p *Processor) ProcessVolume(id string, input, dt float32) float32 {
	peak := p.tracker.Record(id, input)

	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg

	output := float64(input)
	if cfg.NormalizationEnabled {
		gain := float64(cfg.TargetLevel) / math.Max(float64(peak), minPeak)
		output *= math.Min(gain, maxNormalize)
	}

	threshold := float64(cfg.CompressionThreshold)
	if cfg.CompressionEnabled && output > threshold {
		target := threshold + (output-threshold)/float64(cfg.CompressionRatio)

		env, ok := p.envelopes[id]
		if !ok {
			env = cfg.CompressionThreshold
		}
		tau := float64(cfg.ReleaseTime)
		if output > float64(env) {
			tau = float64(cfg.AttackTime)
		}
		envelope := float64(env) + smoothingCoefficient(float64(dt), tau)*(target-float64(env))
		p.envelopes[id] = float32(envelope)
		output = envelope
	}

	return clamp01(float32(output))
}

// Envelope 返回压缩器当前的包络值
func (p *Processor) Envelope(id string) (float32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, ok := p.envelopes[id]
	return env, ok
}

// Analyze 对历史窗口做只读分析。推荐增益按 RMS 匹配目标电平，再以 1/peak 防止削波。
func (p *Processor) Analyze(id string) Analysis {
	s := p.tracker.Summary(id)
	target := float64(p.Config().TargetLevel)

	a := Analysis{ChannelID: id, RecommendedGain: 1}
	if s.Count == 0 {
		return a
	}
	a.SampleCount = s.Count
	a.PeakLevel = s.Peak
	a.AverageLevel = s.Average
	a.RMSLevel = s.RMS

	peak := float64(s.Peak)
	if peak > 0 {
		a.DynamicRange = float32(20 * math.Log10(peak/math.Max(float64(s.Min), minRangeFloor)))
	}

	gain := target / math.Max(float64(s.RMS), minRMS)
	if peak > 0 {
		gain = math.Min(gain, 1/peak)
	}
	a.RecommendedGain = float32(math.Max(minRecommended, math.Min(gain, maxRecommended)))
	return a
}

// Statistics 返回所有已跟踪通道的分析结果
func (p *Processor) Statistics() map[string]Analysis {
	ids := p.tracker.IDs()
	out := make(map[string]Analysis, len(ids))
	for _, id := range ids {
		out[id] = p.Analyze(id)
	}
	return out
}

// Reset 清空历史与包络，保留配置
func (p *Processor) Reset() {
	p.tracker.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = make(map[string]float32)
}

// smoothingCoefficient alpha = 1 - e^(-dt/tau)
func smoothingCoefficient(dt, tau float64) float64 {
	if dt <= 0 {
		return 0
	}
	if tau < minTimeConstant {
		return 1
	}
	return 1 - math.Exp(-dt/tau)
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
