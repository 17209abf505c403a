package ducking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liuscraft/orion-mixer/internal/channel"
)

// ErrInvalidRule 空规则或缺少受影响通道的规则
var ErrInvalidRule = errors.New("invalid ducking rule")

const minFadeTime float32 = 0.001

// Priority 规则优先级
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

var priorityNames = [...]string{
	Low:      "Low",
	Normal:   "Normal",
	High:     "High",
	Critical: "Critical",
}

func (p Priority) String() string {
	return priorityNames[p.clamped()]
}

func (p Priority) clamped() Priority {
	if p < Low {
		return Low
	}
	if p > Critical {
		return Critical
	}
	return p
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for i, n := range priorityNames {
		if strings.EqualFold(n, name) {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown ducking priority %q", name)
}

// Rule 当 TriggerChannel 活跃时，将 AffectedChannels 压低到 DuckLevel
type Rule struct {
	TriggerChannel   channel.Type   `json:"TriggerChannel"`
	AffectedChannels []channel.Type `json:"AffectedChannels"`
	DuckLevel        float32        `json:"DuckLevel"`
	FadeInTime       float32        `json:"FadeInTime"`
	FadeOutTime      float32        `json:"FadeOutTime"`
	Priority         Priority       `json:"Priority"`
	Enabled          bool           `json:"Enabled"`
}

// DefaultRules 音效压低音乐与环境音；语音压低音乐、音效与环境音
func DefaultRules() []Rule {
	return []Rule{
		{
			TriggerChannel:   channel.SoundEffects,
			AffectedChannels: []channel.Type{channel.Music, channel.Ambient},
			DuckLevel:        0.6,
			FadeInTime:       0.1,
			FadeOutTime:      0.5,
			Priority:         Normal,
			Enabled:          true,
		},
		{
			TriggerChannel:   channel.Voice,
			AffectedChannels: []channel.Type{channel.Music, channel.SoundEffects, channel.Ambient},
			DuckLevel:        0.3,
			FadeInTime:       0.2,
			FadeOutTime:      1.0,
			Priority:         High,
			Enabled:          true,
		},
	}
}

// normalize 校验结构并把数值规范到合法区间
func (r Rule) normalize() (Rule, error) {
	if !r.TriggerChannel.Valid() {
		return r, fmt.Errorf("%w: %w", ErrInvalidRule, channel.ErrInvalidChannelType)
	}
	if len(r.AffectedChannels) == 0 {
		return r, fmt.Errorf("%w: trigger %s has no affected channels", ErrInvalidRule, r.TriggerChannel)
	}
	affected := make([]channel.Type, 0, len(r.AffectedChannels))
	for _, t := range r.AffectedChannels {
		if !t.Valid() {
			return r, fmt.Errorf("%w: %w", ErrInvalidRule, channel.ErrInvalidChannelType)
		}
		affected = append(affected, t)
	}
	r.AffectedChannels = affected
	r.DuckLevel = channel.Clamp01(r.DuckLevel)
	if !(r.FadeInTime >= minFadeTime) {
		r.FadeInTime = minFadeTime
	}
	if !(r.FadeOutTime >= minFadeTime) {
		r.FadeOutTime = minFadeTime
	}
	r.Priority = r.Priority.clamped()
	return r, nil
}
