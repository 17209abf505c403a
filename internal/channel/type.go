package channel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChannelType 未注册的通道类型
var ErrInvalidChannelType = errors.New("invalid channel type")

// Type 逻辑音频通道类型（封闭枚举）
type Type int

const (
	Master Type = iota
	Music
	SoundEffects
	Voice
	Ambient
	UI

	typeCount
)

// Invalid 文档中出现的未知通道名称解码为 Invalid，由使用方拒绝该条目
const Invalid Type = -1

var typeNames = [typeCount]string{
	Master:       "Master",
	Music:        "Music",
	SoundEffects: "SoundEffects",
	Voice:        "Voice",
	Ambient:      "Ambient",
	UI:           "UI",
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Valid 检查是否为已注册的通道类型
func (t Type) Valid() bool {
	return t >= Master && t < typeCount
}

// Types 按声明顺序返回所有通道类型
func Types() []Type {
	types := make([]Type, 0, typeCount)
	for t := Master; t < typeCount; t++ {
		types = append(types, t)
	}
	return types
}

// ParseType 按名称解析通道类型，大小写不敏感
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	for t := Master; t < typeCount; t++ {
		if strings.EqualFold(typeNames[t], name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChannelType, name)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannelType, int(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText 未知名称不报错而是解码为 Invalid，
// 单个坏条目不会让整份设置文档解码失败
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		*t = Invalid
		return nil
	}
	*t = parsed
	return nil
}

// DefaultVolume 每种通道的出厂音量
func DefaultVolume(t Type) float32 {
	switch t {
	case Music:
		return 0.8
	case Ambient, UI:
		return 0.6
	default:
		return 1.0
	}
}
