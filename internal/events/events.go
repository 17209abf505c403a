package events

import (
	"time"

	"github.com/liuscraft/orion-mixer/internal/channel"
)

// EventType 事件类型
type EventType int

const (
	EventTypeVolumeChanged EventType = iota
	EventTypeMuteChanged
	EventTypeMasterVolumeChanged
	EventTypeActivityChanged
	EventTypeDuckingStateChanged
	EventTypeFadeFinished
	EventTypeMixerReset
)

func (t EventType) String() string {
	switch t {
	case EventTypeVolumeChanged:
		return "VolumeChanged"
	case EventTypeMuteChanged:
		return "MuteChanged"
	case EventTypeMasterVolumeChanged:
		return "MasterVolumeChanged"
	case EventTypeActivityChanged:
		return "ActivityChanged"
	case EventTypeDuckingStateChanged:
		return "DuckingStateChanged"
	case EventTypeFadeFinished:
		return "FadeFinished"
	case EventTypeMixerReset:
		return "MixerReset"
	default:
		return "Unknown"
	}
}

// Event 事件接口
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent 事件公共字段
type BaseEvent struct {
	eventType EventType
	timestamp time.Time
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{eventType: t, timestamp: time.Now()}
}

func (e *BaseEvent) Type() EventType {
	return e.eventType
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

// VolumeChangedEvent 通道基础音量变化
type VolumeChangedEvent struct {
	BaseEvent
	Channel  channel.Type
	OldValue float32
	NewValue float32
}

func NewVolumeChangedEvent(ch channel.Type, oldValue, newValue float32) *VolumeChangedEvent {
	return &VolumeChangedEvent{
		BaseEvent: newBase(EventTypeVolumeChanged),
		Channel:   ch,
		OldValue:  oldValue,
		NewValue:  newValue,
	}
}

// MuteChangedEvent 静音状态实际发生变化
type MuteChangedEvent struct {
	BaseEvent
	Channel channel.Type
	Muted   bool
}

func NewMuteChangedEvent(ch channel.Type, muted bool) *MuteChangedEvent {
	return &MuteChangedEvent{
		BaseEvent: newBase(EventTypeMuteChanged),
		Channel:   ch,
		Muted:     muted,
	}
}

type MasterVolumeChangedEvent struct {
	BaseEvent
	OldValue float32
	NewValue float32
}

func NewMasterVolumeChangedEvent(oldValue, newValue float32) *MasterVolumeChangedEvent {
	return &MasterVolumeChangedEvent{
		BaseEvent: newBase(EventTypeMasterVolumeChanged),
		OldValue:  oldValue,
		NewValue:  newValue,
	}
}

// ActivityChangedEvent 通道越过活跃阈值（仅边沿触发）
type ActivityChangedEvent struct {
	BaseEvent
	Channel channel.Type
	Active  bool
}

func NewActivityChangedEvent(ch channel.Type, active bool) *ActivityChangedEvent {
	return &ActivityChangedEvent{
		BaseEvent: newBase(EventTypeActivityChanged),
		Channel:   ch,
		Active:    active,
	}
}

// DuckingStateChangedEvent 通道进入或离开闪避
type DuckingStateChangedEvent struct {
	BaseEvent
	Channel   channel.Type
	Ducked    bool
	DuckLevel float32
}

func NewDuckingStateChangedEvent(ch channel.Type, ducked bool, level float32) *DuckingStateChangedEvent {
	return &DuckingStateChangedEvent{
		BaseEvent: newBase(EventTypeDuckingStateChanged),
		Channel:   ch,
		Ducked:    ducked,
		DuckLevel: level,
	}
}

// FadeFinishedEvent 淡变任务结束；Cancelled 表示被新任务或 CancelAll 取代
type FadeFinishedEvent struct {
	BaseEvent
	Channel   channel.Type
	Target    float32
	Cancelled bool
}

func NewFadeFinishedEvent(ch channel.Type, target float32, cancelled bool) *FadeFinishedEvent {
	return &FadeFinishedEvent{
		BaseEvent: newBase(EventTypeFadeFinished),
		Channel:   ch,
		Target:    target,
		Cancelled: cancelled,
	}
}

type MixerResetEvent struct {
	BaseEvent
}

func NewMixerResetEvent() *MixerResetEvent {
	return &MixerResetEvent{BaseEvent: newBase(EventTypeMixerReset)}
}
