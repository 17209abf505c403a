package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/mixer"
)

// ErrUnknownOp 客户端发送了未知指令
var ErrUnknownOp = errors.New("unknown op")

const (
	MessageSnapshot = "snapshot"
	MessageAck      = "ack"
	MessageError    = "error"
)

// Command 客户端 -> 服务端的控制指令
type Command struct {
	Op         string  `json:"op"`
	Channel    string  `json:"channel,omitempty"`
	Value      float32 `json:"value,omitempty"`
	DurationMs int     `json:"duration_ms,omitempty"`
}

// Message 服务端 -> 客户端的消息
type Message struct {
	Type  string          `json:"type"`
	Op    string          `json:"op,omitempty"`
	Data  *mixer.Snapshot `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Apply 在混音器上执行一条指令。fade 只启动任务，不等待完成。
func Apply(ctx context.Context, ctrl mixer.Controller, cmd Command) error {
	op := strings.ToLower(strings.TrimSpace(cmd.Op))
	switch op {
	case "set_master":
		ctrl.SetMasterVolume(cmd.Value)
		return nil
	case "mute_all":
		ctrl.MuteAll()
		return nil
	case "unmute_all":
		ctrl.UnmuteAll()
		return nil
	case "duck_music":
		return ctrl.DuckMusic(cmd.Value)
	case "stop_ducking":
		ctrl.StopDucking()
		return nil
	case "reset":
		ctrl.ResetToDefaults()
		return nil
	case "set_volume", "set_mute", "toggle_mute", "solo", "fade":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}

	t, err := channel.ParseType(cmd.Channel)
	if err != nil {
		return err
	}
	switch op {
	case "set_volume":
		return ctrl.SetChannelVolume(t, cmd.Value)
	case "set_mute":
		return ctrl.SetChannelMute(t, cmd.Value != 0)
	case "toggle_mute":
		_, err := ctrl.ToggleMute(t)
		return err
	case "solo":
		return ctrl.SoloChannel(t)
	default:
		_, err := ctrl.FadeChannelAsync(ctx, t, cmd.Value, time.Duration(cmd.DurationMs)*time.Millisecond)
		return err
	}
}
