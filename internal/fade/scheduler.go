// Package fade runs cancellable, frame-sliced volume ramps with at most one
// active ramp per channel.
package fade

import (
	"context"
	"sync"
	"time"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/events"
	"github.com/liuscraft/orion-mixer/internal/logging"
)

const framesPerSecond = 60

// FrameTime 每一步推进的逻辑时间
const FrameTime = time.Second / framesPerSecond

// Target 淡变任务写入的通道
type Target interface {
	Type() channel.Type
	Volume() float32
	SetImmediate(v float32)
}

// Result 任务结束方式
type Result int

const (
	Completed Result = iota
	Cancelled
)

func (r Result) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "completed"
}

// Handle 单个淡变任务
type Handle struct {
	channel channel.Type
	target  float32
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
}

func (h *Handle) Channel() channel.Type {
	return h.channel
}

func (h *Handle) Target() float32 {
	return h.target
}

// Done 任务退出后关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait 阻塞直到任务退出
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Cancel 协作式取消，不等待退出
func (h *Handle) Cancel() {
	h.cancel()
}

// Scheduler 每个通道一个槽位；新任务会先取消并等待旧任务退出
type Scheduler struct {
	mu            sync.Mutex
	slots         map[channel.Type]*Handle
	frameInterval time.Duration
	bus           events.Publisher
}

type Option func(*Scheduler)

// WithFrameInterval 设置两步之间的实际休眠时间，逻辑步长仍为 FrameTime
func WithFrameInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.bus = p
		}
	}
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		slots:         make(map[channel.Type]*Handle),
		frameInterval: FrameTime,
		bus:           events.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FadeChannelAsync 从当前音量线性淡变到 to。duration <= 0 时立即设置。
func (s *Scheduler) FadeChannelAsync(ctx context.Context, target Target, to float32, duration time.Duration) *Handle {
	return s.start(ctx, target, nil, to, duration)
}

// FadeInAsync 从 0 淡入到 to
func (s *Scheduler) FadeInAsync(ctx context.Context, target Target, to float32, duration time.Duration) *Handle {
	zero := float32(0)
	return s.start(ctx, target, &zero, to, duration)
}

// FadeOutAsync 淡出到 0
func (s *Scheduler) FadeOutAsync(ctx context.Context, target Target, duration time.Duration) *Handle {
	return s.start(ctx, target, nil, 0, duration)
}

func (s *Scheduler) start(ctx context.Context, target Target, from *float32, to float32, duration time.Duration) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	to = channel.Clamp01(to)
	fadeCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		channel: target.Type(),
		target:  to,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.slots[h.channel]
	s.slots[h.channel] = h
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	if from != nil {
		target.SetImmediate(*from)
	}

	if duration <= 0 {
		if fadeCtx.Err() == nil {
			target.SetImmediate(to)
			h.result = Completed
		} else {
			h.result = Cancelled
		}
		s.finish(h)
		return h
	}

	go s.run(fadeCtx, h, target, target.Volume(), to, duration)
	return h
}

func (s *Scheduler) run(ctx context.Context, h *Handle, target Target, start, to float32, duration time.Duration) {
	defer s.finish(h)

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	totalFrames := duration.Seconds() * framesPerSecond
	for frame := 1; ; frame++ {
		if ctx.Err() != nil {
			h.result = Cancelled
			return
		}
		t := float32(float64(frame) / totalFrames)
		if t >= 1 {
			break
		}
		target.SetImmediate(start + (to-start)*t)

		select {
		case <-ctx.Done():
			h.result = Cancelled
			return
		case <-ticker.C:
		}
	}

	target.SetImmediate(to)
	h.result = Completed
}

// finish 释放槽位并通知，最后关闭 done；result 必须在此之前写入
func (s *Scheduler) finish(h *Handle) {
	s.mu.Lock()
	if s.slots[h.channel] == h {
		delete(s.slots, h.channel)
	}
	s.mu.Unlock()

	h.cancel()
	logging.Debugf("Fade: %s -> %.3f %s", h.channel, h.target, h.result)
	s.bus.Publish(events.NewFadeFinishedEvent(h.channel, h.target, h.result == Cancelled))
	close(h.done)
}

// Cancel 取消某个通道的任务并等待其退出
func (s *Scheduler) Cancel(t channel.Type) {
	s.mu.Lock()
	h := s.slots[t]
	s.mu.Unlock()
	if h != nil {
		h.cancel()
		<-h.done
	}
}

// CancelAll 取消所有任务并等待全部退出
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.slots))
	for _, h := range s.slots {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

func (s *Scheduler) IsFading(t channel.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[t]
	return ok
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
