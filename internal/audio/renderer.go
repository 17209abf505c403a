// Package audio renders per-channel sources through the mixer's final
// volumes to a portaudio stream or a WAV file.
package audio

import (
	"sync"

	"github.com/liuscraft/orion-mixer/internal/channel"
)

// GainSource 提供每个通道的最终音量，*mixer.Mixer 满足此接口
type GainSource interface {
	FinalVolume(t channel.Type) float32
}

// Renderer 将各通道信号源按最终音量混合为多声道输出。
// 每个缓冲区只读取一次增益，并在缓冲区内从上一次的增益线性过渡，避免跳变。
type Renderer struct {
	mu      sync.Mutex
	gains   GainSource
	sources map[channel.Type]Source
	prev    map[channel.Type]float32
	scratch []float32
}

func NewRenderer(gains GainSource) *Renderer {
	return &Renderer{
		gains:   gains,
		sources: make(map[channel.Type]Source),
		prev:    make(map[channel.Type]float32),
	}
}

// SetSource 为通道指定信号源；Master 是总线，不接受信号源
func (r *Renderer) SetSource(t channel.Type, s Source) {
	if t == channel.Master || !t.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[t] = s
}

func (r *Renderer) RemoveSource(t channel.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, t)
	delete(r.prev, t)
}

// Render 填充 out（每个声道一个切片，长度相同）
func (r *Renderer) Render(out [][]float32) {
	if len(out) == 0 {
		return
	}
	frames := len(out[0])
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
	if frames == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cap(r.scratch) < frames {
		r.scratch = make([]float32, frames)
	}
	buf := r.scratch[:frames]

	for _, t := range channel.Types() {
		src, ok := r.sources[t]
		if !ok {
			continue
		}
		n := src.Read(buf)
		from, to := r.ramp(t)
		for i := 0; i < n && i < frames; i++ {
			v := buf[i] * lerp(from, to, i, frames)
			for _, ch := range out {
				ch[i] += v
			}
		}
	}

	from, to := r.ramp(channel.Master)
	for i := 0; i < frames; i++ {
		g := lerp(from, to, i, frames)
		for _, ch := range out {
			ch[i] = clampSample(ch[i] * g)
		}
	}
}

// ramp 返回本缓冲区的起止增益；首次使用时不做过渡
func (r *Renderer) ramp(t channel.Type) (float32, float32) {
	to := r.gains.FinalVolume(t)
	from, ok := r.prev[t]
	if !ok {
		from = to
	}
	r.prev[t] = to
	return from, to
}

func lerp(from, to float32, i, frames int) float32 {
	return from + (to-from)*float32(i+1)/float32(frames)
}
