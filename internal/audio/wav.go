package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/youpy/go-wav"

	"github.com/liuscraft/orion-mixer/internal/logging"
)

const bitsPerSample = 16

// Ticker 推进混音器一帧，*mixer.Mixer 满足此接口
type Ticker interface {
	Update(dt float32)
}

// WAVRecorder 缓存渲染结果，最后一次性写出 16 位 PCM WAV
type WAVRecorder struct {
	sampleRate int
	channels   int
	buffer     []wav.Sample
}

func NewWAVRecorder(sampleRate, channels int) *WAVRecorder {
	if channels < 1 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}
	return &WAVRecorder{sampleRate: sampleRate, channels: channels}
}

func (w *WAVRecorder) SampleRate() int {
	return w.sampleRate
}

func (w *WAVRecorder) Channels() int {
	return w.channels
}

// Frames 已缓存的帧数
func (w *WAVRecorder) Frames() int {
	return len(w.buffer)
}

// Write 追加一个渲染缓冲区（每个声道一个切片）
func (w *WAVRecorder) Write(buf [][]float32) {
	if len(buf) == 0 {
		return
	}
	for i := range buf[0] {
		s := wav.Sample{}
		for c := 0; c < w.channels; c++ {
			src := buf[0]
			if c < len(buf) {
				src = buf[c]
			}
			s.Values[c] = toPCM16(src[i])
		}
		w.buffer = append(w.buffer, s)
	}
}

// WriteTo 写出 WAV 头与全部样本
func (w *WAVRecorder) WriteTo(out io.Writer) error {
	enc := wav.NewWriter(out, uint32(len(w.buffer)), uint16(w.channels), uint32(w.sampleRate), bitsPerSample)
	if enc == nil {
		return errors.New("wav: bad parameters for encoding")
	}
	return enc.WriteSamples(w.buffer)
}

// Save 写出到文件
func (w *WAVRecorder) Save(path string) (rerr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("wav: %w", err)
		}
	}()

	logging.Infof("WAV: writing %d frames to %s", len(w.buffer), path)
	return w.WriteTo(f)
}

// Bounce 离线渲染 ticks 帧。每帧先调用 step（可为 nil），再推进混音器，
// 然后渲染 sampleRate/tickRate 个采样写入 rec。
func Bounce(ticker Ticker, r *Renderer, rec *WAVRecorder, ticks, tickRate int, step func(tick int)) {
	if tickRate <= 0 {
		tickRate = 60
	}
	framesPerTick := rec.sampleRate / tickRate
	dt := float32(1) / float32(tickRate)

	out := make([][]float32, rec.channels)
	for c := range out {
		out[c] = make([]float32, framesPerTick)
	}
	for i := 0; i < ticks; i++ {
		if step != nil {
			step(i)
		}
		ticker.Update(dt)
		r.Render(out)
		rec.Write(out)
	}
}

func toPCM16(v float32) int {
	return int(math.Round(float64(clampSample(v)) * math.MaxInt16))
}
