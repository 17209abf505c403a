package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// Source 单个逻辑通道的单声道信号源，样本范围 [-1,1]
type Source interface {
	// Read 填充 buf，返回写入的样本数；0 表示已结束
	Read(buf []float32) int
}

// Tone 正弦测试音
type Tone struct {
	mu        sync.Mutex
	step      float64
	phase     float64
	amplitude float32
}

func NewTone(freq float64, sampleRate int, amplitude float32) *Tone {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Tone{
		step:      2 * math.Pi * freq / float64(sampleRate),
		amplitude: clampSample(amplitude),
	}
}

func (t *Tone) Read(buf []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range buf {
		buf[i] = t.amplitude * float32(math.Sin(t.phase))
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return len(buf)
}

// Clip 内存中的采样片段，可循环播放
type Clip struct {
	mu      sync.Mutex
	samples []float32
	pos     int
	loop    bool
}

func NewClip(samples []float32, loop bool) *Clip {
	return &Clip{samples: samples, loop: loop}
}

func (c *Clip) Len() int {
	return len(c.samples)
}

func (c *Clip) Read(buf []float32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return 0
	}

	n := 0
	for n < len(buf) {
		if c.pos >= len(c.samples) {
			if !c.loop {
				break
			}
			c.pos = 0
		}
		copied := copy(buf[n:], c.samples[c.pos:])
		c.pos += copied
		n += copied
	}
	return n
}

// LoadPCM16 读取 16 位小端单声道 PCM，并以线性插值从 inputRate 转换到 outputRate
func LoadPCM16(r io.Reader, inputRate, outputRate int, loop bool) (*Clip, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	if len(raw) < 2 {
		return nil, errors.New("pcm: no samples")
	}

	// 每个样本 2 字节，末尾不足一个样本的字节丢弃
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		sample := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(sample) / 32768.0
	}
	return NewClip(resampleLinear(samples, inputRate, outputRate), loop), nil
}

// resampleLinear 线性插值重采样：
//
//	ratio = inputRate / outputRate
//	position = outputIndex * ratio
//	output = input[i] * (1 - frac) + input[i+1] * frac
func resampleLinear(input []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || len(input) == 0 {
		return append([]float32(nil), input...)
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(math.Ceil(float64(len(input)) / ratio))
	output := make([]float32, outputLen)
	last := len(input) - 1

	for i := range output {
		position := float64(i) * ratio
		idx := int(position)
		frac := float32(position - float64(idx))
		if idx >= last {
			output[i] = input[last]
			continue
		}
		output[i] = input[idx]*(1-frac) + input[idx+1]*frac
	}
	return output
}

func clampSample(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
