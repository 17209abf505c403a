// Package stats keeps a fixed window of processed volume samples per channel
// id and derives peak, average and RMS levels from it.
package stats

import (
	"sort"
	"sync"

	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

// DefaultCapacity 每个通道保留的样本数
const DefaultCapacity = 100

// Summary 历史窗口的统计结果
type Summary struct {
	Count   int
	Peak    float32
	Min     float32
	Average float32
	RMS     float32
}

type history struct {
	samples []float32
	peak    float32
}

// Tracker 按通道 id 维护 FIFO 历史窗口，首次记录时惰性创建
type Tracker struct {
	mu        sync.Mutex
	capacity  int
	histories map[string]*history
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity:  capacity,
		histories: make(map[string]*history),
	}
}

func (t *Tracker) Capacity() int {
	return t.capacity
}

// Record 追加样本，超出容量时淘汰最旧样本，返回更新后的峰值
func (t *Tracker) Record(id string, v float32) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.histories[id]
	if !ok {
		h = &history{samples: make([]float32, 0, t.capacity)}
		t.histories[id] = h
	}

	var evicted float32
	overflow := len(h.samples) == t.capacity
	if overflow {
		evicted = h.samples[0]
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, v)

	switch {
	case len(h.samples) == 1 || v >= h.peak:
		h.peak = v
	case overflow && evicted >= h.peak:
		h.peak = maxOf(h.samples)
	}
	return h.peak
}

// Peak 返回缓存的峰值；未记录过的通道返回 0
func (t *Tracker) Peak(id string) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.histories[id]; ok {
		return h.peak
	}
	return 0
}

func (t *Tracker) Len(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.histories[id]; ok {
		return len(h.samples)
	}
	return 0
}

// Samples 返回历史窗口的副本，最旧的在前
func (t *Tracker) Samples(id string) []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.histories[id]
	if !ok {
		return nil
	}
	out := make([]float32, len(h.samples))
	copy(out, h.samples)
	return out
}

// IDs 按字典序返回已跟踪的通道 id
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.histories))
	for id := range t.histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary 对历史窗口做一次完整统计
func (t *Tracker) Summary(id string) Summary {
	t.mu.Lock()
	h, ok := t.histories[id]
	if !ok || len(h.samples) == 0 {
		t.mu.Unlock()
		return Summary{}
	}
	signal := make([]float64, len(h.samples))
	for i, s := range h.samples {
		signal[i] = float64(s)
	}
	peak := h.peak
	t.mu.Unlock()

	st := dsptime.Calculate(signal)
	return Summary{
		Count:   st.Length,
		Peak:    peak,
		Min:     float32(st.Min),
		Average: float32(st.DC),
		RMS:     float32(st.RMS),
	}
}

func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.histories, id)
}

// Reset 清空所有历史
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.histories = make(map[string]*history)
}

func maxOf(samples []float32) float32 {
	var m float32
	for i, s := range samples {
		if i == 0 || s > m {
			m = s
		}
	}
	return m
}
