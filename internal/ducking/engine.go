// Package ducking resolves priority-based ducking rules into smoothed
// per-channel duck levels each tick.
package ducking

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/events"
	"github.com/liuscraft/orion-mixer/internal/logging"
)

const (
	// DefaultActivityThreshold 有效音量超过该值视为通道活跃
	DefaultActivityThreshold float32 = 0.1
	activeCutoff             float32 = 0.99
	defaultReleaseTime       float32 = 0.5
	defaultAttackTime        float32 = 0.1
)

// Resolution 规则冲突的裁决方式
type Resolution int

const (
	// ResolveStrictPriority 高优先级始终胜出；同优先级时更低的闪避电平胜出
	ResolveStrictPriority Resolution = iota
	// ResolveLevelOrPriority 电平更低或优先级更高任一成立即覆盖，
	// 低优先级但更强的规则可以覆盖高优先级规则
	ResolveLevelOrPriority
)

func (r Resolution) String() string {
	switch r {
	case ResolveLevelOrPriority:
		return "level_or_priority"
	default:
		return "strict_priority"
	}
}

// ParseResolution 空字符串返回默认的严格优先级
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "", "strict_priority":
		return ResolveStrictPriority, nil
	case "level_or_priority":
		return ResolveLevelOrPriority, nil
	default:
		return 0, fmt.Errorf("unknown ducking resolution %q", s)
	}
}

// State 单个通道的闪避状态
type State struct {
	TargetDuckLevel  float32
	CurrentDuckLevel float32
	FadeSpeed        float32
	IsActive         bool
	Priority         Priority
}

// Idle 电平已回到 1 且不处于闪避
func (s State) Idle() bool {
	return !s.IsActive && s.CurrentDuckLevel >= activeCutoff
}

type state struct {
	State
	releaseTime float32
}

func newState() *state {
	return &state{
		State:       State{TargetDuckLevel: 1, CurrentDuckLevel: 1},
		releaseTime: defaultReleaseTime,
	}
}

// Config 对应持久化文档的 DuckingController
type Config struct {
	DuckingEnabled    bool    `json:"DuckingEnabled"`
	ActivityThreshold float32 `json:"ActivityThreshold"`
	DuckingRules      []Rule  `json:"DuckingRules"`
}

func DefaultConfig() Config {
	return Config{
		DuckingEnabled:    true,
		ActivityThreshold: DefaultActivityThreshold,
		DuckingRules:      DefaultRules(),
	}
}

// Engine 闪避引擎
type Engine struct {
	mu         sync.Mutex
	enabled    bool
	threshold  float32
	resolution Resolution
	rules      []Rule
	states     map[channel.Type]*state
	active     map[channel.Type]bool
	bus        events.Publisher
}

// NewEngine 以默认规则创建引擎；bus 为 nil 时丢弃事件
func NewEngine(bus events.Publisher) *Engine {
	if bus == nil {
		bus = events.Nop()
	}
	e := &Engine{bus: bus}
	e.resetLocked()
	return e
}

func (e *Engine) resetLocked() {
	e.enabled = true
	e.threshold = DefaultActivityThreshold
	e.rules = DefaultRules()
	e.resetStatesLocked()
}

func (e *Engine) resetStatesLocked() {
	e.states = make(map[channel.Type]*state)
	e.active = make(map[channel.Type]bool)
	for _, t := range channel.Types() {
		e.states[t] = newState()
	}
}

// Reset 恢复默认规则并清空所有状态
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	resolution := e.resolution
	e.resetLocked()
	e.resolution = resolution
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetEnabled 关闭时立即把所有状态复位为未闪避，不做平滑
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled == enabled {
		return
	}
	e.enabled = enabled
	if !enabled {
		e.resetStatesLocked()
	}
	logging.Infof("Ducking: enabled=%v", enabled)
}

func (e *Engine) ActivityThreshold() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

func (e *Engine) SetActivityThreshold(v float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = channel.Clamp01(v)
}

func (e *Engine) Resolution() Resolution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolution
}

func (e *Engine) SetResolution(r Resolution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolution = r
}

// AddRule 注册规则
func (e *Engine) AddRule(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	r, err := rule.normalize()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return nil
}

// RemoveRules 删除某个触发通道的所有规则，返回删除数量
func (e *Engine) RemoveRules(trigger channel.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.rules[:0]
	removed := 0
	for _, r := range e.rules {
		if r.TriggerChannel == trigger {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	e.rules = kept
	return removed
}

func (e *Engine) ClearRules() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
}

// Rules 返回规则的深拷贝
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRules(e.rules)
}

// SetRules 替换规则集；无效规则被跳过并合并进返回的错误
func (e *Engine) SetRules(rules []Rule) error {
	var errs error
	valid := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		r, err := rule.normalize()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		valid = append(valid, r)
	}
	e.mu.Lock()
	e.rules = valid
	e.mu.Unlock()
	return errs
}

// DuckChannels 更新或新增 trigger -> affected 规则的闪避电平
func (e *Engine) DuckChannels(trigger channel.Type, affected []channel.Type, level float32, priority Priority) error {
	r, err := Rule{
		TriggerChannel:   trigger,
		AffectedChannels: affected,
		DuckLevel:        level,
		FadeInTime:       defaultAttackTime,
		FadeOutTime:      defaultReleaseTime,
		Priority:         priority,
		Enabled:          true,
	}.normalize()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		existing := &e.rules[i]
		if existing.TriggerChannel == trigger && sameChannels(existing.AffectedChannels, r.AffectedChannels) {
			existing.DuckLevel = r.DuckLevel
			existing.Priority = r.Priority
			existing.Enabled = true
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// State 返回通道的闪避状态快照
func (e *Engine) State(t channel.Type) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[t]; ok {
		return st.State
	}
	return State{TargetDuckLevel: 1, CurrentDuckLevel: 1}
}

func (e *Engine) States() map[channel.Type]State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[channel.Type]State, len(e.states))
	for t, st := range e.states {
		out[t] = st.State
	}
	return out
}

// IsChannelActive 上一次 Update 检测到的活跃状态
func (e *Engine) IsChannelActive(t channel.Type) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[t]
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Config{
		DuckingEnabled:    e.enabled,
		ActivityThreshold: e.threshold,
		DuckingRules:      copyRules(e.rules),
	}
}

// ApplyConfig 加载配置；无效规则被跳过，其余部分照常生效
func (e *Engine) ApplyConfig(cfg Config) error {
	err := e.SetRules(cfg.DuckingRules)
	e.SetActivityThreshold(cfg.ActivityThreshold)
	e.SetEnabled(cfg.DuckingEnabled)
	return err
}

// Release 立即解除所有通道的闪避
func (e *Engine) Release(channels []*channel.Channel) {
	e.mu.Lock()
	e.resetStatesLocked()
	pending := e.applyLocked(channels)
	e.mu.Unlock()
	e.publish(pending)
}

// Update 执行一次闪避计算：活跃检测、规则裁决、平滑、写回通道
func (e *Engine) Update(dt float32, channels []*channel.Channel) {
	e.mu.Lock()
	if !e.enabled {
		pending := e.applyLocked(channels)
		e.mu.Unlock()
		e.publish(pending)
		return
	}

	var pending []events.Event
	for _, ch := range channels {
		t := ch.Type()
		active := ch.EffectiveVolume() > e.threshold
		if active != e.active[t] {
			e.active[t] = active
			pending = append(pending, events.NewActivityChangedEvent(t, active))
		}
	}

	targets, priorities, winners := e.resolveLocked()

	for t, st := range e.states {
		target, ok := targets[t]
		if !ok {
			target = 1
		}
		winner := winners[t]
		if target != st.TargetDuckLevel {
			if target < st.CurrentDuckLevel && winner != nil {
				st.FadeSpeed = 1 / winner.FadeInTime
			} else {
				st.FadeSpeed = 1 / st.releaseTime
			}
			st.TargetDuckLevel = target
		}
		st.Priority = priorities[t]
		if winner != nil {
			st.releaseTime = winner.FadeOutTime
		}

		step := st.FadeSpeed * dt
		switch {
		case st.CurrentDuckLevel > st.TargetDuckLevel:
			st.CurrentDuckLevel -= step
			if st.CurrentDuckLevel < st.TargetDuckLevel {
				st.CurrentDuckLevel = st.TargetDuckLevel
			}
		case st.CurrentDuckLevel < st.TargetDuckLevel:
			st.CurrentDuckLevel += step
			if st.CurrentDuckLevel > st.TargetDuckLevel {
				st.CurrentDuckLevel = st.TargetDuckLevel
			}
		}
		st.IsActive = st.CurrentDuckLevel < activeCutoff
	}

	pending = append(pending, e.applyLocked(channels)...)
	e.mu.Unlock()
	e.publish(pending)
}

// resolveLocked 按优先级降序遍历已触发的规则，计算每个通道的目标电平
func (e *Engine) resolveLocked() (map[channel.Type]float32, map[channel.Type]Priority, map[channel.Type]*Rule) {
	targets := make(map[channel.Type]float32)
	priorities := make(map[channel.Type]Priority)
	winners := make(map[channel.Type]*Rule)

	sorted := make([]*Rule, 0, len(e.rules))
	for i := range e.rules {
		r := &e.rules[i]
		if r.Enabled && e.active[r.TriggerChannel] {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	for _, r := range sorted {
		for _, a := range r.AffectedChannels {
			current, ok := targets[a]
			if !ok {
				current = 1
			}
			if e.overrides(r, current, priorities[a]) {
				targets[a] = r.DuckLevel
				priorities[a] = r.Priority
				winners[a] = r
			}
		}
	}
	return targets, priorities, winners
}

func (e *Engine) overrides(r *Rule, currentLevel float32, currentPriority Priority) bool {
	if e.resolution == ResolveLevelOrPriority {
		return r.DuckLevel < currentLevel || r.Priority > currentPriority
	}
	if r.Priority != currentPriority {
		return r.Priority > currentPriority
	}
	return r.DuckLevel < currentLevel
}

// applyLocked 将状态写回通道，返回闪避开关变化事件
func (e *Engine) applyLocked(channels []*channel.Channel) []events.Event {
	var pending []events.Event
	for _, ch := range channels {
		st, ok := e.states[ch.Type()]
		if !ok {
			continue
		}
		wasDucked := ch.IsDucked()
		ch.SetDuck(st.IsActive, st.CurrentDuckLevel)
		if wasDucked != st.IsActive {
			pending = append(pending, events.NewDuckingStateChangedEvent(ch.Type(), st.IsActive, st.CurrentDuckLevel))
		}
	}
	return pending
}

func (e *Engine) publish(pending []events.Event) {
	for _, ev := range pending {
		e.bus.Publish(ev)
	}
}

func copyRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		r.AffectedChannels = append([]channel.Type(nil), r.AffectedChannels...)
		out[i] = r
	}
	return out
}

func sameChannels(a, b []channel.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for _, t := range a {
		found := false
		for _, u := range b {
			if t == u {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
