package mixer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/ducking"
	"github.com/liuscraft/orion-mixer/internal/dynamics"
	"github.com/liuscraft/orion-mixer/internal/events"
	"github.com/liuscraft/orion-mixer/internal/fade"
	"github.com/liuscraft/orion-mixer/internal/logging"
)

const defaultDeltaTime float32 = 1.0 / 60

var _ Controller = (*Mixer)(nil)

// Mixer 混音协调器。
//
// mu 只保护混音器自身的标量；通道字段由各自的锁保护，
// 闪避、动态处理与淡变各自持有内部锁。持有 mu 时不发布事件。
type Mixer struct {
	mu              sync.RWMutex
	masterVolume    float32
	enabled         bool
	dynamicsEnabled bool
	lastDt          float32

	channels []*channel.Channel
	byType   map[channel.Type]*channel.Channel

	ducking  *ducking.Engine
	dynamics *dynamics.Processor
	fades    *fade.Scheduler
	bus      events.Bus
}

// New 创建混音器；opts 为 nil 时使用默认参数
func New(opts *Options) *Mixer {
	if opts == nil {
		opts = DefaultOptions()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	m := &Mixer{
		masterVolume:    channel.Clamp01(opts.MasterVolume),
		enabled:         opts.Enabled,
		dynamicsEnabled: opts.DynamicsEnabled,
		lastDt:          defaultDeltaTime,
		byType:          make(map[channel.Type]*channel.Channel),
		ducking:         ducking.NewEngine(bus),
		dynamics:        dynamics.NewProcessor(opts.Dynamics),
		fades:           fade.NewScheduler(fade.WithFrameInterval(opts.FadeFrameInterval), fade.WithPublisher(bus)),
		bus:             bus,
	}

	for _, t := range channel.Types() {
		ch := channel.New(t)
		if v, ok := opts.ChannelVolumes[t]; ok {
			ch.Reset(v)
		}
		m.channels = append(m.channels, ch)
		m.byType[t] = ch
	}

	m.ducking.SetResolution(opts.Resolution)
	m.ducking.SetActivityThreshold(opts.ActivityThreshold)
	m.ducking.SetEnabled(opts.DuckingEnabled)

	logging.Infof("Mixer: created, master=%.2f, ducking=%v (%s), dynamics=%v",
		m.masterVolume, opts.DuckingEnabled, opts.Resolution, opts.DynamicsEnabled)
	return m
}

// Channel 按类型查找通道
func (m *Mixer) Channel(t channel.Type) (*channel.Channel, error) {
	ch, ok := m.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", channel.ErrInvalidChannelType, int(t))
	}
	return ch, nil
}

// Channels 按声明顺序返回所有通道
func (m *Mixer) Channels() []*channel.Channel {
	return append([]*channel.Channel(nil), m.channels...)
}

func (m *Mixer) SetMasterVolume(v float32) {
	v = channel.Clamp01(v)
	m.mu.Lock()
	old := m.masterVolume
	m.masterVolume = v
	m.mu.Unlock()

	if old != v {
		logging.Debugf("Mixer: master volume %.3f -> %.3f", old, v)
		m.bus.Publish(events.NewMasterVolumeChangedEvent(old, v))
	}
}

func (m *Mixer) MasterVolume() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterVolume
}

// SetEnabled 关闭后所有通道的最终音量为 0
func (m *Mixer) SetEnabled(enabled bool) {
	m.mu.Lock()
	changed := m.enabled != enabled
	m.enabled = enabled
	m.mu.Unlock()
	if changed {
		logging.Infof("Mixer: enabled=%v", enabled)
	}
}

func (m *Mixer) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

func (m *Mixer) SetChannelVolume(t channel.Type, v float32) error {
	ch, err := m.Channel(t)
	if err != nil {
		return err
	}
	old := ch.Volume()
	if ch.SetVolume(v) {
		newValue := ch.Volume()
		logging.Debugf("Mixer: %s volume %.3f -> %.3f", t, old, newValue)
		m.bus.Publish(events.NewVolumeChangedEvent(t, old, newValue))
	}
	return nil
}

func (m *Mixer) ChannelVolume(t channel.Type) (float32, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return 0, err
	}
	return ch.Volume(), nil
}

func (m *Mixer) SetChannelMute(t channel.Type, muted bool) error {
	ch, err := m.Channel(t)
	if err != nil {
		return err
	}
	m.setMute(ch, muted)
	return nil
}

func (m *Mixer) setMute(ch *channel.Channel, muted bool) {
	if ch.SetMuted(muted) {
		logging.Debugf("Mixer: %s muted=%v", ch.Type(), muted)
		m.bus.Publish(events.NewMuteChangedEvent(ch.Type(), muted))
	}
}

func (m *Mixer) IsChannelMuted(t channel.Type) (bool, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return false, err
	}
	return ch.IsMuted(), nil
}

// ToggleMute 切换静音并返回新状态
func (m *Mixer) ToggleMute(t channel.Type) (bool, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return false, err
	}
	muted := !ch.IsMuted()
	m.setMute(ch, muted)
	return muted, nil
}

// FinalVolume 计算通道的最终输出音量。
// Master 只返回自身的有效音量；其余通道为 master * effective，
// 启用动态处理时再经过 ProcessVolume，结果限制在 [0,1]。
func (m *Mixer) FinalVolume(t channel.Type) float32 {
	ch, ok := m.byType[t]
	if !ok {
		return 0
	}

	m.mu.RLock()
	enabled := m.enabled
	master := m.masterVolume
	dynamicsEnabled := m.dynamicsEnabled
	dt := m.lastDt
	m.mu.RUnlock()

	if !enabled {
		return 0
	}
	if t == channel.Master {
		return ch.EffectiveVolume()
	}

	v := master * ch.EffectiveVolume()
	if dynamicsEnabled {
		v = m.dynamics.ProcessVolume(t.String(), v, dt)
	}
	return channel.Clamp01(v)
}

// Update 推进一帧：通道平滑，然后闪避引擎重新计算并写回闪避电平。
// 混音器关闭时不做任何事。
func (m *Mixer) Update(dt float32) {
	if dt < 0 || dt != dt {
		dt = 0
	}

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	if dt > 0 {
		m.lastDt = dt
	}
	m.mu.Unlock()
	logging.NextTick()

	for _, ch := range m.channels {
		ch.Update(dt)
	}
	m.ducking.Update(dt, m.channels)
}

// MuteAll 静音除 Master 外的所有通道
func (m *Mixer) MuteAll() {
	for _, ch := range m.channels {
		if ch.Type() == channel.Master {
			continue
		}
		m.setMute(ch, true)
	}
	logging.Infof("Mixer: muted all channels")
}

func (m *Mixer) UnmuteAll() {
	for _, ch := range m.channels {
		m.setMute(ch, false)
	}
	logging.Infof("Mixer: unmuted all channels")
}

// SoloChannel 静音除 t 与 Master 外的所有通道，并取消 t 的静音
func (m *Mixer) SoloChannel(t channel.Type) error {
	if _, err := m.Channel(t); err != nil {
		return err
	}
	for _, ch := range m.channels {
		switch ch.Type() {
		case channel.Master:
		case t:
			m.setMute(ch, false)
		default:
			m.setMute(ch, true)
		}
	}
	logging.Infof("Mixer: solo %s", t)
	return nil
}

// SetDucking 更新或新增 trigger -> affected 的闪避规则
func (m *Mixer) SetDucking(trigger channel.Type, affected []channel.Type, level float32) error {
	if err := m.ducking.DuckChannels(trigger, affected, level, ducking.Normal); err != nil {
		return err
	}
	logging.Infof("Mixer: ducking %s -> %v at %.2f", trigger, affected, level)
	return nil
}

// DuckMusic 音效活跃时将音乐压到 level
func (m *Mixer) DuckMusic(level float32) error {
	return m.SetDucking(channel.SoundEffects, []channel.Type{channel.Music}, level)
}

// StopDucking 清空所有规则并立即解除闪避
func (m *Mixer) StopDucking() {
	m.ducking.ClearRules()
	m.ducking.Release(m.channels)
	logging.Infof("Mixer: ducking stopped")
}

func (m *Mixer) SetDuckingEnabled(enabled bool) {
	m.ducking.SetEnabled(enabled)
	if !enabled {
		m.ducking.Release(m.channels)
	}
}

func (m *Mixer) Ducking() *ducking.Engine {
	return m.ducking
}

func (m *Mixer) FadeChannelAsync(ctx context.Context, t channel.Type, target float32, duration time.Duration) (*fade.Handle, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Mixer: fade %s %.3f -> %.3f over %s", t, ch.Volume(), target, duration)
	return m.fades.FadeChannelAsync(ctx, ch, target, duration), nil
}

func (m *Mixer) FadeInAsync(ctx context.Context, t channel.Type, target float32, duration time.Duration) (*fade.Handle, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return nil, err
	}
	return m.fades.FadeInAsync(ctx, ch, target, duration), nil
}

func (m *Mixer) FadeOutAsync(ctx context.Context, t channel.Type, duration time.Duration) (*fade.Handle, error) {
	ch, err := m.Channel(t)
	if err != nil {
		return nil, err
	}
	return m.fades.FadeOutAsync(ctx, ch, duration), nil
}

// CancelAllFades 取消所有淡变并等待其退出
func (m *Mixer) CancelAllFades() {
	m.fades.CancelAll()
}

func (m *Mixer) IsFading(t channel.Type) bool {
	return m.fades.IsFading(t)
}

func (m *Mixer) SetDynamicsEnabled(enabled bool) {
	m.mu.Lock()
	m.dynamicsEnabled = enabled
	m.mu.Unlock()
	logging.Infof("Mixer: dynamics enabled=%v", enabled)
}

func (m *Mixer) DynamicsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dynamicsEnabled
}

func (m *Mixer) Dynamics() *dynamics.Processor {
	return m.dynamics
}

// Statistics 返回所有有历史记录的通道的分析结果
func (m *Mixer) Statistics() map[string]dynamics.Analysis {
	return m.dynamics.Statistics()
}

func (m *Mixer) AnalyzeChannel(t channel.Type) (dynamics.Analysis, error) {
	if _, err := m.Channel(t); err != nil {
		return dynamics.Analysis{}, err
	}
	return m.dynamics.Analyze(t.String()), nil
}

// SaveConfiguration 导出持久化文档
func (m *Mixer) SaveConfiguration() Settings {
	m.mu.RLock()
	s := Settings{
		MasterVolume: m.masterVolume,
		Enabled:      m.enabled,
	}
	m.mu.RUnlock()

	s.Channels = make([]channel.Config, 0, len(m.channels))
	for _, ch := range m.channels {
		s.Channels = append(s.Channels, ch.Config())
	}
	s.VolumeController = m.dynamics.Config()
	s.DuckingController = m.ducking.Config()
	return s
}

// LoadConfiguration 逐通道加载；单个通道失败不影响其余部分，所有错误合并返回
func (m *Mixer) LoadConfiguration(s Settings) error {
	m.mu.Lock()
	m.masterVolume = channel.Clamp01(s.MasterVolume)
	m.enabled = s.Enabled
	m.mu.Unlock()

	var errs error
	for _, cfg := range s.Channels {
		ch, err := m.channelFor(cfg)
		if err != nil {
			logging.Warnf("Mixer: skip channel config %q: %v", cfg.Name, err)
			errs = multierr.Append(errs, err)
			continue
		}
		if err := ch.ApplyConfig(cfg); err != nil {
			logging.Warnf("Mixer: skip channel config %q: %v", cfg.Name, err)
			errs = multierr.Append(errs, err)
		}
	}

	m.dynamics.SetConfig(s.VolumeController)
	if err := m.ducking.ApplyConfig(s.DuckingController); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ducking: %w", err))
	}
	if !s.DuckingController.DuckingEnabled {
		m.ducking.Release(m.channels)
	}

	logging.Infof("Mixer: configuration loaded, channels=%d, errors=%d",
		len(s.Channels), len(multierr.Errors(errs)))
	return errs
}

// channelFor 优先按显示名称匹配通道，其次按类型；未知类型的条目直接拒绝
func (m *Mixer) channelFor(cfg channel.Config) (*channel.Channel, error) {
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("%w: channel entry %q", channel.ErrInvalidChannelType, cfg.Name)
	}
	if cfg.Name != "" {
		for _, ch := range m.channels {
			if ch.Name() == cfg.Name {
				return ch, nil
			}
		}
	}
	return m.Channel(cfg.Type)
}

// SaveTo 将当前配置写入外部存储
func (m *Mixer) SaveTo(store Store) error {
	if err := store.Save(m.SaveConfiguration()); err != nil {
		return fmt.Errorf("%w: save: %w", ErrPersistenceFailure, err)
	}
	return nil
}

// LoadFrom 从外部存储读取并加载配置
func (m *Mixer) LoadFrom(store Store) error {
	s, err := store.Load()
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrPersistenceFailure, err)
	}
	return m.LoadConfiguration(s)
}

// ResetToDefaults 取消所有淡变，恢复默认音量与规则，清空动态处理与闪避状态
func (m *Mixer) ResetToDefaults() {
	m.fades.CancelAll()

	m.mu.Lock()
	m.masterVolume = 1.0
	m.enabled = true
	m.mu.Unlock()

	for _, ch := range m.channels {
		ch.Reset(channel.DefaultVolume(ch.Type()))
		ch.SetName(ch.Type().String())
	}
	m.dynamics.Reset()
	m.ducking.Reset()
	m.ducking.Release(m.channels)

	logging.Infof("Mixer: reset to defaults")
	m.bus.Publish(events.NewMixerResetEvent())
}

// Snapshot 返回只读视图；Final 不经过动态处理，也不写入统计
func (m *Mixer) Snapshot() Snapshot {
	m.mu.RLock()
	snap := Snapshot{
		Tick:            logging.CurrentTick(),
		MasterVolume:    m.masterVolume,
		Enabled:         m.enabled,
		DynamicsEnabled: m.dynamicsEnabled,
	}
	m.mu.RUnlock()
	snap.DuckingEnabled = m.ducking.Enabled()

	states := m.ducking.States()
	for _, ch := range m.channels {
		t := ch.Type()
		effective := ch.EffectiveVolume()
		final := float32(0)
		if snap.Enabled {
			final = effective
			if t != channel.Master {
				final = channel.Clamp01(snap.MasterVolume * effective)
			}
		}
		snap.Channels = append(snap.Channels, ChannelSnapshot{
			Type:      t,
			Name:      ch.Name(),
			Volume:    ch.Volume(),
			Current:   ch.CurrentVolume(),
			Effective: effective,
			Final:     final,
			Muted:     ch.IsMuted(),
			Ducked:    ch.IsDucked(),
			DuckLevel: ch.DuckLevel(),
			Fading:    m.fades.IsFading(t),
		})

		st := states[t]
		snap.Ducking = append(snap.Ducking, DuckingSnapshot{
			Type:     t,
			Target:   st.TargetDuckLevel,
			Current:  st.CurrentDuckLevel,
			Active:   st.IsActive,
			Priority: st.Priority,
		})
	}
	return snap
}

func (m *Mixer) Events() events.Bus {
	return m.bus
}

func (m *Mixer) Subscribe(eventType events.EventType, handler events.EventHandler) uuid.UUID {
	return m.bus.Subscribe(eventType, handler)
}

func (m *Mixer) Unsubscribe(id uuid.UUID) bool {
	return m.bus.Unsubscribe(id)
}

// Close 取消并等待所有淡变任务，之后不再有写入
func (m *Mixer) Close() error {
	m.fades.CancelAll()
	logging.Infof("Mixer: closed")
	return nil
}
