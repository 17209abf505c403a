package mixer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/config"
	"github.com/liuscraft/orion-mixer/internal/ducking"
	"github.com/liuscraft/orion-mixer/internal/events"
)

const tick = float32(1.0 / 60)

func newTestMixer() *Mixer {
	opts := DefaultOptions()
	opts.FadeFrameInterval = time.Millisecond
	return New(opts)
}

func run(m *Mixer, ticks int) {
	for i := 0; i < ticks; i++ {
		m.Update(tick)
	}
}

func approx(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-4
}

type memStore struct {
	saved   *Settings
	saveErr error
	loadErr error
}

func (s *memStore) Save(settings Settings) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = &settings
	return nil
}

func (s *memStore) Load() (Settings, error) {
	if s.loadErr != nil {
		return Settings{}, s.loadErr
	}
	if s.saved == nil {
		return Settings{}, errors.New("nothing saved")
	}
	return *s.saved, nil
}

func TestFinalVolumeScalesByMaster(t *testing.T) {
	m := newTestMixer()
	m.SetDuckingEnabled(false)

	if err := m.SetChannelVolume(channel.Music, 0.5); err != nil {
		t.Fatalf("SetChannelVolume: %v", err)
	}
	m.Update(1)

	if got := m.FinalVolume(channel.Music); got != 0.5 {
		t.Fatalf("expected final 0.5, got %v", got)
	}

	m.SetMasterVolume(0.5)
	if got := m.FinalVolume(channel.Music); got != 0.25 {
		t.Fatalf("expected final 0.25, got %v", got)
	}
	if got := m.FinalVolume(channel.Master); got != 1.0 {
		t.Fatalf("master channel must not apply master volume to itself, got %v", got)
	}
}

func TestMutedChannelIsSilent(t *testing.T) {
	m := newTestMixer()
	if err := m.SetChannelMute(channel.Voice, true); err != nil {
		t.Fatalf("SetChannelMute: %v", err)
	}
	if got := m.FinalVolume(channel.Voice); got != 0 {
		t.Fatalf("expected muted voice to be 0, got %v", got)
	}

	muted, err := m.ToggleMute(channel.Voice)
	if err != nil || muted {
		t.Fatalf("expected toggle to unmute, got muted=%v err=%v", muted, err)
	}
	m.Update(1)
	if got := m.FinalVolume(channel.Voice); got != 1.0 {
		t.Fatalf("expected unmuted voice to return to 1.0, got %v", got)
	}
}

func TestDisabledMixerIsSilent(t *testing.T) {
	m := newTestMixer()
	m.SetEnabled(false)
	for _, typ := range channel.Types() {
		if got := m.FinalVolume(typ); got != 0 {
			t.Fatalf("expected %s to be 0 while disabled, got %v", typ, got)
		}
	}
}

func TestUpdateNoOpWhileDisabled(t *testing.T) {
	m := newTestMixer()
	music, _ := m.Channel(channel.Music)
	before := music.CurrentVolume()

	m.SetEnabled(false)
	if err := m.SetChannelVolume(channel.Music, 0.1); err != nil {
		t.Fatalf("SetChannelVolume: %v", err)
	}
	m.Update(0.1)
	if got := music.CurrentVolume(); got != before {
		t.Fatalf("expected current to stay %v while disabled, got %v", before, got)
	}
	if m.Ducking().State(channel.Music).IsActive {
		t.Fatal("ducking must not run while disabled")
	}

	m.SetEnabled(true)
	m.Update(0.1)
	if got := music.CurrentVolume(); got == before {
		t.Fatalf("expected smoothing to resume after enabling, still %v", got)
	}
}

func TestInvalidChannelType(t *testing.T) {
	m := newTestMixer()
	bogus := channel.Type(42)

	if err := m.SetChannelVolume(bogus, 0.5); !errors.Is(err, channel.ErrInvalidChannelType) {
		t.Fatalf("expected ErrInvalidChannelType, got %v", err)
	}
	if _, err := m.Channel(bogus); !errors.Is(err, channel.ErrInvalidChannelType) {
		t.Fatalf("expected ErrInvalidChannelType, got %v", err)
	}
	if err := m.SoloChannel(bogus); err == nil {
		t.Fatal("expected error for solo on unknown channel")
	}
	if got := m.FinalVolume(bogus); got != 0 {
		t.Fatalf("expected 0 for unknown channel, got %v", got)
	}
}

func TestDuckMusicFollowsSoundEffects(t *testing.T) {
	m := newTestMixer()
	if err := m.SetChannelMute(channel.Voice, true); err != nil {
		t.Fatalf("SetChannelMute: %v", err)
	}
	if err := m.DuckMusic(0.3); err != nil {
		t.Fatalf("DuckMusic: %v", err)
	}
	music, _ := m.Channel(channel.Music)

	m.Update(tick)
	first := music.DuckLevel()
	if first >= 1 || first <= 0.3 {
		t.Fatalf("expected duck level to start moving toward 0.3, got %v", first)
	}

	run(m, 10)
	if music.DuckLevel() != 0.3 || !music.IsDucked() {
		t.Fatalf("expected music ducked at 0.3, got %v ducked=%v", music.DuckLevel(), music.IsDucked())
	}
	if got := m.FinalVolume(channel.Music); !approx(got, 0.8*0.3) {
		t.Fatalf("expected final 0.24, got %v", got)
	}

	if err := m.SetChannelMute(channel.SoundEffects, true); err != nil {
		t.Fatalf("SetChannelMute: %v", err)
	}
	m.Update(tick)
	if lvl := music.DuckLevel(); lvl <= 0.3 || lvl >= 1 {
		t.Fatalf("expected music to start releasing, got %v", lvl)
	}

	run(m, 40)
	if music.DuckLevel() != 1 || music.IsDucked() {
		t.Fatalf("expected music released, got %v ducked=%v", music.DuckLevel(), music.IsDucked())
	}
}

func TestStopDuckingReleasesImmediately(t *testing.T) {
	m := newTestMixer()
	run(m, 30)

	music, _ := m.Channel(channel.Music)
	if !music.IsDucked() {
		t.Fatal("expected default rules to duck music while voice is active")
	}

	m.StopDucking()
	if music.IsDucked() || music.DuckLevel() != 1 {
		t.Fatalf("expected duck released, got %v", music.DuckLevel())
	}
	if n := len(m.Ducking().Rules()); n != 0 {
		t.Fatalf("expected rules cleared, got %d", n)
	}

	run(m, 10)
	if music.IsDucked() {
		t.Fatal("no rules left, music must stay unducked")
	}
}

func TestDisablingDuckingReleases(t *testing.T) {
	m := newTestMixer()
	run(m, 30)
	m.SetDuckingEnabled(false)

	for _, ch := range m.Channels() {
		if ch.IsDucked() || ch.DuckLevel() != 1 {
			t.Fatalf("expected %s unducked, got %v", ch.Type(), ch.DuckLevel())
		}
	}
	run(m, 10)
	if ch, _ := m.Channel(channel.Music); ch.IsDucked() {
		t.Fatal("disabled engine must not duck")
	}
}

func TestNewFadeSupersedesPrevious(t *testing.T) {
	m := newTestMixer()
	ctx := context.Background()

	first, err := m.FadeChannelAsync(ctx, channel.Music, 0.0, 2*time.Second)
	if err != nil {
		t.Fatalf("FadeChannelAsync: %v", err)
	}
	second, err := m.FadeChannelAsync(ctx, channel.Music, 0.8, time.Second)
	if err != nil {
		t.Fatalf("FadeChannelAsync: %v", err)
	}
	second.Wait()

	select {
	case <-first.Done():
	default:
		t.Fatal("first fade still running")
	}
	if got := m.FinalVolume(channel.Music); got != 0.8 {
		t.Fatalf("expected final volume 0.8, got %v", got)
	}
}

func TestFadeOutAndIn(t *testing.T) {
	m := newTestMixer()
	ctx := context.Background()

	h, err := m.FadeOutAsync(ctx, channel.Ambient, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("FadeOutAsync: %v", err)
	}
	h.Wait()
	if v, _ := m.ChannelVolume(channel.Ambient); v != 0 {
		t.Fatalf("expected ambient at 0, got %v", v)
	}

	h, err = m.FadeInAsync(ctx, channel.Ambient, 0.5, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("FadeInAsync: %v", err)
	}
	h.Wait()
	if v, _ := m.ChannelVolume(channel.Ambient); v != 0.5 {
		t.Fatalf("expected ambient at 0.5, got %v", v)
	}
}

func TestCloseStopsFades(t *testing.T) {
	m := newTestMixer()
	var handles []interface{ Done() <-chan struct{} }
	for _, typ := range []channel.Type{channel.Music, channel.Voice, channel.UI} {
		h, err := m.FadeOutAsync(context.Background(), typ, 10*time.Second)
		if err != nil {
			t.Fatalf("FadeOutAsync: %v", err)
		}
		handles = append(handles, h)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatal("fade still running after Close")
		}
	}
	for _, typ := range []channel.Type{channel.Music, channel.Voice, channel.UI} {
		if m.IsFading(typ) {
			t.Fatalf("%s still fading", typ)
		}
	}
}

func TestBulkMuteOperations(t *testing.T) {
	m := newTestMixer()

	m.MuteAll()
	for _, ch := range m.Channels() {
		if want := ch.Type() != channel.Master; ch.IsMuted() != want {
			t.Fatalf("MuteAll: %s muted=%v", ch.Type(), ch.IsMuted())
		}
	}

	m.UnmuteAll()
	for _, ch := range m.Channels() {
		if ch.IsMuted() {
			t.Fatalf("UnmuteAll: %s still muted", ch.Type())
		}
	}

	if err := m.SoloChannel(channel.Voice); err != nil {
		t.Fatalf("SoloChannel: %v", err)
	}
	for _, ch := range m.Channels() {
		want := ch.Type() != channel.Master && ch.Type() != channel.Voice
		if ch.IsMuted() != want {
			t.Fatalf("SoloChannel: %s muted=%v", ch.Type(), ch.IsMuted())
		}
	}
}

func TestEventsPublishedOnChange(t *testing.T) {
	m := newTestMixer()
	var volumes []*events.VolumeChangedEvent
	var mutes []*events.MuteChangedEvent
	var masters []*events.MasterVolumeChangedEvent
	m.Subscribe(events.EventTypeVolumeChanged, func(ev events.Event) {
		volumes = append(volumes, ev.(*events.VolumeChangedEvent))
	})
	m.Subscribe(events.EventTypeMuteChanged, func(ev events.Event) {
		mutes = append(mutes, ev.(*events.MuteChangedEvent))
	})
	m.Subscribe(events.EventTypeMasterVolumeChanged, func(ev events.Event) {
		masters = append(masters, ev.(*events.MasterVolumeChangedEvent))
	})

	_ = m.SetChannelVolume(channel.Music, 0.5)
	_ = m.SetChannelVolume(channel.Music, 0.5)
	_ = m.SetChannelMute(channel.Music, true)
	_ = m.SetChannelMute(channel.Music, true)
	m.SetMasterVolume(2)

	if len(volumes) != 1 || volumes[0].OldValue != 0.8 || volumes[0].NewValue != 0.5 {
		t.Fatalf("unexpected volume events: %+v", volumes)
	}
	if len(mutes) != 1 || !mutes[0].Muted || mutes[0].Channel != channel.Music {
		t.Fatalf("unexpected mute events: %+v", mutes)
	}
	if len(masters) != 0 {
		t.Fatalf("clamped master at 1.0 is not a change, got %d events", len(masters))
	}

	m.SetMasterVolume(0.3)
	if len(masters) != 1 || masters[0].NewValue != 0.3 {
		t.Fatalf("unexpected master events: %+v", masters)
	}
}

func TestDynamicsRecordsStatistics(t *testing.T) {
	m := newTestMixer()
	m.SetDuckingEnabled(false)

	if len(m.Statistics()) != 0 {
		t.Fatal("expected no statistics before dynamics runs")
	}
	m.FinalVolume(channel.Music)
	if len(m.Statistics()) != 0 {
		t.Fatal("dynamics disabled must not record")
	}

	m.SetDynamicsEnabled(true)
	for i := 0; i < 5; i++ {
		if got := m.FinalVolume(channel.Music); !approx(got, 0.8) {
			t.Fatalf("default dynamics must pass through, got %v", got)
		}
	}

	a, err := m.AnalyzeChannel(channel.Music)
	if err != nil {
		t.Fatalf("AnalyzeChannel: %v", err)
	}
	if a.SampleCount != 5 || !approx(a.PeakLevel, 0.8) {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	if _, ok := m.Statistics()["Music"]; !ok {
		t.Fatalf("expected Music statistics, got %v", m.Statistics())
	}
}

func TestConfigurationRoundTrip(t *testing.T) {
	m := newTestMixer()
	m.SetMasterVolume(0.42)
	_ = m.SetChannelVolume(channel.Music, 0.33)
	_ = m.SetChannelMute(channel.Music, true)
	_ = m.SetChannelVolume(channel.Voice, 0.7)
	cfg := m.Dynamics().Config()
	cfg.CompressionEnabled = true
	m.Dynamics().SetConfig(cfg)

	saved := m.SaveConfiguration()

	other := newTestMixer()
	if err := other.LoadConfiguration(saved); err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}
	if other.MasterVolume() != 0.42 {
		t.Fatalf("expected master 0.42, got %v", other.MasterVolume())
	}
	for _, want := range saved.Channels {
		ch, _ := other.Channel(want.Type)
		if ch.Volume() != want.Volume || ch.IsMuted() != want.IsMuted {
			t.Fatalf("%s: expected %v/%v, got %v/%v", want.Type, want.Volume, want.IsMuted, ch.Volume(), ch.IsMuted())
		}
	}
	if !other.Dynamics().Config().CompressionEnabled {
		t.Fatal("expected dynamics config to be restored")
	}
	if got := len(other.Ducking().Rules()); got != len(saved.DuckingController.DuckingRules) {
		t.Fatalf("expected %d rules, got %d", len(saved.DuckingController.DuckingRules), got)
	}
}

func TestLoadConfigurationContinuesPastMismatch(t *testing.T) {
	m := newTestMixer()
	s := m.SaveConfiguration()
	s.Channels[1].Type = channel.Voice // 名称仍为 Music
	s.Channels[1].Volume = 0.1
	s.Channels[3].Volume = 0.2
	s.MasterVolume = 0.6

	err := m.LoadConfiguration(s)
	if !errors.Is(err, channel.ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}

	music, _ := m.Channel(channel.Music)
	if music.Volume() != 0.8 {
		t.Fatalf("mismatched entry must not touch Music, got %v", music.Volume())
	}
	voice, _ := m.Channel(channel.Voice)
	if voice.Volume() != 0.2 {
		t.Fatalf("expected the rest to load, voice=%v", voice.Volume())
	}
	if m.MasterVolume() != 0.6 {
		t.Fatalf("expected master 0.6, got %v", m.MasterVolume())
	}
}

func TestLoadConfigurationSkipsUnknownType(t *testing.T) {
	s := newTestMixer().SaveConfiguration()
	s.Channels[1].Volume = 0.3
	s.Channels = append(s.Channels, channel.Config{Type: channel.Invalid, Name: "Drums", Volume: 0.5})

	m := newTestMixer()
	err := m.LoadConfiguration(s)
	if !errors.Is(err, channel.ErrInvalidChannelType) {
		t.Fatalf("expected ErrInvalidChannelType, got %v", err)
	}
	if v, _ := m.ChannelVolume(channel.Music); v != 0.3 {
		t.Fatalf("expected valid entries to load, music=%v", v)
	}
}

func TestLoadConfigurationMatchesByName(t *testing.T) {
	m := newTestMixer()
	music, _ := m.Channel(channel.Music)
	music.SetName("Soundtrack")

	s := m.SaveConfiguration()
	s.Channels[1].Volume = 0.25

	other := newTestMixer()
	if err := other.LoadConfiguration(s); err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}
	ch, _ := other.Channel(channel.Music)
	if ch.Name() != "Soundtrack" || ch.Volume() != 0.25 {
		t.Fatalf("expected renamed music channel to load, got %q %v", ch.Name(), ch.Volume())
	}
}

func TestPersistenceFailureWrapped(t *testing.T) {
	m := newTestMixer()
	diskErr := errors.New("disk full")

	err := m.SaveTo(&memStore{saveErr: diskErr})
	if !errors.Is(err, ErrPersistenceFailure) || !errors.Is(err, diskErr) {
		t.Fatalf("expected wrapped persistence failure, got %v", err)
	}
	err = m.LoadFrom(&memStore{loadErr: diskErr})
	if !errors.Is(err, ErrPersistenceFailure) || !errors.Is(err, diskErr) {
		t.Fatalf("expected wrapped persistence failure, got %v", err)
	}

	store := &memStore{}
	_ = m.SetChannelVolume(channel.UI, 0.15)
	if err := m.SaveTo(store); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	other := newTestMixer()
	if err := other.LoadFrom(store); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if v, _ := other.ChannelVolume(channel.UI); v != 0.15 {
		t.Fatalf("expected UI 0.15, got %v", v)
	}
}

func TestResetToDefaults(t *testing.T) {
	m := newTestMixer()
	resets := 0
	m.Subscribe(events.EventTypeMixerReset, func(events.Event) { resets++ })

	m.SetMasterVolume(0.2)
	_ = m.SetChannelVolume(channel.Music, 0.1)
	_ = m.SetChannelMute(channel.UI, true)
	m.StopDucking()
	m.SetDynamicsEnabled(true)
	m.FinalVolume(channel.Music)
	h, _ := m.FadeOutAsync(context.Background(), channel.Voice, 10*time.Second)

	m.ResetToDefaults()

	select {
	case <-h.Done():
	default:
		t.Fatal("reset must cancel running fades")
	}
	if m.MasterVolume() != 1 {
		t.Fatalf("expected master 1, got %v", m.MasterVolume())
	}
	for _, ch := range m.Channels() {
		if ch.Volume() != channel.DefaultVolume(ch.Type()) || ch.IsMuted() || ch.IsDucked() {
			t.Fatalf("%s not reset: volume=%v muted=%v", ch.Type(), ch.Volume(), ch.IsMuted())
		}
	}
	if len(m.Statistics()) != 0 {
		t.Fatal("expected dynamics history cleared")
	}
	if got := len(m.Ducking().Rules()); got != len(ducking.DefaultRules()) {
		t.Fatalf("expected default rules restored, got %d", got)
	}
	if resets != 1 {
		t.Fatalf("expected one reset event, got %d", resets)
	}
}

func TestSnapshot(t *testing.T) {
	m := newTestMixer()
	m.SetMasterVolume(0.5)
	m.SetDuckingEnabled(false)
	m.Update(1)

	snap := m.Snapshot()
	if len(snap.Channels) != len(channel.Types()) || len(snap.Ducking) != len(channel.Types()) {
		t.Fatalf("unexpected snapshot sizes: %d/%d", len(snap.Channels), len(snap.Ducking))
	}
	music, ok := snap.Channel(channel.Music)
	if !ok {
		t.Fatal("missing Music in snapshot")
	}
	if music.Final != 0.4 || music.Volume != 0.8 {
		t.Fatalf("unexpected music snapshot: %+v", music)
	}
	master, _ := snap.Channel(channel.Master)
	if master.Final != 1 {
		t.Fatalf("expected master final 1, got %v", master.Final)
	}
	if snap.DuckingEnabled {
		t.Fatal("expected ducking disabled in snapshot")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Mixer
	cfg.MasterVolume = 0.9
	cfg.ChannelVolumes = map[string]float64{"music": 0.4}
	cfg.Ducking.Resolution = "level_or_priority"

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.Resolution != ducking.ResolveLevelOrPriority {
		t.Fatalf("expected level_or_priority, got %v", opts.Resolution)
	}
	if opts.Dynamics.AttackTime != float32(0.003) || opts.Dynamics.ReleaseTime != float32(0.1) {
		t.Fatalf("unexpected dynamics times: %+v", opts.Dynamics)
	}

	m := New(opts)
	if v, _ := m.ChannelVolume(channel.Music); v != 0.4 {
		t.Fatalf("expected configured music volume 0.4, got %v", v)
	}
	if m.MasterVolume() != 0.9 {
		t.Fatalf("expected master 0.9, got %v", m.MasterVolume())
	}

	cfg.ChannelVolumes = map[string]float64{"Drums": 0.4}
	if _, err := OptionsFromConfig(cfg); !errors.Is(err, channel.ErrInvalidChannelType) {
		t.Fatalf("expected ErrInvalidChannelType, got %v", err)
	}
}
