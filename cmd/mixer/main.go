package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/liuscraft/orion-mixer/internal/audio"
	"github.com/liuscraft/orion-mixer/internal/channel"
	"github.com/liuscraft/orion-mixer/internal/config"
	"github.com/liuscraft/orion-mixer/internal/logging"
	"github.com/liuscraft/orion-mixer/internal/mixer"
)

var (
	configPath = flag.String("config", config.DefaultPath, "配置文件路径")
	outFile    = flag.String("out", "", "离线渲染到 WAV 文件（不打开音频设备）")
	phaseSecs  = flag.Float64("duration", 2.0, "每个阶段的持续时间（秒）")
	musicFile  = flag.String("music", "", "Music 通道使用的 16 位单声道 PCM 文件（默认使用正弦波）")
	pcmRate    = flag.Int("pcm-rate", 16000, "PCM 文件的采样率")
	help       = flag.Bool("h", false, "显示帮助信息")
)

type phase struct {
	title string
	apply func(m *mixer.Mixer)
}

// phases 依次演示：正常播放、音效闪避、语音闪避（高优先级）、释放、淡出
var phases = []phase{
	{"Music + Ambient 正常播放", func(m *mixer.Mixer) {
		_ = m.SetChannelMute(channel.SoundEffects, true)
		_ = m.SetChannelMute(channel.Voice, true)
	}},
	{"SoundEffects 开始，Music/Ambient 闪避到 0.6", func(m *mixer.Mixer) {
		_ = m.SetChannelMute(channel.SoundEffects, false)
	}},
	{"Voice 开始，High 优先级规则将 Music 压到 0.3", func(m *mixer.Mixer) {
		_ = m.SetChannelMute(channel.Voice, false)
	}},
	{"Voice/SoundEffects 结束，闪避按 FadeOutTime 释放", func(m *mixer.Mixer) {
		_ = m.SetChannelMute(channel.Voice, true)
		_ = m.SetChannelMute(channel.SoundEffects, true)
	}},
	{"Music 淡出", func(m *mixer.Mixer) {
		_, _ = m.FadeOutAsync(context.Background(), channel.Music, time.Duration(*phaseSecs*float64(time.Second)))
	}},
}

func main() {
	flag.Parse()
	if *help {
		printHelp()
		return
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetSessionID(logging.NewSessionID())

	opts, err := mixer.OptionsFromConfig(appConfig.Mixer)
	if err != nil {
		logging.Fatalf("Invalid mixer config: %v", err)
	}
	m := mixer.New(opts)
	defer m.Close()

	renderer := audio.NewRenderer(m)
	for name, freq := range appConfig.Output.ToneFreqs {
		t, err := channel.ParseType(name)
		if err != nil {
			logging.Fatalf("Invalid tone channel: %v", err)
		}
		renderer.SetSource(t, audio.NewTone(freq, appConfig.Output.SampleRate, 0.25))
	}
	if *musicFile != "" {
		f, err := os.Open(*musicFile)
		if err != nil {
			logging.Fatalf("Failed to open %s: %v", *musicFile, err)
		}
		clip, err := audio.LoadPCM16(f, *pcmRate, appConfig.Output.SampleRate, true)
		f.Close()
		if err != nil {
			logging.Fatalf("Failed to load %s: %v", *musicFile, err)
		}
		renderer.SetSource(channel.Music, clip)
	}

	fmt.Println("=== Mixer 闪避演示 ===")
	fmt.Println()

	tickRate := appConfig.Mixer.TickRate
	ticksPerPhase := int(*phaseSecs * float64(tickRate))
	if ticksPerPhase < 1 {
		ticksPerPhase = 1
	}
	if *outFile != "" {
		renderOffline(m, renderer, appConfig, ticksPerPhase)
		return
	}
	playLive(m, renderer, appConfig, ticksPerPhase)
}

func renderOffline(m *mixer.Mixer, renderer *audio.Renderer, cfg *config.AppConfig, ticksPerPhase int) {
	rec := audio.NewWAVRecorder(cfg.Output.SampleRate, cfg.Output.Channels)
	audio.Bounce(m, renderer, rec, ticksPerPhase*len(phases), cfg.Mixer.TickRate, func(tick int) {
		if tick%ticksPerPhase == 0 {
			enterPhase(m, tick/ticksPerPhase)
		}
		if tick%ticksPerPhase == ticksPerPhase-1 {
			printVolumes(m)
		}
	})
	if err := rec.Save(*outFile); err != nil {
		logging.Fatalf("Failed to write %s: %v", *outFile, err)
	}
	fmt.Printf("已写入 %s（%d 帧）\n", *outFile, rec.Frames())
}

func playLive(m *mixer.Mixer, renderer *audio.Renderer, cfg *config.AppConfig, ticksPerPhase int) {
	player, err := audio.NewPlayer(renderer, audio.PlayerConfig{
		SampleRate:   cfg.Output.SampleRate,
		Channels:     cfg.Output.Channels,
		BufferFrames: cfg.Output.BufferFrames,
	})
	if err != nil {
		logging.Fatalf("Failed to open audio output: %v", err)
	}
	defer player.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := player.Start(); err != nil {
		logging.Fatalf("Failed to start audio output: %v", err)
	}

	tickRate := cfg.Mixer.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	dt := float32(1) / float32(tickRate)

	for tick := 0; tick < ticksPerPhase*len(phases); tick++ {
		if tick%ticksPerPhase == 0 {
			enterPhase(m, tick/ticksPerPhase)
		}
		m.Update(dt)
		if tick%ticksPerPhase == ticksPerPhase-1 {
			printVolumes(m)
		}

		select {
		case <-ctx.Done():
			fmt.Println("已中断")
			return
		case <-ticker.C:
		}
	}

	fmt.Println()
	fmt.Println("=== 演示完成 ===")
}

func enterPhase(m *mixer.Mixer, i int) {
	if i >= len(phases) {
		return
	}
	fmt.Printf("%d. %s\n", i+1, phases[i].title)
	phases[i].apply(m)
}

func printVolumes(m *mixer.Mixer) {
	snap := m.Snapshot()
	for _, ch := range snap.Channels {
		if ch.Type == channel.Master {
			continue
		}
		fmt.Printf("   %-12s final=%.3f duck=%.3f muted=%v\n", ch.Type, ch.Final, ch.DuckLevel, ch.Muted)
	}
}

func printHelp() {
	fmt.Println("Mixer 闪避演示工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  go run ./cmd/mixer [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string")
	fmt.Println("        配置文件路径（默认 config/mixer.json，不存在时使用默认值）")
	fmt.Println("  -out string")
	fmt.Println("        离线渲染到 WAV 文件，不打开音频设备")
	fmt.Println("  -duration float")
	fmt.Println("        每个阶段的持续时间，单位秒（默认 2.0）")
	fmt.Println("  -music string")
	fmt.Println("        Music 通道的 16 位单声道 PCM 文件，按 -pcm-rate 重采样到输出采样率")
	fmt.Println("  -pcm-rate int")
	fmt.Println("        PCM 文件的采样率（默认 16000）")
	fmt.Println("  -h")
	fmt.Println("        显示此帮助信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  go run ./cmd/mixer")
	fmt.Println("  go run ./cmd/mixer -out=ducking.wav -duration=3")
}
