package audio

import (
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/liuscraft/orion-mixer/internal/logging"
)

// PlayerConfig 输出流参数
type PlayerConfig struct {
	SampleRate   int
	Channels     int
	BufferFrames int
}

func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:   48000,
		Channels:     2,
		BufferFrames: 1024,
	}
}

// Player 通过默认输出设备播放 Renderer 的混音结果
type Player struct {
	mu       sync.Mutex
	renderer *Renderer
	stream   *portaudio.Stream
	started  bool
}

func NewPlayer(renderer *Renderer, cfg PlayerConfig) (*Player, error) {
	if renderer == nil {
		return nil, errors.New("audio: nil renderer")
	}
	def := DefaultPlayerConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = def.BufferFrames
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	p := &Player{renderer: renderer}
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.BufferFrames, p.audioCallback)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	p.stream = stream
	logging.Infof("Player: opened default stream, rate=%d channels=%d frames=%d",
		cfg.SampleRate, cfg.Channels, cfg.BufferFrames)
	return p, nil
}

func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || p.started {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Stop 停止并关闭输出流，之后 Player 不可再用
func (p *Player) Stop() {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	started := p.started
	p.started = false
	p.mu.Unlock()

	if stream == nil {
		return
	}
	if started {
		if err := stream.Stop(); err != nil {
			logging.Errorf("Player: failed to stop stream: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		logging.Errorf("Player: failed to close stream: %v", err)
	}
	portaudio.Terminate()
}

func (p *Player) audioCallback(out [][]float32) {
	p.renderer.Render(out)
}
