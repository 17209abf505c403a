package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liuscraft/orion-mixer/internal/config"
	"github.com/liuscraft/orion-mixer/internal/events"
	"github.com/liuscraft/orion-mixer/internal/logging"
	"github.com/liuscraft/orion-mixer/internal/mixer"
	"github.com/liuscraft/orion-mixer/internal/monitor"
	"github.com/liuscraft/orion-mixer/internal/settings"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "config file path")
	flag.Parse()

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

	logging.Infof("========================================")
	logging.Infof("        Mixer Daemon Starting...        ")
	logging.Infof("========================================")

	opts, err := mixer.OptionsFromConfig(appConfig.Mixer)
	if err != nil {
		logging.Fatalf("Invalid mixer config: %v", err)
	}
	m := mixer.New(opts)

	store := settings.NewFileStore(appConfig.Settings.Path)
	if err := m.LoadFrom(store); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Infof("No saved settings at %s, using defaults", appConfig.Settings.Path)
		} else {
			logging.Warnf("Settings loaded with errors: %v", err)
		}
	}

	m.Subscribe(events.EventTypeDuckingStateChanged, func(ev events.Event) {
		e := ev.(*events.DuckingStateChangedEvent)
		logging.Infof("Ducking: %s ducked=%v level=%.2f", e.Channel, e.Ducked, e.DuckLevel)
	})
	m.Subscribe(events.EventTypeActivityChanged, func(ev events.Event) {
		e := ev.(*events.ActivityChangedEvent)
		logging.Debugf("Activity: %s active=%v", e.Channel, e.Active)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runTicks(ctx, m, appConfig.Mixer.TickRate)

	srv := monitor.NewServer(m, time.Duration(appConfig.Monitor.BroadcastMs)*time.Millisecond)
	logging.Infof("Mixer daemon running, monitor at ws://%s/ws. Press Ctrl+C to stop.", appConfig.Monitor.Addr)
	if err := srv.ListenAndServe(ctx, appConfig.Monitor.Addr); err != nil {
		logging.Errorf("Monitor stopped: %v", err)
	}

	logging.Infof("Shutting down...")
	if err := m.Close(); err != nil {
		logging.Errorf("Error closing mixer: %v", err)
	}
	if appConfig.Settings.Autosave {
		if err := m.SaveTo(store); err != nil {
			logging.Errorf("Failed to save settings: %v", err)
		}
	}
}

// runTicks 以固定频率驱动混音器，使用实际经过的时间作为 dt
func runTicks(ctx context.Context, m *mixer.Mixer, tickRate int) {
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Update(float32(now.Sub(last).Seconds()))
			last = now
		}
	}
}
