package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"sunblind/api"
	"sunblind/config"
	"sunblind/dispatch"
	"sunblind/engine"
	"sunblind/history"
	"sunblind/statebus"
)

// recorderFan lets the API stream attach after the controllers are built.
type recorderFan struct {
	sinks []engine.Recorder
}

func (f *recorderFan) Add(r engine.Recorder) {
	f.sinks = append(f.sinks, r)
}

func (f *recorderFan) Push(rec history.TickRecord) {
	for _, s := range f.sinks {
		s.Push(rec)
	}
}

func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	out := io.Writer(os.Stdout)
	cleanup := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		cleanup = func() { f.Close() }
	}

	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log, cleanup, nil
}

func run() error {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, cleanup, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info("starting", "controllers", len(cfg.Controllers), "broker", cfg.MQTT.Broker)

	bus := statebus.NewBus(cfg.MQTT, log)
	if err := bus.Start(); err != nil {
		return fmt.Errorf("state bus: %w", err)
	}
	defer bus.Stop()

	if cfg.Dispatch.BaseTopic == "" {
		cfg.Dispatch.BaseTopic = cfg.MQTT.BaseTopic
	}
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, bus.Publisher(), log)

	buffer := history.NewBuffer(cfg.History.BufferSize)
	tee := &engine.TeeRecorder{Buffer: buffer}
	if cfg.History.CSVPath != "" {
		csv, err := history.NewCSVLog(cfg.History.CSVPath)
		if err != nil {
			return fmt.Errorf("history csv: %w", err)
		}
		defer csv.Close()
		tee.CSV = csv
	}
	recorder := &recorderFan{}
	recorder.Add(tee)

	controllers := make([]*engine.Controller, 0, len(cfg.Controllers))
	for _, cc := range cfg.Controllers {
		opts, err := cc.ToOptions()
		if err != nil {
			return fmt.Errorf("controller %q: %w", cc.Name, err)
		}
		controllers = append(controllers, engine.NewController(opts, bus, dispatcher, recorder, log))
	}

	eng := engine.New(engine.Config{TickInterval: cfg.TickInterval()}, bus, controllers, log)
	server := api.NewServer(eng, bus, buffer, log)
	recorder.Add(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return server.Run(ctx, cfg.API.Addr) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
