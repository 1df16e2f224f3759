package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pickupdrop/checkout/internal/config"
)

type stopLog struct {
	mu    sync.Mutex
	names []string
}

func (l *stopLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	blocking bool
	stops    *stopLog
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.blocking {
		<-ctx.Done()
		return nil
	}
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.stops.add(s.name)
	return s.stopErr
}

func TestRunnerStopsInReverseOrderAfterFirstExit(t *testing.T) {
	stops := &stopLog{}
	runner := NewRunner(
		&fakeService{name: "http", blocking: true, stops: stops},
		&fakeService{name: "sweep", stops: stops},
	)
	closed := false
	runner.OnClose(func() error {
		closed = true
		return nil
	})

	if err := runner.Run(context.Background(), time.Second, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.Join(stops.names, ",") != "sweep,http" {
		t.Fatalf("unexpected stop order: %v", stops.names)
	}
	if !closed {
		t.Fatalf("expected close hook to run")
	}
}

func TestRunnerJoinsStartAndStopErrors(t *testing.T) {
	stops := &stopLog{}
	startErr := errors.New("listen failed")
	stopErr := errors.New("shutdown failed")
	runner := NewRunner(
		&fakeService{name: "http", startErr: startErr, stops: stops},
		&fakeService{name: "worker", blocking: true, stopErr: stopErr, stops: stops},
	)

	err := runner.Run(context.Background(), time.Second, nil)
	if !errors.Is(err, startErr) || !errors.Is(err, stopErr) {
		t.Fatalf("expected joined errors, got: %v", err)
	}
}

func TestRunnerExitsOnContextCancel(t *testing.T) {
	stops := &stopLog{}
	runner := NewRunner(&fakeService{name: "worker", blocking: true, stops: stops})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runner.Run(ctx, time.Second, nil); err != nil {
		t.Fatalf("cancelled run should exit cleanly, got: %v", err)
	}
	if len(stops.names) != 1 {
		t.Fatalf("expected service stopped once, got %v", stops.names)
	}
}

func TestBuildRunnerRejectsUnknownMode(t *testing.T) {
	if _, err := BuildRunner(&config.Config{}, "batch"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if _, err := BuildRunner(nil, ModeAPI); err == nil {
		t.Fatalf("expected nil config error")
	}
}

func TestOptionsDefaultsFromConfig(t *testing.T) {
	opts := Options{Config: &config.Config{Server: config.ServerConfig{ShutdownTimeoutSeconds: 4}}}.withDefaults()
	if opts.Mode != ModeAll || opts.ShutdownTimeout != 4*time.Second || opts.Logger == nil {
		t.Fatalf("unexpected defaults: mode=%s timeout=%s", opts.Mode, opts.ShutdownTimeout)
	}
}
