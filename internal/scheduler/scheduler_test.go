package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu    sync.Mutex
	calls []int
	err   error
	ran   chan struct{}
}

func (p *fakePruner) PruneFeedback(_ context.Context, keep int) (int64, error) {
	p.mu.Lock()
	p.calls = append(p.calls, keep)
	p.mu.Unlock()
	if p.ran != nil {
		select {
		case p.ran <- struct{}{}:
		default:
		}
	}
	return 3, p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRetention_PassesCap(t *testing.T) {
	p := &fakePruner{}
	Retention(p, 200, time.Second, testLogger())()

	if len(p.calls) != 1 || p.calls[0] != 200 {
		t.Errorf("calls = %v, want [200]", p.calls)
	}
}

func TestRetention_ErrorDoesNotPanic(t *testing.T) {
	p := &fakePruner{err: errors.New("database is locked")}
	Retention(p, 10, time.Second, testLogger())()

	if len(p.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(p.calls))
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	p := &fakePruner{ran: make(chan struct{}, 1)}
	s := New(testLogger())
	if err := s.Add("retention", "@every 1s", Retention(p, 5, time.Second, testLogger())); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-p.ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(testLogger())
	if err := s.Add("bad", "every now and then", func() {}); err == nil {
		t.Error("expected an error for an invalid spec")
	}
}
