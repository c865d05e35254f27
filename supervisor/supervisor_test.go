package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownCancelsEveryTask(t *testing.T) {
	g := New(context.Background(), nil)
	done := make(chan struct{}, 2)
	g.Supervise("a", func(ctx context.Context) error {
		<-ctx.Done()
		done <- struct{}{}
		return nil
	}, Immediate)
	g.Supervise("b", func(ctx context.Context) error {
		<-ctx.Done()
		done <- struct{}{}
		return nil
	}, Wait(time.Second))

	g.Shutdown()
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("expected both tasks to observe cancellation, got %d", len(done))
	}
}

func TestTaskErrorTripsSignalForOthers(t *testing.T) {
	g := New(context.Background(), nil)
	stopped := make(chan struct{})
	g.Supervise("failing", func(ctx context.Context) error {
		return errors.New("boom")
	}, Immediate)
	g.Supervise("observer", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}, Immediate)

	err := g.Wait()
	if err == nil {
		t.Fatal("expected the failing task's error")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("observer task was not cancelled by the failing task")
	}
}

func TestPanicIsRecoveredAsError(t *testing.T) {
	g := New(context.Background(), nil)
	g.Supervise("panicker", func(ctx context.Context) error {
		panic("bad state")
	}, Immediate)

	if err := g.Wait(); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}
