package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingWorker panics or succeeds on demand, counting its runs.
type countingWorker struct {
	runs     atomic.Int64
	panicMsg string
}

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.panicMsg != "" {
		panic(w.panicMsg)
	}
	return nil
}

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	worker := &countingWorker{panicMsg: "boom"}

	sup := NewSupervisor(log)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	go sup.Add(worker).Run(ctx)

	// Waiting for panics and restarts
	time.Sleep(900 * time.Millisecond)

	req.GreaterOrEqual(worker.runs.Load(), int64(2))
}

func TestSupervisor_StopOnSuccess(t *testing.T) {
	req := require.New(t)
	log := slog.Default()

	// Given a worker running only once
	worker := &countingWorker{}

	sup := NewSupervisor(log)

	// Given a channel to notify when Run() terminated
	done := make(chan struct{})

	go func() {
		sup.Add(worker).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Then supervisor detected a success, returned nil and stopped
		req.Equal(int64(1), worker.runs.Load())
	case <-time.After(500 * time.Millisecond):
		req.Fail("Supervisor should have stopped after worker success")
	}
}

func TestSupervisor_Stop_Cancels_Running_Workers(t *testing.T) {
	req := require.New(t)
	sup := NewSupervisor(slog.Default())

	blocked := blockingWorker{started: make(chan struct{}, 1)}
	done := make(chan struct{})
	go func() {
		sup.Add(&blocked).Run(context.Background())
		close(done)
	}()
	<-blocked.started

	sup.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Supervisor should have unblocked after Stop")
	}
}

type blockingWorker struct {
	started chan struct{}
}

func (w *blockingWorker) Run(ctx context.Context) error {
	w.started <- struct{}{}
	<-ctx.Done()
	return nil
}
