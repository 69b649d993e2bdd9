package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/sqs"
	"github.com/lalithlochan/zenpush/internal/worker"
)

// Mock ticker
type mockTicker struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
}

func (m *mockTicker) RunTick(ctx context.Context) (*worker.Result, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return &worker.Result{Sent: 1}, nil
}

// Mock locker
type mockLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
}

func (m *mockLocker) Acquire(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if m.held {
		return func(context.Context) error { return nil }, false, nil
	}
	m.held = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.held = false
		m.released++
		return nil
	}, true, nil
}

func TestRunner_Run(t *testing.T) {
	ticker := &mockTicker{}
	r := NewRunner(ticker, nil, zap.NewNop())

	res, err := r.Run(context.Background(), "http")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 || ticker.calls.Load() != 1 {
		t.Errorf("res = %+v calls = %d", res, ticker.calls.Load())
	}
}

func TestRunner_RejectsOverlappingTick(t *testing.T) {
	ticker := &mockTicker{started: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(ticker, nil, zap.NewNop())

	done := make(chan error)
	go func() {
		_, err := r.Run(context.Background(), "cron")
		done <- err
	}()
	<-ticker.started

	if _, err := r.Run(context.Background(), "http"); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}

	close(ticker.release)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if ticker.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", ticker.calls.Load())
	}

	// guard is released afterwards
	ticker.started, ticker.release = nil, nil
	if _, err := r.Run(context.Background(), "http"); err != nil {
		t.Fatalf("tick after release: %v", err)
	}
}

func TestRunner_DistributedLock(t *testing.T) {
	locker := &mockLocker{}
	ticker := &mockTicker{}
	r := NewRunner(ticker, locker, zap.NewNop())

	if _, err := r.Run(context.Background(), "cron"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locker.released != 1 || locker.held {
		t.Errorf("lock not released: %+v", locker)
	}

	locker.held = true
	if _, err := r.Run(context.Background(), "cron"); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected ErrTickInProgress, got %v", err)
	}
	if ticker.calls.Load() != 1 {
		t.Errorf("tick ran while another replica held the lock")
	}
}

func TestRunner_LockErrorFallsBackToLocalGuard(t *testing.T) {
	ticker := &mockTicker{}
	r := NewRunner(ticker, &mockLocker{err: errors.New("redis down")}, zap.NewNop())

	if _, err := r.Run(context.Background(), "cron"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticker.calls.Load() != 1 {
		t.Error("tick should still run when the lock backend is down")
	}
}

func TestRunner_PropagatesScanFailure(t *testing.T) {
	ticker := &mockTicker{err: worker.ErrScan}
	r := NewRunner(ticker, nil, zap.NewNop())

	if _, err := r.Run(context.Background(), "sqs"); !errors.Is(err, worker.ErrScan) {
		t.Fatalf("expected ErrScan, got %v", err)
	}
}

func TestCronTrigger_InvalidSchedule(t *testing.T) {
	c := NewCronTrigger(NewRunner(&mockTicker{}, nil, zap.NewNop()), "every five minutes", time.UTC, zap.NewNop())
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestCronTrigger_Fires(t *testing.T) {
	ticker := &mockTicker{}
	c := NewCronTrigger(NewRunner(ticker, nil, zap.NewNop()), "@every 1s", time.UTC, zap.NewNop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for ticker.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	c.Stop()

	if ticker.calls.Load() == 0 {
		t.Fatal("cron trigger never fired")
	}
}

// Mock queue
type mockQueue struct {
	mu       sync.Mutex
	requests []*sqs.TickRequest
	deleted  []string
	cancel   context.CancelFunc
}

func (m *mockQueue) Receive(ctx context.Context) (*sqs.TickRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		m.cancel()
		return nil, nil
	}
	req := m.requests[0]
	m.requests = m.requests[1:]
	return req, nil
}

func (m *mockQueue) Delete(ctx context.Context, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, receiptHandle)
	return nil
}

func TestSQSTrigger_DeletesOnlyServedRequests(t *testing.T) {
	tests := []struct {
		name        string
		tickErr     error
		wantDeleted int
	}{
		{"success", nil, 1},
		{"scan_failure_redelivered", worker.ErrScan, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			queue := &mockQueue{
				requests: []*sqs.TickRequest{{MessageID: "m-1", ReceiptHandle: "rh-1"}},
				cancel:   cancel,
			}
			ticker := &mockTicker{err: tt.tickErr}
			NewSQSTrigger(NewRunner(ticker, nil, zap.NewNop()), queue, zap.NewNop()).Run(ctx)

			if ticker.calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", ticker.calls.Load())
			}
			if len(queue.deleted) != tt.wantDeleted {
				t.Errorf("deleted = %v, want %d", queue.deleted, tt.wantDeleted)
			}
		})
	}
}
