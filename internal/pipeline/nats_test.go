package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSub stays valid for a fixed number of IsValid polls, mimicking a
// subscription that keeps delivering for a while after Drain is initiated.
type fakeSub struct {
	drainErr   error
	validPolls int32
}

func (s *fakeSub) Drain() error { return s.drainErr }

func (s *fakeSub) IsValid() bool {
	return atomic.AddInt32(&s.validPolls, -1) >= 0
}

func TestDrainAndWaitBlocksForInflightHandler(t *testing.T) {
	sub := &fakeSub{validPolls: 3}

	var inflight sync.WaitGroup
	var handlerDone atomic.Bool

	// A handler call is mid-message when the stop function runs; stop must
	// not return until it finishes.
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		time.Sleep(300 * time.Millisecond)
		handlerDone.Store(true)
	}()

	if err := drainAndWait(sub, &inflight, time.Second); err != nil {
		t.Fatalf("drainAndWait: %v", err)
	}
	if !handlerDone.Load() {
		t.Fatal("drainAndWait returned with a handler still in flight")
	}
}

func TestDrainAndWaitOutlastsDeliveryTail(t *testing.T) {
	// The subscription reports valid for several polls; drainAndWait must
	// keep waiting rather than return on the first check.
	sub := &fakeSub{validPolls: 5}

	var inflight sync.WaitGroup
	start := time.Now()
	if err := drainAndWait(sub, &inflight, time.Second); err != nil {
		t.Fatalf("drainAndWait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, want at least one poll cycle per valid report", elapsed)
	}
}

func TestDrainAndWaitDeadline(t *testing.T) {
	// A subscription that never finishes draining must not hang forever.
	sub := &fakeSub{validPolls: 1 << 30}

	var inflight sync.WaitGroup
	start := time.Now()
	if err := drainAndWait(sub, &inflight, 100*time.Millisecond); err != nil {
		t.Fatalf("drainAndWait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("returned after %v, want the deadline to bound the wait", elapsed)
	}
}

func TestDrainAndWaitDrainError(t *testing.T) {
	sub := &fakeSub{drainErr: errors.New("connection closed")}

	var inflight sync.WaitGroup
	if err := drainAndWait(sub, &inflight, time.Second); err == nil {
		t.Fatal("expected drain error to surface")
	}
}
