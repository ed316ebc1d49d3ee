package quota

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func TestTryAcquireUnderCap(t *testing.T) {
	e := New(5, nil)

	for i := 0; i < 5; i++ {
		if !e.TryAcquire("u1") {
			t.Fatalf("TryAcquire false at %d/5 used", i)
		}
	}

	if e.TryAcquire("u1") {
		t.Error("TryAcquire true at cap")
	}
	remaining, unlimited := e.Remaining("u1")
	if unlimited || remaining != 0 {
		t.Errorf("Remaining = %d, %v; want 0, false", remaining, unlimited)
	}
}

func TestElevatedBypassesQuota(t *testing.T) {
	e := New(1, []string{"vip"})

	for i := 0; i < 10; i++ {
		if !e.TryAcquire("vip") {
			t.Fatal("elevated user denied")
		}
	}

	if _, unlimited := e.Remaining("vip"); !unlimited {
		t.Error("elevated user not reported as unlimited")
	}
	if c := e.Classify("vip"); c.Tier != TierElevated || !c.BypassesQuota {
		t.Errorf("Classify(vip) = %+v", c)
	}
	if c := e.Classify("pleb"); c.Tier != TierStandard || c.BypassesQuota {
		t.Errorf("Classify(pleb) = %+v", c)
	}
}

func TestWindowRollsOverAtMidnightUTC(t *testing.T) {
	now, advance := testClock(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	e := New(2, nil)
	e.now = now

	e.TryAcquire("u1")
	e.TryAcquire("u1")
	if e.TryAcquire("u1") {
		t.Fatal("TryAcquire true at cap before rollover")
	}

	// Cross midnight: the stale window must read as empty.
	advance(2 * time.Hour)
	if remaining, _ := e.Remaining("u1"); remaining != 2 {
		t.Errorf("Remaining after rollover = %d, want 2", remaining)
	}

	// First acquisition of the new day starts a fresh window.
	if !e.TryAcquire("u1") {
		t.Error("TryAcquire false after window rollover")
	}
	if used, _ := e.Used("u1"); used != 1 {
		t.Errorf("used after rollover = %d, want 1", used)
	}
}

func TestReadsDoNotMutate(t *testing.T) {
	now, advance := testClock(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	e := New(3, nil)
	e.now = now

	e.TryAcquire("u1")
	advance(2 * time.Hour) // window now stale

	// Repeated reads of a stale window must not write anything back.
	for i := 0; i < 3; i++ {
		e.Used("u1")
		e.Remaining("u1")
	}
	w, ok := e.windows.Get("u1")
	if !ok {
		t.Fatal("window vanished")
	}
	if w.count != 1 {
		t.Errorf("reads mutated stored count to %d", w.count)
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	e := New(100, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.TryAcquire("u1")
		}()
	}
	wg.Wait()

	if used, _ := e.Used("u1"); used != 50 {
		t.Errorf("used = %d, want 50", used)
	}
}

func TestTryAcquireLastSlotSingleWinner(t *testing.T) {
	e := New(1, nil)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.TryAcquire("u1") {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 1 {
		t.Errorf("%d goroutines acquired the last slot, want exactly 1", got)
	}
	if used, _ := e.Used("u1"); used != 1 {
		t.Errorf("used = %d, want 1", used)
	}
}

func TestRefundRestoresSlot(t *testing.T) {
	e := New(1, nil)

	if !e.TryAcquire("u1") {
		t.Fatal("first acquire failed")
	}
	if e.TryAcquire("u1") {
		t.Fatal("acquire succeeded past cap")
	}

	e.Refund("u1")
	if remaining, _ := e.Remaining("u1"); remaining != 1 {
		t.Errorf("Remaining after refund = %d, want 1", remaining)
	}
	if !e.TryAcquire("u1") {
		t.Error("acquire failed after refund")
	}
}

func TestRefundWithoutAcquireIsNoop(t *testing.T) {
	now, advance := testClock(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	e := New(2, nil)
	e.now = now

	// Never below zero for an untouched user.
	e.Refund("u1")
	if used, _ := e.Used("u1"); used != 0 {
		t.Errorf("used after refund of empty window = %d, want 0", used)
	}

	// A stale window is not refundable either.
	e.TryAcquire("u1")
	advance(2 * time.Hour)
	e.Refund("u1")
	w, ok := e.windows.Get("u1")
	if !ok {
		t.Fatal("window vanished")
	}
	if w.count != 1 {
		t.Errorf("refund mutated a stale window to %d", w.count)
	}
}
