package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shuttle/internal/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	totals map[string]int
	loads  map[string]int
}

func newFakeSource(totals map[string]int) *fakeSource {
	return &fakeSource{totals: totals, loads: map[string]int{}}
}

func (s *fakeSource) JourneyCapacity(_ context.Context, id string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, ok := s.totals[id]
	if !ok {
		return 0, 0, domain.NotFoundError{Resource: "journey", Err: domain.ErrJourneyNotFound}
	}
	s.loads[id]++
	return total, 0, nil
}

func TestReserveRejectsOverCapacity(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"j1": 2}), nil)

	if err := l.Reserve(ctx, "j1", 2, false); err != nil {
		t.Fatalf("reserve 2 of 2: %v", err)
	}
	err := l.Reserve(ctx, "j1", 1, false)
	if !errors.Is(err, domain.ErrInsufficientCapacity) {
		t.Fatalf("expected insufficient capacity, got %v", err)
	}
	var capErr domain.CapacityError
	if !errors.As(err, &capErr) || capErr.Available != 0 || capErr.Requested != 1 {
		t.Fatalf("unexpected capacity error: %+v", capErr)
	}
	if got, _ := l.CurrentReserved(ctx, "j1"); got != 2 {
		t.Fatalf("reserved should stay 2, got %d", got)
	}
}

func TestReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"j1": 2}), nil)

	if err := l.Reserve(ctx, "j1", 2, false); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(ctx, "j1", 2); err != nil {
		t.Fatal(err)
	}
	if got, _ := l.Available(ctx, "j1"); got != 2 {
		t.Fatalf("available after release: got %d want 2", got)
	}
	if err := l.Reserve(ctx, "j1", 1, false); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReleaseUnderflowIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"j1": 4}), nil)
	if err := l.Reserve(ctx, "j1", 1, false); err != nil {
		t.Fatal(err)
	}
	err := l.Release(ctx, "j1", 2)
	if !errors.Is(err, domain.ErrInvariantViolation) || !domain.IsInternal(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if got, _ := l.CurrentReserved(ctx, "j1"); got != 1 {
		t.Fatalf("failed release must not change ledger, got %d", got)
	}
}

func TestOverbookAllowed(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"j1": 1}), nil)
	if err := l.Reserve(ctx, "j1", 3, true); err != nil {
		t.Fatalf("overbook should pass: %v", err)
	}
	if got, _ := l.Available(ctx, "j1"); got != -2 {
		t.Fatalf("available after overbook: got %d want -2", got)
	}
}

func TestUnknownJourney(t *testing.T) {
	l := New(newFakeSource(map[string]int{}), nil)
	err := l.Reserve(context.Background(), "nope", 1, false)
	if !errors.Is(err, domain.ErrJourneyNotFound) {
		t.Fatalf("expected journey not found, got %v", err)
	}
}

func TestAtomicallyDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"a": 5, "b": 5}), nil)
	boom := errors.New("persist failed")

	err := l.Atomically(ctx, []string{"b", "a", "a"}, func(tx *Tx) error {
		if err := tx.Reserve("a", 2, false); err != nil {
			return err
		}
		if err := tx.Reserve("b", 3, false); err != nil {
			return err
		}
		if tx.Reserved("a") != 2 || tx.Available("b") != 2 {
			t.Fatalf("staged view wrong: a=%d b.avail=%d", tx.Reserved("a"), tx.Available("b"))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if got, _ := l.CurrentReserved(ctx, id); got != 0 {
			t.Fatalf("%s: staged change leaked, reserved=%d", id, got)
		}
	}
}

func TestAtomicallyRejectsUnlockedJourney(t *testing.T) {
	l := New(newFakeSource(map[string]int{"a": 5, "b": 5}), nil)
	err := l.Atomically(context.Background(), []string{"a"}, func(tx *Tx) error {
		return tx.Reserve("b", 1, false)
	})
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation for unlocked journey, got %v", err)
	}
}

func TestSetTotalAndDrop(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(map[string]int{"j": 3})
	l := New(src, nil)

	err := l.Atomically(ctx, []string{"j"}, func(tx *Tx) error {
		return tx.SetTotal("j", 10)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := l.Available(ctx, "j"); got != 10 {
		t.Fatalf("available after SetTotal: %d", got)
	}

	if err := l.Atomically(ctx, []string{"j"}, func(tx *Tx) error { return tx.Drop("j") }); err != nil {
		t.Fatal(err)
	}
	// dropped entry is reloaded from the source, which still says 3
	if got, _ := l.Available(ctx, "j"); got != 3 {
		t.Fatalf("available after drop+reload: %d", got)
	}
	if src.loads["j"] != 2 {
		t.Fatalf("expected 2 loads, got %d", src.loads["j"])
	}
}

func TestForgetReloadsFromSource(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(map[string]int{"j": 4})
	l := New(src, nil)

	if err := l.Reserve(ctx, "j", 3, false); err != nil {
		t.Fatal(err)
	}
	l.Forget("j")
	// the source reports no reservations, so the reload frees the seats
	if got, _ := l.Available(ctx, "j"); got != 4 {
		t.Fatalf("available after forget: %d", got)
	}
	if src.loads["j"] != 2 {
		t.Fatalf("expected 2 loads, got %d", src.loads["j"])
	}

	l.Forget("never-loaded")
	if src.loads["never-loaded"] != 0 {
		t.Fatalf("forget must not load")
	}
}

func TestConcurrentReserveNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	const capacity = 10
	l := New(newFakeSource(map[string]int{"j": capacity}), nil)

	var wg sync.WaitGroup
	var ok, rejected int64
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := l.Reserve(ctx, "j", 1, false)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, domain.ErrInsufficientCapacity):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != capacity || rejected != 40 {
		t.Fatalf("ok=%d rejected=%d", ok, rejected)
	}
	if got, _ := l.CurrentReserved(ctx, "j"); got != capacity {
		t.Fatalf("reserved=%d want %d", got, capacity)
	}
}

func TestConcurrentReserveReleaseLinearizable(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeSource(map[string]int{"j": 3}), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				if err := l.Reserve(ctx, "j", 1, false); err == nil {
					if err := l.Release(ctx, "j", 1); err != nil {
						t.Errorf("release: %v", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	if got, _ := l.CurrentReserved(ctx, "j"); got != 0 {
		t.Fatalf("lost update: reserved=%d", got)
	}
}

type blockingSource struct {
	*fakeSource
	block chan struct{}
}

func (s *blockingSource) JourneyCapacity(ctx context.Context, id string) (int, int, error) {
	if id == "slow" {
		<-s.block
	}
	return s.fakeSource.JourneyCapacity(ctx, id)
}

func TestDifferentJourneysDoNotBlock(t *testing.T) {
	ctx := context.Background()
	src := &blockingSource{
		fakeSource: newFakeSource(map[string]int{"slow": 1, "fast": 1}),
		block:      make(chan struct{}),
	}
	l := New(src, nil)

	go func() { _ = l.Reserve(ctx, "slow", 1, false) }()

	done := make(chan error, 1)
	go func() { done <- l.Reserve(ctx, "fast", 1, false) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fast reserve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reservation on another journey was blocked")
	}
	close(src.block)
}
