package dedup

import (
	"sync"
	"testing"
	"time"

	"waveline/pkg/update"
)

func TestCheckAndMarkSuppressesRepeats(t *testing.T) {
	g := NewGuard(time.Minute)

	if !g.CheckAndMark(42) {
		t.Fatal("first sighting must be fresh")
	}
	if g.CheckAndMark(42) {
		t.Fatal("second sighting within TTL must be suppressed")
	}
	if !g.CheckAndMark(43) {
		t.Fatal("different hash must be fresh")
	}
}

func TestMarkersExpire(t *testing.T) {
	g := NewGuard(time.Minute)
	current := time.Unix(1726000000, 0)
	g.now = func() time.Time { return current }

	if !g.CheckAndMark(42) {
		t.Fatal("first sighting must be fresh")
	}

	current = current.Add(time.Minute + time.Second)
	if !g.CheckAndMark(42) {
		t.Fatal("sighting after TTL must be fresh again")
	}
}

func TestConcurrentCheckAndMarkAdmitsExactlyOne(t *testing.T) {
	g := NewGuard(time.Minute)

	const goroutines = 32
	var wg sync.WaitGroup
	fresh := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CheckAndMark(7) {
				fresh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fresh)

	if got := len(fresh); got != 1 {
		t.Fatalf("fresh sightings = %d, want exactly 1", got)
	}
}

func TestLazySweepEvictsExpired(t *testing.T) {
	g := NewGuard(time.Minute)
	current := time.Unix(1726000000, 0)
	g.now = func() time.Time { return current }

	for i := 0; i < sweepEvery-1; i++ {
		g.CheckAndMark(uint64(i))
	}
	current = current.Add(2 * time.Minute)

	// The next insert crosses the sweep threshold and evicts everything
	// that expired above.
	g.CheckAndMark(99999)
	if got := g.Len(); got != 1 {
		t.Fatalf("Len after sweep = %d, want 1", got)
	}
}

func TestHashUpdateStableAndKindScoped(t *testing.T) {
	a := &update.Update{ID: "wamid.AAA", Kind: update.KindMessage}
	b := &update.Update{ID: "wamid.AAA", Kind: update.KindMessage}
	c := &update.Update{ID: "wamid.AAA", Kind: update.KindStatusChange}

	if HashUpdate(a) != HashUpdate(b) {
		t.Fatal("equal updates must hash identically")
	}
	if HashUpdate(a) == HashUpdate(c) {
		t.Fatal("different kinds must not collide on the same id")
	}
}
