package clock

import (
	"sync"
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("expected %v, got %v", start, got)
	}
	next := c.Advance(90 * time.Second)
	if !next.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("unexpected advance result %v", next)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatal("set did not reposition clock")
	}
}

func TestManualConcurrentAdvance(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	if got := c.Now(); !got.Equal(time.Unix(0, 0).Add(50 * time.Millisecond)) {
		t.Fatalf("lost updates: %v", got)
	}
}

func TestSystemIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}
