package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/bazaar/internal/clock"
)

func TestReal_Now(t *testing.T) {
	clk := clock.Real{}
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real.Now() = %v, expected between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Real.Now() location = %v, want UTC", got.Location())
	}
}

func TestMock_Now(t *testing.T) {
	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.Mock{T: fixed}

	if got := clk.Now(); !got.Equal(fixed) {
		t.Errorf("Mock.Now() = %v, want %v", got, fixed)
	}
	if got := clk.Now(); !got.Equal(fixed) {
		t.Errorf("Mock.Now() second call = %v, want %v", got, fixed)
	}
}

func TestManual(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)

	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	want := start.Add(90 * time.Minute)
	if got := clk.Advance(90 * time.Minute); !got.Equal(want) {
		t.Errorf("Advance() = %v, want %v", got, want)
	}
	if got := clk.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}

	clk.Set(start)
	if got := clk.Now(); !got.Equal(start) {
		t.Errorf("Now() after Set = %v, want %v", got, start)
	}
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Second)
		}()
	}
	wg.Wait()

	if got, want := clk.Now(), start.Add(50*time.Second); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}
