package backoff

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.Initial != time.Second {
		t.Errorf("Initial = %v, want 1s", p.Initial)
	}
	if p.Max != 30*time.Second {
		t.Errorf("Max = %v, want 30s", p.Max)
	}
	if p.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", p.Multiplier)
	}
	if p.Jitter != 0.2 {
		t.Errorf("Jitter = %v, want 0.2", p.Jitter)
	}
}

func TestPolicy_BaseGrowth(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Base(attempt); got != w {
			t.Errorf("Base(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestPolicy_BaseNonDecreasing(t *testing.T) {
	p := Policy{Initial: 250 * time.Millisecond, Max: 10 * time.Second, Multiplier: 1.7}

	prev := time.Duration(0)
	for attempt := 0; attempt < 64; attempt++ {
		d := p.Base(attempt)
		if d < prev {
			t.Fatalf("Base(%d) = %v, decreased from %v", attempt, d, prev)
		}
		if d > p.Max {
			t.Fatalf("Base(%d) = %v, exceeds cap %v", attempt, d, p.Max)
		}
		prev = d
	}
	if prev != p.Max {
		t.Errorf("final delay = %v, want cap %v", prev, p.Max)
	}
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0, Jitter: 0.5}

	for attempt := 0; attempt < 8; attempt++ {
		base := p.Base(attempt)
		hi := base + time.Duration(float64(base)*p.Jitter)

		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < base || d > hi {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, d, base, hi)
			}
		}
	}
}

func TestPolicy_NoJitterIsDeterministic(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0}

	for attempt := 0; attempt < 8; attempt++ {
		if got, want := p.Delay(attempt), p.Base(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestPolicy_ZeroInitial(t *testing.T) {
	p := Policy{Max: 30 * time.Second, Multiplier: 2.0}

	if got := p.Delay(3); got != 0 {
		t.Errorf("Delay(3) = %v, want 0 for zero Initial", got)
	}
}
