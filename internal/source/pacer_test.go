package source

import (
	"context"
	"testing"
	"time"
)

func TestAgentsRotate(t *testing.T) {
	a := NewAgents([]string{"ua-1", "", "ua-2"})
	got := []string{a.Next(), a.Next(), a.Next()}
	want := []string{"ua-1", "ua-2", "ua-1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAgentsDefaultPool(t *testing.T) {
	a := NewAgents(nil)
	if len(a.Pool()) != len(DefaultUserAgents) {
		t.Fatalf("pool size = %d, want %d", len(a.Pool()), len(DefaultUserAgents))
	}
	seen := make(map[string]bool)
	for range DefaultUserAgents {
		seen[a.Next()] = true
	}
	if len(seen) != len(DefaultUserAgents) {
		t.Errorf("rotation covered %d agents, want %d", len(seen), len(DefaultUserAgents))
	}
}

func TestPacerDelayBounds(t *testing.T) {
	p := NewPacer(0, 100*time.Millisecond, 300*time.Millisecond)
	for range 200 {
		d := p.Delay()
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("delay %v outside [100ms, 300ms]", d)
		}
	}
}

func TestPacerSwappedBounds(t *testing.T) {
	p := NewPacer(0, 2*time.Second, time.Second)
	if d := p.Delay(); d != 2*time.Second {
		t.Errorf("delay = %v, want 2s", d)
	}
}

func TestPacerWaitSleeps(t *testing.T) {
	var slept []time.Duration
	orig := pacerSleepFunc
	pacerSleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { pacerSleepFunc = orig })

	p := NewPacer(0, 50*time.Millisecond, 50*time.Millisecond)
	for range 3 {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if len(slept) != 3 {
		t.Fatalf("slept %d times, want 3", len(slept))
	}
	for _, d := range slept {
		if d != 50*time.Millisecond {
			t.Errorf("slept %v, want 50ms", d)
		}
	}
}

func TestPacerNil(t *testing.T) {
	var p *Pacer
	if err := p.Wait(context.Background()); err != nil {
		t.Errorf("nil pacer Wait = %v", err)
	}
}

func TestPacerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPacer(0, time.Hour, time.Hour)
	if err := p.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}
