package timer

import "testing"

func TestUptimeTracksTicks(t *testing.T) {
	ticks = 0
	hz = 100
	if UptimeNs() != 0 {
		t.Fatalf("fresh uptime should be zero, got %d", UptimeNs())
	}
	ticks = 100
	if got, want := UptimeNs(), int64(1e9); got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestBroadcastInvokesSubscribers(t *testing.T) {
	subscribers = nil
	called := 0
	Subscribe(func() { called++ })
	Subscribe(func() { called++ })
	Broadcast()
	if called != 2 {
		t.Fatalf("got %d calls, want 2", called)
	}
}
