package config

import "testing"

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	c := Default()
	if c.TimerHz != 100 || c.InitPath != "/init" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestParseOverridesKnownKeys(t *testing.T) {
	Active = Default()
	Parse("console=ttyS0 timer.hz=250 init=/sbin/init virtio.timeout_ms=1000 virtio.retries=5")

	if Active.TimerHz != 250 {
		t.Fatalf("TimerHz = %d, want 250", Active.TimerHz)
	}
	if Active.InitPath != "/sbin/init" {
		t.Fatalf("InitPath = %q, want /sbin/init", Active.InitPath)
	}
	if Active.VirtioInitTimeoutMs != 1000 {
		t.Fatalf("VirtioInitTimeoutMs = %d, want 1000", Active.VirtioInitTimeoutMs)
	}
	if Active.VirtioInitRetries != 5 {
		t.Fatalf("VirtioInitRetries = %d, want 5", Active.VirtioInitRetries)
	}
}

func TestParseIgnoresUnknownAndMalformedTokens(t *testing.T) {
	Active = Default()
	Parse("root=/dev/vda1 quiet timer.hz=notanumber")

	if Active.TimerHz != 100 {
		t.Fatalf("TimerHz = %d, want unchanged default 100", Active.TimerHz)
	}
}
