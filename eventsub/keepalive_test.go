package eventsub

import (
	"testing"
	"time"
)

func TestKeepaliveExpired(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		silence time.Duration
		timeout time.Duration
		want    bool
	}{
		{"well within timeout", 30 * time.Second, 60 * time.Second, false},
		{"just under threshold", 89 * time.Second, 60 * time.Second, false},
		{"exactly at threshold does not trigger", 90 * time.Second, 60 * time.Second, false},
		{"just over threshold", 91 * time.Second, 60 * time.Second, true},
		{"well over threshold", 95 * time.Second, 60 * time.Second, true},
		{"zero timeout uses default", 119 * time.Second, 0, false},
		{"zero timeout default exceeded", 121 * time.Second, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keepaliveExpired(base, base.Add(tt.silence), tt.timeout)
			if got != tt.want {
				t.Errorf("keepaliveExpired(silence=%v, timeout=%v) = %v, want %v", tt.silence, tt.timeout, got, tt.want)
			}
		})
	}
}

func TestCheckInterval(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{90 * time.Second, 45 * time.Second},
		{60 * time.Second, 30 * time.Second},
		{20 * time.Second, 15 * time.Second}, // floored
		{10 * time.Second, 15 * time.Second}, // floored
		{0, 45 * time.Second},                // default timeout / 2
	}
	for _, tt := range tests {
		if got := checkInterval(tt.timeout); got != tt.want {
			t.Errorf("checkInterval(%v) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}

func TestReconnectDelay(t *testing.T) {
	// Monotonically non-decreasing, capped at 60s.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := ReconnectDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > 60*time.Second {
			t.Fatalf("delay exceeds cap at attempt %d: %v", attempt, d)
		}
		prev = d
	}
	if got := ReconnectDelay(1); got != 2*time.Second {
		t.Errorf("first delay = %v, want 2s", got)
	}
	if got := ReconnectDelay(30); got != 60*time.Second {
		t.Errorf("attempt 30 delay = %v, want 60s cap", got)
	}
	if got := ReconnectDelay(0); got != 0 {
		t.Errorf("attempt 0 delay = %v, want 0", got)
	}
}
