package ratelimit

import (
	"encoding/json"
	"testing"
	"time"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func bucket(available float64) *RateLimitState {
	return &RateLimitState{
		MaximumAvailable:   1000,
		CurrentlyAvailable: available,
		RestoreRate:        50,
		LastUpdate:         t0,
	}
}

func TestRateLimitState_Thresholds(t *testing.T) {
	tests := []struct {
		name         string
		available    float64
		wantCritical bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{name: "full bucket", available: 1000, wantHealthy: true},
		{name: "at healthy threshold", available: 500, wantHealthy: true},
		{name: "below healthy", available: 400},
		{name: "warning", available: 250, wantThrottle: true},
		{name: "at critical threshold", available: 100, wantThrottle: true},
		{name: "critical", available: 50, wantCritical: true},
		{name: "empty", available: 0, wantCritical: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := bucket(tt.available)
			s.UpdateHealth(t0)

			if got := s.NeedsCriticalBlock(t0); got != tt.wantCritical {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.wantCritical)
			}
			if got := s.NeedsThrottling(t0); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if s.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestRateLimitState_Refill(t *testing.T) {
	s := bucket(0)

	if got := s.Available(t0.Add(2 * time.Second)); got != 100 {
		t.Errorf("Available(+2s) = %v, want 100", got)
	}
	if got := s.Available(t0.Add(time.Minute)); got != 1000 {
		t.Errorf("Available(+1m) = %v, want capped 1000", got)
	}
	if got := s.Available(t0.Add(-time.Second)); got != 0 {
		t.Errorf("Available(before update) = %v, want 0", got)
	}
	if s.NeedsCriticalBlock(t0.Add(2 * time.Second)) {
		t.Error("bucket should have left critical after refilling to 10%")
	}
}

func TestRateLimitState_TimeUntilRatio(t *testing.T) {
	s := bucket(0)

	if got := s.TimeUntilRatio(ThresholdCritical, t0); got != 2*time.Second {
		t.Errorf("TimeUntilRatio() = %v, want 2s", got)
	}
	if got := s.TimeUntilRatio(ThresholdCritical, t0.Add(3*time.Second)); got != 0 {
		t.Errorf("TimeUntilRatio() = %v, want 0", got)
	}

	s.RestoreRate = 0
	if got := s.TimeUntilRatio(ThresholdCritical, t0); got < time.Hour {
		t.Errorf("TimeUntilRatio() without refill = %v, want very long", got)
	}
}

func TestRateLimitState_IsStale(t *testing.T) {
	s := bucket(1000)

	if s.IsStale(time.Minute, t0.Add(30*time.Second)) {
		t.Error("state should not be stale after 30s")
	}
	if !s.IsStale(time.Minute, t0.Add(2*time.Minute)) {
		t.Error("state should be stale after 2m")
	}
}

func TestCostFromExtensions(t *testing.T) {
	raw := json.RawMessage(`{"cost":{"requestedQueryCost":12,"actualQueryCost":6,"throttleStatus":{"maximumAvailable":2000.0,"currentlyAvailable":1994,"restoreRate":100.0}}}`)

	cost, ok := CostFromExtensions(raw)
	if !ok {
		t.Fatal("CostFromExtensions() ok = false")
	}
	if cost.ActualQueryCost != 6 || cost.ThrottleStatus.MaximumAvailable != 2000 ||
		cost.ThrottleStatus.CurrentlyAvailable != 1994 || cost.ThrottleStatus.RestoreRate != 100 {
		t.Errorf("CostFromExtensions() = %+v", cost)
	}

	for _, bad := range []string{``, `{}`, `{"cost":{}}`, `not json`} {
		if _, ok := CostFromExtensions(json.RawMessage(bad)); ok {
			t.Errorf("CostFromExtensions(%q) ok = true", bad)
		}
	}
}
