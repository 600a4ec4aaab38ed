// Package ratelimit tracks the Admin API query-cost bucket per shop and gates
// requests before the bucket runs dry.
//
// Every GraphQL response reports extensions.cost.throttleStatus with the
// bucket size, the points currently available and the restore rate per
// second. The tracker keeps that state in the shared store so all bridge
// instances serving a shop see the same budget.
package ratelimit

import (
	"encoding/json"
	"math"
	"time"
)

// KeyPrefix is the store prefix of per-shop state.
const KeyPrefix = "gqlbridge:ratelimit:"

// Thresholds as a fraction of the bucket size.
const (
	// ThresholdCritical blocks requests until the bucket refills above it.
	ThresholdCritical = 0.10

	// ThresholdWarning applies a short throttle delay below it.
	ThresholdWarning = 0.30

	// ThresholdHealthy indicates normal operation at or above it.
	ThresholdHealthy = 0.50
)

// ThrottleStatus is the bucket as reported upstream.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// Cost is extensions.cost of a GraphQL response.
type Cost struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ActualQueryCost    float64        `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// CostFromExtensions extracts the cost block from a response's extensions.
// ok is false when the block is missing or malformed.
func CostFromExtensions(extensions json.RawMessage) (Cost, bool) {
	if len(extensions) == 0 {
		return Cost{}, false
	}
	var ext struct {
		Cost *Cost `json:"cost"`
	}
	if err := json.Unmarshal(extensions, &ext); err != nil || ext.Cost == nil {
		return Cost{}, false
	}
	if ext.Cost.ThrottleStatus.MaximumAvailable <= 0 {
		return Cost{}, false
	}
	return *ext.Cost, true
}

// RateLimitState represents the query-cost bucket of one shop.
type RateLimitState struct {
	Shop string `json:"shop"`

	// MaximumAvailable is the bucket size in cost points.
	MaximumAvailable float64 `json:"maximum_available"`

	// CurrentlyAvailable is the point balance at LastUpdate.
	CurrentlyAvailable float64 `json:"currently_available"`

	// RestoreRate is the refill in points per second.
	RestoreRate float64 `json:"restore_rate"`

	// LastUpdate is when upstream last reported the bucket.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when the balance is at or above ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// Available projects the balance at now, refilled at RestoreRate and capped
// at the bucket size.
func (s *RateLimitState) Available(now time.Time) float64 {
	elapsed := now.Sub(s.LastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(s.MaximumAvailable, s.CurrentlyAvailable+elapsed*s.RestoreRate)
}

// Ratio is the projected balance as a fraction of the bucket size.
func (s *RateLimitState) Ratio(now time.Time) float64 {
	if s.MaximumAvailable <= 0 {
		return 1
	}
	return s.Available(now) / s.MaximumAvailable
}

// IsStale returns true if the state is older than maxAge at now.
func (s *RateLimitState) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should wait for a refill.
func (s *RateLimitState) NeedsCriticalBlock(now time.Time) bool {
	return s.Ratio(now) < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling(now time.Time) bool {
	return s.Ratio(now) < ThresholdWarning && !s.NeedsCriticalBlock(now)
}

// TimeUntilRatio returns how long the bucket needs to refill to ratio.
// Returns 0 if it is already there and a very long duration if the bucket
// does not refill.
func (s *RateLimitState) TimeUntilRatio(ratio float64, now time.Time) time.Duration {
	missing := ratio*s.MaximumAvailable - s.Available(now)
	if missing <= 0 {
		return 0
	}
	if s.RestoreRate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(missing / s.RestoreRate * float64(time.Second))
}

// UpdateHealth updates the IsHealthy field at now.
func (s *RateLimitState) UpdateHealth(now time.Time) {
	s.IsHealthy = s.Ratio(now) >= ThresholdHealthy
}
