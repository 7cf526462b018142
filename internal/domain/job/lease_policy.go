// Package job holds the domain rules around job leasing and availability
// notifications, independent of any storage backend.
package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeasePolicy normalises lease durations for job reservations and heartbeats.
// The store works in whole seconds; sub-second requests are clamped to one
// second rather than rejected.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Seconds   int
	Clamped   bool
	Requested time.Duration
}

// Resolve normalises the requested duration to a whole number of seconds.
// Zero means "use the default"; negative and sub-second values clamp to one.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}

	effective := request
	if p != nil && request == 0 {
		effective = p.defaultLease
	}

	seconds := int64(effective / time.Second)
	if seconds <= 0 {
		decision.Seconds = 1
		decision.Clamped = true
		return decision
	}

	decision.Seconds = int(seconds)
	return decision
}
