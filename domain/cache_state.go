package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type CacheStatus string

const (
	CacheNotInitialized CacheStatus = "NOT_INITIALIZED"
	CachePopulating     CacheStatus = "POPULATING"
	CacheReady          CacheStatus = "READY"
)

func (s CacheStatus) rank() int {
	switch s {
	case CachePopulating:
		return 1
	case CacheReady:
		return 2
	default:
		return 0
	}
}

// ErrStateRegression rejects any write that would move a cache state backwards.
var ErrStateRegression = errors.New("cache state may not regress")

// ClaimResult tells a population run whether it owns the scan.
type ClaimResult int8

const (
	ClaimGranted ClaimResult = iota
	// ClaimHeld means another owner holds a live lease.
	ClaimHeld
	// ClaimReady means there is nothing to populate.
	ClaimReady
)

// CacheState is the persisted readiness of one membership instance.
type CacheState struct {
	Key                string
	Status             CacheStatus
	Capacity           uint64
	ErrorRate          float64
	Generation         int64 // filter generation readers use once READY
	BuildingGeneration int64 // generation being scanned into, 0 when idle
	ClaimedBy          string
	ClaimedUntil       time.Time
	UpdatedAt          time.Time
}

func NewCacheState(key string, capacity uint64, errorRate float64) CacheState {
	return CacheState{
		Key:       key,
		Status:    CacheNotInitialized,
		Capacity:  capacity,
		ErrorRate: errorRate,
	}
}

func (s CacheState) Ready() bool {
	return s.Status == CacheReady
}

// LeaseHeld reports whether some owner holds a live population lease.
func (s CacheState) LeaseHeld(now time.Time) bool {
	return s.ClaimedBy != "" && now.Before(s.ClaimedUntil)
}

// Claim hands the population lease to owner. A READY instance stays READY
// while a rebuild fills the next generation.
func (s CacheState) Claim(owner string, now time.Time, lease time.Duration, rebuild bool) (CacheState, ClaimResult) {
	if s.LeaseHeld(now) && s.ClaimedBy != owner {
		return s, ClaimHeld
	}
	if s.Ready() && !rebuild {
		return s, ClaimReady
	}

	next := s
	if next.Status != CacheReady {
		next.Status = CachePopulating
	}
	// a crashed run left bits in BuildingGeneration; reusing it is harmless
	if next.BuildingGeneration <= next.Generation {
		next.BuildingGeneration = next.Generation + 1
	}
	next.ClaimedBy = owner
	next.ClaimedUntil = now.Add(lease)
	return next, ClaimGranted
}

// Extend pushes the lease forward for its current owner.
func (s CacheState) Extend(owner string, until time.Time) (CacheState, error) {
	if s.ClaimedBy != owner {
		return s, ErrLeaseLost
	}
	s.ClaimedUntil = until
	return s, nil
}

// Complete swaps the built generation in and flips the instance to READY.
func (s CacheState) Complete(owner string) (CacheState, error) {
	if s.ClaimedBy != owner || s.BuildingGeneration == 0 {
		return s, ErrLeaseLost
	}
	s.Status = CacheReady
	s.Generation = s.BuildingGeneration
	s.BuildingGeneration = 0
	s.ClaimedBy = ""
	s.ClaimedUntil = time.Time{}
	return s, nil
}

// Release gives the lease back without touching status so a retry can start over.
func (s CacheState) Release(owner string) (CacheState, error) {
	if s.ClaimedBy != owner {
		return s, ErrLeaseLost
	}
	s.ClaimedBy = ""
	s.ClaimedUntil = time.Time{}
	return s, nil
}

// CheckTransition guards the monotonic status contract.
func CheckTransition(from, to CacheStatus) error {
	if to.rank() < from.rank() {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrStateRegression)
	}
	return nil
}

type CacheStateRepository interface {
	// Get returns ErrNotFound when the instance was never claimed.
	Get(ctx context.Context, key string) (CacheState, error)

	// Mutate locks the row (inserting init when missing), applies fn and
	// stores the result in one transaction. fn errors roll everything back.
	Mutate(ctx context.Context, key string, init CacheState, fn func(CacheState) (CacheState, error)) (CacheState, error)
}
