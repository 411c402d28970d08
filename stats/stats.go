// Package stats accumulates engine and maintenance counters. An Accumulator
// is created by the caller and handed to the components that write it;
// readers only ever see a Snapshot.
package stats

import (
	"sync/atomic"
	"time"
)

// Accumulator holds running totals. The zero value is ready to use and all
// methods are safe for concurrent use.
type Accumulator struct {
	cycles            atomic.Int64
	claimed           atomic.Int64
	processed         atomic.Int64
	failed            atomic.Int64
	skipped           atomic.Int64
	delivered         atomic.Int64
	deliveryFailures  atomic.Int64
	tokensDeactivated atomic.Int64
	storeErrors       atomic.Int64
	reclaimed         atomic.Int64
	purged            atomic.Int64
	lastCycle         atomic.Int64 // unix nanos
	startedAt         atomic.Int64 // unix nanos
}

// New returns an empty Accumulator.
func New() *Accumulator { return &Accumulator{} }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	// Cycles counts poll cycles that claimed at least one intent.
	Cycles int64 `json:"cycles"`
	// Claimed counts intents returned by claim calls.
	Claimed int64 `json:"claimed"`
	// Processed counts intents marked processed by this instance.
	Processed int64 `json:"processed"`
	// Failed counts intents whose delivery step failed: the lookup or
	// dispatch errored, or no token accepted the message.
	Failed int64 `json:"failed"`
	// Skipped counts intents whose recipient had no active tokens.
	Skipped int64 `json:"skipped"`
	// Delivered and DeliveryFailures count per-token outcomes.
	Delivered        int64 `json:"delivered"`
	DeliveryFailures int64 `json:"delivery_failures"`
	// TokensDeactivated counts tokens flipped inactive.
	TokensDeactivated int64 `json:"tokens_deactivated"`
	// StoreErrors counts poll cycles aborted by a queue store error.
	StoreErrors int64 `json:"store_errors"`
	// Reclaimed and Purged are written by the maintenance sweeps.
	Reclaimed int64 `json:"reclaimed"`
	Purged    int64 `json:"purged"`

	LastCycleAt time.Time `json:"last_cycle_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
}

// Item is the outcome of processing one intent.
type Item struct {
	Failed            bool
	Skipped           bool
	Processed         bool
	Delivered         int
	DeliveryFailures  int
	TokensDeactivated int
}

// RecordStart stamps the start time.
func (a *Accumulator) RecordStart(t time.Time) { a.startedAt.Store(t.UnixNano()) }

// RecordCycle records a poll cycle that claimed n intents.
func (a *Accumulator) RecordCycle(n int, at time.Time) {
	a.lastCycle.Store(at.UnixNano())
	if n == 0 {
		return
	}
	a.cycles.Add(1)
	a.claimed.Add(int64(n))
}

// RecordItem folds one intent's outcome into the totals.
func (a *Accumulator) RecordItem(it Item) {
	if it.Processed {
		a.processed.Add(1)
	}
	if it.Failed {
		a.failed.Add(1)
	}
	if it.Skipped {
		a.skipped.Add(1)
	}
	a.delivered.Add(int64(it.Delivered))
	a.deliveryFailures.Add(int64(it.DeliveryFailures))
	a.tokensDeactivated.Add(int64(it.TokensDeactivated))
}

// RecordStoreError counts a poll cycle aborted by the queue store.
func (a *Accumulator) RecordStoreError() { a.storeErrors.Add(1) }

// RecordReclaimed adds n reclaimed intents.
func (a *Accumulator) RecordReclaimed(n int64) { a.reclaimed.Add(n) }

// RecordPurged adds n purged intents.
func (a *Accumulator) RecordPurged(n int64) { a.purged.Add(n) }

// Snapshot returns a copy of the counters.
func (a *Accumulator) Snapshot() Snapshot {
	s := Snapshot{
		Cycles:            a.cycles.Load(),
		Claimed:           a.claimed.Load(),
		Processed:         a.processed.Load(),
		Failed:            a.failed.Load(),
		Skipped:           a.skipped.Load(),
		Delivered:         a.delivered.Load(),
		DeliveryFailures:  a.deliveryFailures.Load(),
		TokensDeactivated: a.tokensDeactivated.Load(),
		StoreErrors:       a.storeErrors.Load(),
		Reclaimed:         a.reclaimed.Load(),
		Purged:            a.purged.Load(),
	}
	if ns := a.lastCycle.Load(); ns != 0 {
		s.LastCycleAt = time.Unix(0, ns).UTC()
	}
	if ns := a.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns).UTC()
	}
	return s
}
