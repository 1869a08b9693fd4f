// Package validate classifies breadcrumb records against the domain rules,
// consulting and updating per-trip historical state as it goes.
package validate

import (
	"sync"

	"busfeed/internal/telemetry"
)

// Tracker holds the cross-message state the validator consults: the most
// recent elapsed-time value seen per trip, and the fingerprints of every
// record observed so far. Both grow for the lifetime of the run.
//
// Queue clients may dispatch delivery callbacks concurrently, so all state
// access goes through one mutex; Observe reads and updates atomically per
// record.
type Tracker struct {
	mu            sync.Mutex
	lastEventTime map[int64]int
	seen          map[string]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		lastEventTime: make(map[int64]int),
		seen:          make(map[string]struct{}),
	}
}

// Observation is what the tracker captured about a record, taken atomically
// before classification.
type Observation struct {
	PrevElapsed int
	HasPrev     bool
	Duplicate   bool
}

// Observe records the breadcrumb in the tracker and returns what was known
// before it arrived. This runs for every record, accepted or not: the
// per-trip elapsed time is overwritten and the fingerprint remembered even
// when the record goes on to fail classification. Recording observation is
// deliberately separate from recording acceptance.
func (t *Tracker) Observe(b *telemetry.Breadcrumb) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var obs Observation
	if b.TripID != nil {
		tripID := int64(*b.TripID)
		obs.PrevElapsed, obs.HasPrev = t.lastEventTime[tripID]
		t.lastEventTime[tripID] = b.ElapsedSeconds()
	}

	fp := b.Fingerprint()
	_, obs.Duplicate = t.seen[fp]
	t.seen[fp] = struct{}{}

	return obs
}

// LastElapsed returns the most recent elapsed time observed for a trip.
func (t *Tracker) LastElapsed(tripID int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lastEventTime[tripID]
	return v, ok
}

// Size reports how many trips and distinct records the tracker remembers.
func (t *Tracker) Size() (trips, records int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastEventTime), len(t.seen)
}
