package ntpserver

import (
	"sync"
	"time"

	"github.com/cvsouth/nts-go/internal/ntptime"
	"github.com/cvsouth/nts-go/internal/wire"
)

// phi is the rate at which stored dispersion ages, in seconds of dispersion
// per second of wall-clock time (spec.md §4.7 "Dispersion correction").
const phi = 15e-6

// State is the server's current view of its own time quality, refreshed
// either by upstream tracking or fixed at startup. Guarded by a
// readers-writer lock: the request path (many goroutines) reads; the
// upstream-tracking task (one goroutine) writes.
type State struct {
	mu sync.RWMutex // protects the fields below

	Leap           wire.Leap
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      ntptime.Short
	RootDispersion ntptime.Short
	ReferenceID    [4]byte
	ReferenceTime  ntptime.Timestamp
	taken          time.Time
}

// NewFixedState returns a State that never changes, for servers with no
// configured upstream (spec.md: "Absent any upstream, ServerState is fixed
// to {leap=NoLeap, stratum=1}").
func NewFixedState() *State {
	return &State{
		Leap:      wire.LeapNone,
		Stratum:   1,
		Precision: 0x20,
		taken:     time.Now(),
	}
}

// Snapshot is an immutable read of State at one instant, with dispersion
// aged forward to now.
type Snapshot struct {
	Leap           wire.Leap
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      ntptime.Short
	RootDispersion ntptime.Short
	ReferenceID    [4]byte
	ReferenceTime  ntptime.Timestamp
}

// Snapshot reads the current state and ages RootDispersion to now by phi.
func (s *State) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := now.Sub(s.taken).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	agedDispersion := s.RootDispersion.Seconds() + elapsed*phi

	return Snapshot{
		Leap:           s.Leap,
		Stratum:        s.Stratum,
		Poll:           s.Poll,
		Precision:      s.Precision,
		RootDelay:      s.RootDelay,
		RootDispersion: ntptime.NewShort(agedDispersion),
		ReferenceID:    s.ReferenceID,
		ReferenceTime:  s.ReferenceTime,
	}
}

// Update replaces the tracked fields atomically, recording now as the time
// the values were taken (for subsequent dispersion aging).
func (s *State) Update(now time.Time, leap wire.Leap, stratum uint8, poll, precision int8, rootDelay, rootDispersion ntptime.Short, refID [4]byte, refTime ntptime.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Leap = leap
	s.Stratum = stratum
	s.Poll = poll
	s.Precision = precision
	s.RootDelay = rootDelay
	s.RootDispersion = rootDispersion
	s.ReferenceID = refID
	s.ReferenceTime = refTime
	s.taken = now
}
