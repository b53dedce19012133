package keyring

import "time"

// DefaultInterval is Δ, the epoch width in seconds (spec.md §3 MasterKey /
// KeyRing).
const DefaultInterval = 3600

// DefaultBack is B, the number of past epochs the ring retains.
const DefaultBack = 24

// DefaultForward is F, the number of future epochs the ring retains.
const DefaultForward = 2

// Epoch computes epoch(t, offset) = ((t div Δ) + offset) · Δ.
func Epoch(t time.Time, offset int64, interval int64) int64 {
	sec := t.Unix()
	return (sec/interval + offset) * interval
}
