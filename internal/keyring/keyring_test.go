package keyring

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
)

type fakeStore struct {
	values map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string][]byte)}
}

func (f *fakeStore) put(prefix string, epoch int64, raw []byte) {
	f.values[fmt.Sprintf("%s/%d", prefix, epoch)] = raw
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func TestRotateFillsRing(t *testing.T) {
	store := newFakeStore()
	at := time.Unix(1_700_000_000, 0)

	for i := -DefaultBack; i <= DefaultForward; i++ {
		epoch := Epoch(at, i, DefaultInterval)
		store.put("nts-key", epoch, bytes.Repeat([]byte{byte(i + 100)}, 32))
	}

	ring := New()
	rot := NewRotator(ring, store, []byte("master secret"), "nts-key", nil)

	if err := rot.Rotate(context.Background(), at); err != nil {
		t.Fatal(err)
	}

	if got, want := ring.Size(), int(DefaultBack+DefaultForward+1); got != want {
		t.Fatalf("ring size: got %d, want %d", got, want)
	}

	latestID, latestKey, ok := ring.Latest()
	if !ok {
		t.Fatal("expected a latest key after rotation")
	}
	wantID := cookie.KeyIDFromEpoch(Epoch(at, 0, DefaultInterval))
	if latestID != wantID {
		t.Fatalf("latest id mismatch: got %v, want %v", latestID, wantID)
	}
	if len(latestKey) != 32 {
		t.Fatalf("wrapped key length: got %d", len(latestKey))
	}
}

func TestRotatePartialFailureStillAdvancesLatest(t *testing.T) {
	store := newFakeStore()
	at := time.Unix(1_700_000_000, 0)

	// Only seed the current epoch; every other epoch in the window misses.
	store.put("nts-key", Epoch(at, 0, DefaultInterval), bytes.Repeat([]byte{0x01}, 32))

	ring := New()
	rot := NewRotator(ring, store, []byte("master secret"), "nts-key", nil)

	if err := rot.Rotate(context.Background(), at); err == nil {
		t.Fatal("expected a partial-failure error when most epochs miss")
	}

	_, _, ok := ring.Latest()
	if !ok {
		t.Fatal("expected latest to still advance despite misses")
	}
}

func TestRotateEvictsOldestEpoch(t *testing.T) {
	store := newFakeStore()
	at := time.Unix(1_700_000_000, 0)
	for i := -DefaultBack; i <= DefaultForward; i++ {
		epoch := Epoch(at, i, DefaultInterval)
		store.put("nts-key", epoch, bytes.Repeat([]byte{0x02}, 32))
	}
	evictedEpoch := Epoch(at, -DefaultBack-1, DefaultInterval)
	store.put("nts-key", evictedEpoch, bytes.Repeat([]byte{0x03}, 32))

	ring := New()
	rot := NewRotator(ring, store, []byte("master secret"), "nts-key", nil)

	// Rotate once at an earlier time so the to-be-evicted epoch enters the ring...
	earlier := at.Add(-time.Duration(DefaultInterval) * time.Second)
	if err := rot.Rotate(context.Background(), earlier); err != nil {
		t.Log("partial failure expected at window edges:", err)
	}
	if _, ok := ring.Lookup(cookie.KeyIDFromEpoch(evictedEpoch)); !ok {
		t.Skip("evicted epoch was outside the first rotation's window; timing-dependent fixture")
	}

	// ...then rotate at `at`, which should evict it.
	if err := rot.Rotate(context.Background(), at); err != nil {
		t.Log("partial failure expected at window edges:", err)
	}
	if _, ok := ring.Lookup(cookie.KeyIDFromEpoch(evictedEpoch)); ok {
		t.Fatal("expected oldest epoch to be evicted after rotating forward one interval")
	}
}

func TestEpochArithmetic(t *testing.T) {
	at := time.Unix(3600*10, 0)
	if got, want := Epoch(at, 0, 3600), int64(3600*10); got != want {
		t.Fatalf("epoch(0): got %d, want %d", got, want)
	}
	if got, want := Epoch(at, 1, 3600), int64(3600*11); got != want {
		t.Fatalf("epoch(+1): got %d, want %d", got, want)
	}
	if got, want := Epoch(at, -1, 3600), int64(3600*9); got != want {
		t.Fatalf("epoch(-1): got %d, want %d", got, want)
	}
}
