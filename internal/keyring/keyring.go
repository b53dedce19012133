// Package keyring implements the cookie master-key ring described in
// spec.md §3 and §4.3: a process-wide, read-mostly map from epoch id to
// wrapped 32-byte key, rotated by a single background task.
package keyring

import (
	"sync"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
)

// KeyRing holds wrapped master keys indexed by epoch. Readers (the NTP
// server request path) take a shared lock; the rotator takes an exclusive
// lock to mutate it.
type KeyRing struct {
	mu       sync.RWMutex // protects keys, latest
	keys     map[cookie.KeyID][]byte
	latest   cookie.KeyID
	hasLatest bool
}

// New returns an empty ring. Callers must Rotate it at least once before
// serving requests.
func New() *KeyRing {
	return &KeyRing{keys: make(map[cookie.KeyID][]byte)}
}

// Lookup returns the wrapped key for id, if the ring currently holds it.
func (r *KeyRing) Lookup(id cookie.KeyID) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[id]
	return key, ok
}

// Latest returns the key id and wrapped key the ring currently considers
// current, for sealing freshly issued cookies.
func (r *KeyRing) Latest() (cookie.KeyID, []byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.hasLatest {
		return cookie.KeyID{}, nil, false
	}
	return r.latest, r.keys[r.latest], true
}

func (r *KeyRing) insert(id cookie.KeyID, wrapped []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = wrapped
}

func (r *KeyRing) evict(id cookie.KeyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, id)
}

func (r *KeyRing) setLatest(id cookie.KeyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = id
	r.hasLatest = true
}

// Size reports the number of epochs currently held, for tests and metrics.
func (r *KeyRing) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// now is overridable in tests; production code always calls time.Now.
var now = time.Now
