// Package kvstore defines the key-value store contract the key rotator uses
// to fetch raw epoch key material, and a memcache-backed adapter.
package kvstore

import "context"

// Store fetches raw key bytes by their store key ("{prefix}/{epoch}"). A
// missing key is reported via the bool return, not an error: callers
// distinguish "not found" from "store unavailable".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}
