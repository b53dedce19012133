package ntpserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"strconv"
	"testing"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
	"github.com/cvsouth/nts-go/internal/keyring"
	"github.com/cvsouth/nts-go/internal/wire"
	"github.com/cvsouth/nts-go/internal/wireaead"
)

type fakeStore struct{ values map[string][]byte }

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func newTestRing(t *testing.T, masterSecret []byte, rawKey []byte, at time.Time) (*keyring.KeyRing, cookie.KeyID) {
	t.Helper()
	ring := keyring.New()
	store := &fakeStore{values: map[string][]byte{}}
	for i := -keyring.DefaultBack; i <= keyring.DefaultForward; i++ {
		epoch := keyring.Epoch(at, i, keyring.DefaultInterval)
		store.values["nts-key/"+strconv.FormatInt(epoch, 10)] = rawKey
	}
	rot := keyring.NewRotator(ring, store, masterSecret, "nts-key", nil)
	if err := rot.Rotate(context.Background(), at); err != nil {
		t.Fatalf("seed ring: %v", err)
	}
	id, _, ok := ring.Latest()
	if !ok {
		t.Fatal("expected a latest key")
	}
	return ring, id
}

func buildRequest(t *testing.T, c2s, s2c [32]byte, masterKey []byte, keyID cookie.KeyID, uid []byte) []byte {
	t.Helper()
	return buildRequestWithPlaceholders(t, c2s, s2c, masterKey, keyID, uid, 0)
}

// buildRequestWithPlaceholders builds a request carrying numPlaceholders
// NtsCookiePlaceholder extensions, each padded to minPlaceholderBody, in the
// cleartext authenticated extensions — the same place the unique identifier
// and cookie travel (spec.md §4.7 step 8, cfnts's query.auth_exts).
func buildRequestWithPlaceholders(t *testing.T, c2s, s2c [32]byte, masterKey []byte, keyID cookie.KeyID, uid []byte, numPlaceholders int) []byte {
	t.Helper()
	sealedCookie, err := cookie.Seal(cookie.Keys{C2S: c2s, S2C: s2c}, masterKey, keyID)
	if err != nil {
		t.Fatal(err)
	}
	header := wire.Header{Mode: wire.ModeClient, Version: 4, Precision: 0x20}
	authExts := []wire.Extension{
		{Type: wire.ExtUniqueIdentifier, Value: uid},
		{Type: wire.ExtNtsCookie, Value: sealedCookie},
	}
	for i := 0; i < numPlaceholders; i++ {
		authExts = append(authExts, wire.Extension{
			Type:  wire.ExtNtsCookiePlaceholder,
			Value: bytes.Repeat([]byte{0x00}, minPlaceholderBody),
		})
	}
	packet, err := wireaead.Seal(header, authExts, nil, c2s[:])
	if err != nil {
		t.Fatal(err)
	}
	return packet
}

func TestHandleDatagramHappyPath(t *testing.T) {
	at := time.Now()
	masterSecret := bytes.Repeat([]byte{0x01}, 32)
	rawKey := bytes.Repeat([]byte{0x02}, 32)
	ring, keyID := newTestRing(t, masterSecret, rawKey, at)

	var c2s, s2c [32]byte
	copy(c2s[:], bytes.Repeat([]byte{0x11}, 32))
	copy(s2c[:], bytes.Repeat([]byte{0x22}, 32))
	_, wrapped, ok := ring.Latest()
	if !ok {
		t.Fatal("expected a latest key")
	}

	uid := make([]byte, 32)
	if _, err := rand.Read(uid); err != nil {
		t.Fatal(err)
	}

	req := buildRequest(t, c2s, s2c, wrapped, keyID, uid)

	srv := &Server{State: NewFixedState(), Ring: ring}
	resp, ok := srv.handleDatagram(req, time.Now())
	if !ok {
		t.Fatal("expected a response")
	}

	respHeader, respAuth, respEnc, err := wireaead.Open(resp, s2c[:])
	if err != nil {
		t.Fatalf("open response: %v", err)
	}
	if respHeader.Mode != wire.ModeServer {
		t.Fatalf("expected server mode, got %v", respHeader.Mode)
	}

	var gotUID []byte
	for _, e := range respAuth {
		if e.Type == wire.ExtUniqueIdentifier {
			gotUID = e.Value
		}
	}
	if !bytes.Equal(gotUID, uid) {
		t.Fatal("response did not reflect request's unique identifier")
	}

	cookieCount := 0
	for _, e := range respEnc {
		if e.Type == wire.ExtNtsCookie {
			cookieCount++
		}
	}
	if cookieCount != 1 {
		t.Fatalf("expected exactly 1 fresh cookie (no placeholders), got %d", cookieCount)
	}
}

func TestHandleDatagramPlaceholdersYieldExtraCookies(t *testing.T) {
	at := time.Now()
	masterSecret := bytes.Repeat([]byte{0x01}, 32)
	rawKey := bytes.Repeat([]byte{0x02}, 32)
	ring, keyID := newTestRing(t, masterSecret, rawKey, at)

	var c2s, s2c [32]byte
	copy(c2s[:], bytes.Repeat([]byte{0x55}, 32))
	copy(s2c[:], bytes.Repeat([]byte{0x66}, 32))
	_, wrapped, ok := ring.Latest()
	if !ok {
		t.Fatal("expected a latest key")
	}

	uid := make([]byte, 32)
	if _, err := rand.Read(uid); err != nil {
		t.Fatal(err)
	}

	const numPlaceholders = 3
	req := buildRequestWithPlaceholders(t, c2s, s2c, wrapped, keyID, uid, numPlaceholders)

	srv := &Server{State: NewFixedState(), Ring: ring}
	resp, ok := srv.handleDatagram(req, time.Now())
	if !ok {
		t.Fatal("expected a response")
	}

	_, _, respEnc, err := wireaead.Open(resp, s2c[:])
	if err != nil {
		t.Fatalf("open response: %v", err)
	}

	cookieCount := 0
	for _, e := range respEnc {
		if e.Type == wire.ExtNtsCookie {
			cookieCount++
		}
	}
	want := numPlaceholders + 1 // the replaced cookie plus one per placeholder
	if cookieCount != want {
		t.Fatalf("expected %d fresh cookies for %d placeholders, got %d", want, numPlaceholders, cookieCount)
	}
}

func TestHandleDatagramBadCookieYieldsKissOfDeath(t *testing.T) {
	at := time.Now()
	masterSecret := bytes.Repeat([]byte{0x01}, 32)
	rawKey := bytes.Repeat([]byte{0x02}, 32)
	ring, _ := newTestRing(t, masterSecret, rawKey, at)

	var c2s, s2c [32]byte
	copy(c2s[:], bytes.Repeat([]byte{0x33}, 32))
	copy(s2c[:], bytes.Repeat([]byte{0x44}, 32))

	unknownKeyID := cookie.KeyIDFromEpoch(99999999)
	uid := bytes.Repeat([]byte{0xAB}, 32)
	req := buildRequest(t, c2s, s2c, bytes.Repeat([]byte{0xFF}, 32), unknownKeyID, uid)

	srv := &Server{State: NewFixedState(), Ring: ring}
	resp, ok := srv.handleDatagram(req, time.Now())
	if !ok {
		t.Fatal("expected a kiss-of-death response, not a drop")
	}

	respHeader, err := wire.DecodeHeader(resp)
	if err != nil {
		t.Fatalf("decode kiss-of-death: %v", err)
	}
	if respHeader.Stratum != 0 {
		t.Fatalf("expected stratum 0, got %d", respHeader.Stratum)
	}
	if respHeader.Leap != wire.LeapUnknown {
		t.Fatalf("expected unknown leap, got %v", respHeader.Leap)
	}
	if respHeader.ReferenceID != kissOfDeathRefID {
		t.Fatalf("expected NTSN refid, got %v", respHeader.ReferenceID)
	}
}

func TestHandleDatagramWrongModeDropped(t *testing.T) {
	ring, _ := newTestRing(t, bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x02}, 32), time.Now())
	srv := &Server{State: NewFixedState(), Ring: ring}

	header := wire.Header{Mode: wire.ModeSymmetricActive, Version: 4}
	_, ok := srv.handleDatagram(header.Encode(), time.Now())
	if ok {
		t.Fatal("expected a drop for non-client mode")
	}
}

func TestHandleDatagramMangledPacketDropped(t *testing.T) {
	ring, _ := newTestRing(t, bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x02}, 32), time.Now())
	srv := &Server{State: NewFixedState(), Ring: ring}

	_, ok := srv.handleDatagram([]byte{0x01, 0x02}, time.Now())
	if ok {
		t.Fatal("expected a drop for a too-short packet")
	}
}
