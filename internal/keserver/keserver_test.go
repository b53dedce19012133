package keserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
	"github.com/cvsouth/nts-go/internal/keclient"
	"github.com/cvsouth/nts-go/internal/keyring"
	"github.com/cvsouth/nts-go/internal/kvstore"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}
}

type fakeStore struct{ values map[string][]byte }

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

var _ kvstore.Store = (*fakeStore)(nil)

func TestServeHappyPath(t *testing.T) {
	cert := selfSignedCert(t)

	ring := keyring.New()
	store := &fakeStore{values: make(map[string][]byte)}
	at := time.Now()
	for i := -keyring.DefaultBack; i <= keyring.DefaultForward; i++ {
		epoch := keyring.Epoch(at, i, keyring.DefaultInterval)
		raw := make([]byte, 32)
		for j := range raw {
			raw[j] = byte(epoch + int64(j))
		}
		store.values["nts-key/"+strconv.FormatInt(epoch, 10)] = raw
	}
	rot := keyring.NewRotator(ring, store, []byte("test master secret"), "nts-key", nil)
	if err := rot.Rotate(context.Background(), at); err != nil {
		t.Fatalf("seed rotation: %v", err)
	}

	srv := &Server{
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		Ring:      ring,
		NextPort:  123,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	rootPool := x509.NewCertPool()
	rootPool.AddCert(cert.Leaf)

	est, err := keclient.Exchange(context.Background(), keclient.Config{
		Host:       host,
		Port:       port,
		TrustRoots: rootPool,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(est.Cookies) != cookiesPerResponse {
		t.Fatalf("expected %d cookies, got %d", cookiesPerResponse, len(est.Cookies))
	}
	if est.NextPort != 123 {
		t.Fatalf("expected port 123, got %d", est.NextPort)
	}

	_, masterKey, ok := ring.Latest()
	if !ok {
		t.Fatal("expected ring to have a latest key")
	}
	recovered, err := cookie.Open(est.Cookies[0], masterKey)
	if err != nil {
		t.Fatalf("opening issued cookie: %v", err)
	}
	if recovered.C2S != est.Keys.C2S || recovered.S2C != est.Keys.S2C {
		t.Fatal("cookie did not encapsulate the keys exported to the client")
	}
}
