package record

import (
	"bufio"
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	records := []Record{
		EndOfMessage(),
		NextProtocol(0),
		AeadAlgorithm(15),
		NewCookie([]byte("a cookie blob")),
		Server("example.org", false),
		Port(123, true),
		ProtocolError(2),
		Warning(1),
	}

	for _, want := range records {
		buf := want.Encode()
		got, err := ReadRecord(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("encode/decode %+v: %v", want, err)
		}
		if got.Critical != want.Critical || got.Type != want.Type || !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestReadUntilEndOfMessageHappyPath(t *testing.T) {
	var buf bytes.Buffer
	for _, r := range []Record{
		NextProtocol(0),
		AeadAlgorithm(15),
		NewCookie([]byte("cookie-1")),
		NewCookie([]byte("cookie-2")),
		Server("time.example.org", false),
		Port(123, true),
		EndOfMessage(),
	} {
		if err := WriteRecord(&buf, r); err != nil {
			t.Fatal(err)
		}
	}

	acc, err := ReadUntilEndOfMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if len(acc.NextProtocols) != 1 || acc.NextProtocols[0] != 0 {
		t.Fatalf("next protocols: got %v", acc.NextProtocols)
	}
	if len(acc.AeadSchemes) != 1 || acc.AeadSchemes[0] != 15 {
		t.Fatalf("aead schemes: got %v", acc.AeadSchemes)
	}
	if len(acc.Cookies) != 2 {
		t.Fatalf("cookies: got %d, want 2", len(acc.Cookies))
	}
	if !acc.HasServer || acc.Server != "time.example.org" {
		t.Fatalf("server: got %q, hasServer=%v", acc.Server, acc.HasServer)
	}
	if !acc.HasPort || acc.Port != 123 {
		t.Fatalf("port: got %d, hasPort=%v", acc.Port, acc.HasPort)
	}
}

func TestReadUntilEndOfMessageUnknownCriticalAborts(t *testing.T) {
	var buf bytes.Buffer
	unknown := Record{Critical: true, Type: Type(0xFF), Body: nil}
	if err := WriteRecord(&buf, unknown); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecord(&buf, EndOfMessage()); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadUntilEndOfMessage(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected protocol error for unknown critical record")
	}
}

func TestReadUntilEndOfMessageUnknownNonCriticalIgnored(t *testing.T) {
	var buf bytes.Buffer
	unknown := Record{Critical: false, Type: Type(0xFF), Body: []byte("ignore me")}
	if err := WriteRecord(&buf, unknown); err != nil {
		t.Fatal(err)
	}
	if err := WriteRecord(&buf, EndOfMessage()); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadUntilEndOfMessage(bufio.NewReader(&buf)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadUntilEndOfMessageErrorRecordAborts(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRecord(&buf, ProtocolError(2)); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadUntilEndOfMessage(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected protocol error when peer sends Error record")
	}
}

func FuzzReadRecord(f *testing.F) {
	f.Add(EndOfMessage().Encode())
	f.Add(NewCookie([]byte("seed")).Encode())
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = ReadRecord(bufio.NewReader(bytes.NewReader(data)))
	})
}
