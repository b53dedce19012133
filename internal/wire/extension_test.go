package wire

import (
	"bytes"
	"testing"
)

func TestExtensionRoundTrip(t *testing.T) {
	exts := []Extension{
		{Type: ExtUniqueIdentifier, Value: bytes.Repeat([]byte{0xAB}, 32)},
		{Type: ExtNtsCookie, Value: []byte("cookie")},
	}
	buf := EncodeExtensions(exts)
	got, err := DecodeExtensions(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(exts) {
		t.Fatalf("got %d extensions, want %d", len(got), len(exts))
	}
	for i := range exts {
		if got[i].Type != exts[i].Type {
			t.Fatalf("extension %d type mismatch: got %04x want %04x", i, got[i].Type, exts[i].Type)
		}
		// The length field counts the padded body, so a decoded value carries
		// its zero padding: "cookie" (6 bytes) comes back as 8 bytes.
		want := append(append([]byte(nil), exts[i].Value...), make([]byte, padLen(len(exts[i].Value))-len(exts[i].Value))...)
		if !bytes.Equal(got[i].Value, want) {
			t.Fatalf("extension %d value mismatch", i)
		}
	}
}

func TestExtensionPadding(t *testing.T) {
	e := Extension{Type: ExtNtsCookie, Value: []byte("cookie")} // 6 bytes -> padded to 8
	buf := e.Encode()
	if len(buf) != 4+8 {
		t.Fatalf("expected padded length 12, got %d", len(buf))
	}
}

func TestDecodeExtensionsRejectsMisalignedLength(t *testing.T) {
	buf := []byte{0x01, 0x04, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := DecodeExtensions(buf); err == nil {
		t.Fatal("expected error for length not divisible by 4")
	}
}

func TestDecodeExtensionsRejectsShortLength(t *testing.T) {
	buf := []byte{0x01, 0x04, 0x00, 0x00}
	if _, err := DecodeExtensions(buf); err == nil {
		t.Fatal("expected error for length < 4")
	}
}

func TestDecodeExtensionsRejectsTrailingBytes(t *testing.T) {
	buf := []byte{0x01, 0x04, 0x00, 0x04, 0x00, 0x00}
	if _, err := DecodeExtensions(buf); err == nil {
		t.Fatal("expected error for trailing bytes shorter than a header")
	}
}

func TestDecodePacketExtensionsEnforcesMinimumLengths(t *testing.T) {
	short := Extension{Type: ExtUniqueIdentifier, Value: []byte("short")} // pads to 8, well under 16
	if _, err := DecodePacketExtensions(short.Encode()); err == nil {
		t.Fatal("expected error for a solitary (last) extension under minLastExtensionLen")
	}

	nonLast := append(short.Encode(), Extension{Type: ExtNtsAuthenticator, Value: bytes.Repeat([]byte{0x01}, 40)}.Encode()...)
	if _, err := DecodePacketExtensions(nonLast); err == nil {
		t.Fatal("expected error for a non-last extension under minExtensionLen")
	}

	ok := append(
		Extension{Type: ExtUniqueIdentifier, Value: bytes.Repeat([]byte{0xAB}, 32)}.Encode(),
		Extension{Type: ExtNtsAuthenticator, Value: bytes.Repeat([]byte{0x01}, 40)}.Encode()...,
	)
	if _, err := DecodePacketExtensions(ok); err != nil {
		t.Fatalf("expected well-formed packet extensions to decode, got %v", err)
	}
}

func FuzzDecodeExtensions(f *testing.F) {
	f.Add(EncodeExtensions([]Extension{{Type: ExtNtsCookie, Value: []byte("cookie")}}))
	f.Add([]byte{})
	f.Add([]byte{0x01, 0x04, 0x00, 0x05})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeExtensions(data)
	})
}

func FuzzDecodePacketExtensions(f *testing.F) {
	f.Add(EncodeExtensions([]Extension{{Type: ExtNtsAuthenticator, Value: bytes.Repeat([]byte{0x01}, 40)}}))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodePacketExtensions(data)
	})
}
