package webauthn

import (
	"bytes"
	"errors"
	"testing"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

func TestCodecRoundTrip(t *testing.T) {
	buffers := [][]byte{
		{},
		{0x00},
		{0xff, 0xfe, 0xfd},
		[]byte("a longer buffer that is not block aligned!"),
		bytes.Repeat([]byte{0xab}, 64),
	}
	for _, buf := range buffers {
		decoded, err := Decode(Encode(buf))
		if err != nil {
			t.Fatalf("decode(encode(%x)): %v", buf, err)
		}
		if !bytes.Equal(decoded, buf) {
			t.Fatalf("round trip mismatch: got %x, want %x", decoded, buf)
		}
	}
}

func TestEncodeProducesNoPadding(t *testing.T) {
	for size := 0; size < 8; size++ {
		encoded := Encode(bytes.Repeat([]byte{0x01}, size))
		if bytes.ContainsRune([]byte(encoded), '=') {
			t.Fatalf("expected unpadded output for %d bytes, got %q", size, encoded)
		}
	}
}

func TestDecodeToleratesTrailingPadding(t *testing.T) {
	decoded, err := Decode("AQID==")
	if err != nil {
		t.Fatalf("decode padded value: %v", err)
	}
	if !bytes.Equal(decoded, []byte{1, 2, 3}) {
		t.Fatalf("unexpected decoded bytes %x", decoded)
	}
}

func TestDecodeRejectsInvalidAlphabet(t *testing.T) {
	_, err := Decode("not+valid/base64url")
	if err == nil {
		t.Fatal("expected malformed encoding error")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeMalformedEncoding, "")) {
		t.Fatalf("expected malformed encoding code, got %v", err)
	}
}

func TestDecodeFixedEnforcesLength(t *testing.T) {
	encoded := Encode([]byte{0, 0, 0, 5})
	decoded, err := DecodeFixed(encoded, 4)
	if err != nil {
		t.Fatalf("decode fixed: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(decoded))
	}

	if _, err := DecodeFixed(encoded, 8); err == nil {
		t.Fatal("expected length mismatch error")
	} else if apperrors.GetCode(err) != apperrors.CodeMalformedEncoding {
		t.Fatalf("expected malformed encoding code, got %q", apperrors.GetCode(err))
	}
}
