package webauthn

import (
	"encoding/base64"
	"fmt"
	"strings"

	apperrors "github.com/passkeyd/passkeyd/internal/platform/errors"
)

// Encode converts a raw byte buffer to its unpadded base64url wire form.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode converts an unpadded base64url wire string to raw bytes. Trailing
// padding characters are tolerated and stripped before decoding.
func Decode(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	decoded, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedEncoding, "decode wire value", err)
	}
	return decoded, nil
}

// DecodeFixed decodes a wire string that must produce exactly size bytes.
func DecodeFixed(s string, size int) ([]byte, error) {
	decoded, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(decoded) != size {
		return nil, apperrors.New(
			apperrors.CodeMalformedEncoding,
			fmt.Sprintf("expected %d decoded bytes, got %d", size, len(decoded)),
		)
	}
	return decoded, nil
}
