package workspace

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidEncoding indicates a payload that is not valid RFC 4648 base64.
var ErrInvalidEncoding = errors.New("invalid base64 encoding")

// groups of four alphabet characters, optionally terminated by a padded
// two- or three-character group. The empty string validates as empty.
var base64Pattern = regexp.MustCompile(`^(?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)

// IsValidBase64 reports whether s matches the canonical base64 alphabet
// with correct padding.
func IsValidBase64(s string) bool {
	return base64Pattern.MatchString(s)
}

// DecodeBase64 validates and decodes a base64 payload.
func DecodeBase64(s string) ([]byte, error) {
	if !IsValidBase64(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEncoding, truncateForError(s))
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return b, nil
}

// EncodeBase64 encodes b with standard padding.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

const errPayloadMax = 64

func truncateForError(s string) string {
	if len(s) > errPayloadMax {
		return s[:errPayloadMax] + "..."
	}
	return s
}
