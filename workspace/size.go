package workspace

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte size configurable as a suffixed string: "512" is bytes,
// "512k", "4M" and "2g" multiply by powers of 1024. Suffixes are
// case-insensitive.
type Size uint64

// ParseSize converts a suffixed memory-limit string to bytes.
func ParseSize(s string) (Size, error) {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	switch str[len(str)-1] {
	case 'k', 'K':
		mult = 1 << 10
		str = str[:len(str)-1]
	case 'm', 'M':
		mult = 1 << 20
		str = str[:len(str)-1]
	case 'g', 'G':
		mult = 1 << 30
		str = str[:len(str)-1]
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size(n * mult), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so Size works as a
// config field.
func (s *Size) UnmarshalText(text []byte) error {
	v, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Byte returns the size in bytes.
func (s Size) Byte() uint64 { return uint64(s) }

func (s Size) String() string {
	t := uint64(s)
	switch {
	case t >= 1<<30 && t%(1<<30) == 0:
		return fmt.Sprintf("%dg", t>>30)
	case t >= 1<<20 && t%(1<<20) == 0:
		return fmt.Sprintf("%dm", t>>20)
	case t >= 1<<10 && t%(1<<10) == 0:
		return fmt.Sprintf("%dk", t>>10)
	default:
		return fmt.Sprintf("%db", t)
	}
}
