package workspace

import "testing"

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want Size
	}{
		{"512", 512},
		{"512k", 524288},
		{"512K", 524288},
		{"4M", 4194304},
		{"4m", 4194304},
		{"2g", 2147483648},
		{"2G", 2147483648},
		{"1G", 1 << 30},
		{"0", 0},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, in := range []string{"", "k", "12x", "-1", "1.5G"} {
		if _, err := ParseSize(in); err == nil {
			t.Errorf("ParseSize(%q) expected error", in)
		}
	}
}

func TestSizeUnmarshalText(t *testing.T) {
	var s Size
	if err := s.UnmarshalText([]byte("1g")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if s.Byte() != 1<<30 {
		t.Errorf("got %d, want %d", s.Byte(), 1<<30)
	}
}

func TestSizeString(t *testing.T) {
	cases := map[Size]string{
		512:     "512b",
		1 << 10: "1k",
		4 << 20: "4m",
		2 << 30: "2g",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Size(%d).String() = %q, want %q", uint64(s), got, want)
		}
	}
}
