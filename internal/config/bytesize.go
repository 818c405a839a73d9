package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is an int64 byte count that accepts human-readable values in
// config files and environment variables: "8MB", "1.5 GiB", "512k", or a
// plain number of bytes. Units are binary (1024-based); "KB" and "KiB"
// are synonyms.
type ByteSize int64

const (
	kib = int64(1) << (10 * (iota + 1))
	mib
	gib
	tib
)

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	// Longest suffixes first so "mib" is not consumed as "b".
	{"tib", tib}, {"gib", gib}, {"mib", mib}, {"kib", kib},
	{"tb", tib}, {"gb", gib}, {"mb", mib}, {"kb", kib},
	{"t", tib}, {"g", gib}, {"m", mib}, {"k", kib},
	{"b", 1},
}

// ParseByteSize parses a human-readable byte size.
func ParseByteSize(s string) (ByteSize, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return 0, fmt.Errorf("byte size: empty string")
	}

	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(text, u.suffix) {
			mult = u.mult
			text = strings.TrimSpace(strings.TrimSuffix(text, u.suffix))
			break
		}
	}
	if text == "" {
		return 0, fmt.Errorf("byte size %q: missing numeric value", s)
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("byte size %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("byte size %q: must not be negative", s)
	}
	return ByteSize(f * float64(mult)), nil
}

// Bytes returns the size as a plain int64 byte count.
func (b ByteSize) Bytes() int64 { return int64(b) }

// String renders the size in the largest unit it reaches, with one
// decimal place when it is not a whole number of that unit (1025 bytes
// renders as "1.0KB"), so a rendered size does not always parse back to
// the same byte count.
func (b ByteSize) String() string {
	n := int64(b)
	for _, u := range []struct {
		mult int64
		name string
	}{{tib, "TB"}, {gib, "GB"}, {mib, "MB"}, {kib, "KB"}} {
		if n >= u.mult {
			v := float64(n) / float64(u.mult)
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d%s", int64(v), u.name)
			}
			return fmt.Sprintf("%.1f%s", v, u.name)
		}
	}
	return fmt.Sprintf("%dB", n)
}

// UnmarshalText lets Viper/YAML decode human-readable sizes.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalText renders the human-readable form for config dumps.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalJSON accepts either a quoted human-readable string or a raw
// byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON renders the human-readable form.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}
