package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
// All units are binary (1024-based); "KiB" and "KB" are equivalent.
//
// Examples:
//   - "10MB" = 10 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "5242880" = 5242880 bytes (raw number still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON bodies.
type ByteSize int64

// Size constants using binary (1024) base.
const (
	Byte     ByteSize = 1
	Kibibyte          = 1024 * Byte
	Mebibyte          = 1024 * Kibibyte
	Gibibyte          = 1024 * Mebibyte
	Tebibyte          = 1024 * Gibibyte
)

var byteSizeUnits = map[string]ByteSize{
	"":    Byte,
	"b":   Byte,
	"k":   Kibibyte,
	"kb":  Kibibyte,
	"kib": Kibibyte,
	"m":   Mebibyte,
	"mb":  Mebibyte,
	"mib": Mebibyte,
	"g":   Gibibyte,
	"gb":  Gibibyte,
	"gib": Gibibyte,
	"t":   Tebibyte,
	"tb":  Tebibyte,
	"tib": Tebibyte,
}

// byteSizePattern matches a number (int or float) followed by an optional unit.
var byteSizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
// If no unit is given, bytes are assumed.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	m := byteSizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}

	mult, ok := byteSizeUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}

	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts either a quoted
// human-readable string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns a human-readable representation using the largest unit
// that yields a value >= 1.
func (b ByteSize) String() string {
	if b == 0 {
		return "0B"
	}

	neg := b < 0
	if neg {
		b = -b
	}

	var s string
	switch {
	case b >= Tebibyte:
		s = formatSize(float64(b)/float64(Tebibyte), "TB")
	case b >= Gibibyte:
		s = formatSize(float64(b)/float64(Gibibyte), "GB")
	case b >= Mebibyte:
		s = formatSize(float64(b)/float64(Mebibyte), "MB")
	case b >= Kibibyte:
		s = formatSize(float64(b)/float64(Kibibyte), "KB")
	default:
		s = fmt.Sprintf("%dB", b)
	}

	if neg {
		return "-" + s
	}
	return s
}

func formatSize(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}
