// Package kibi formats and parses byte sizes with binary (1024) multiples
package kibi

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidByteSize = errors.New("Invalid byte size")

var sizeRegex = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

var units = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes returns a human readable size, eg "512 bytes", "3.5 MB" or "120 MB".
// Sizes below 10 units keep one decimal.
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%v bytes", b)
	}
	v := float64(b)
	unit := 0
	for v >= 1024 && unit < len(units)-1 {
		v /= 1024
		unit++
	}
	if v < 10 && v != float64(int64(v)) {
		return fmt.Sprintf("%.1f %v", v, units[unit])
	}
	return fmt.Sprintf("%v %v", int64(v), units[unit])
}

// ParseBytes accepts an integer with an optional suffix: bytes, k/kb, m/mb, g/gb, t/tb, p/pb.
// Case and whitespace are ignored.
func ParseBytes(s string) (int64, error) {
	m := sizeRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSize, s)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	shift := 0
	switch m[2] {
	case "", "b", "bytes":
	case "k", "kb":
		shift = 10
	case "m", "mb":
		shift = 20
	case "g", "gb":
		shift = 30
	case "t", "tb":
		shift = 40
	case "p", "pb":
		shift = 50
	default:
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSize, s)
	}
	return value << shift, nil
}
