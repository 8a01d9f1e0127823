// Package bytesize parses human byte counts such as "32GB" or "5.5 MiB".
// Units are binary: K is 1024, M is 1024^2 and so on up to P.
package bytesize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalid is returned for strings that are not a byte count.
var ErrInvalid = errors.New("bytesize: invalid byte length")

var pattern = regexp.MustCompile(`^(\d*\.*\d*)\s*([KMGTP]?)I?B?$`)

var multipliers = map[string]float64{
	"":  1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
	"P": 1 << 50,
}

// Parse returns the number of bytes in s, rounded to the nearest byte.
func Parse(s string) (uint64, error) {
	m := pattern.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return 0, fmt.Errorf("%w %q", ErrInvalid, s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w %q", ErrInvalid, s)
	}
	n := math.Floor(value*multipliers[m[2]] + 0.5)
	if n >= math.MaxUint64 {
		return 0, fmt.Errorf("%w %q: out of range", ErrInvalid, s)
	}
	return uint64(n), nil
}
