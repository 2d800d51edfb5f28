package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders f the way hashed payloads spell numbers: shortest
// round-trip digits, a ".0" suffix on whole values, and exponent notation
// below 1e-04 or from 1e+16 upward ("1e-05", "1.5e+16").
func FormatFloat(f float64) string {
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// payloadFloat is a float64 encoded with FormatFloat.
type payloadFloat float64

func (p payloadFloat) MarshalJSON() ([]byte, error) {
	f := float64(p)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, f)
	}
	return []byte(FormatFloat(f)), nil
}
