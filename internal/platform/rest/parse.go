package rest

import (
	"strconv"
	"strings"
)

// Float parses an exchange number string. Empty and unparsable values
// read as zero, which the spread calculator treats as missing.
func Float(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
