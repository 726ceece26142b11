// Package utils provides small, layer-independent helpers. Nothing in here
// may import domain or transport packages.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, returning def when s is blank or not a
// valid integer. Query-parameter parsing is the main consumer; surrounding
// whitespace is tolerated.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
