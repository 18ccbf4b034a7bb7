package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var intPattern = regexp.MustCompile(`-?\d+`)

// SafeInt extracts the first integer from a possibly noisy string
// ("2", " 2.", "option 2" all yield 2).
func SafeInt(s string) (int, error) {
	match := intPattern.FindString(strings.TrimSpace(s))
	if match == "" {
		return 0, fmt.Errorf("no integer found in %q", s)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", match, err)
	}
	return n, nil
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
