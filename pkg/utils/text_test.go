package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeInt(t *testing.T) {
	cases := map[string]int{
		"2":        2,
		" 2. ":     2,
		"option 3": 3,
		"-5":       -5,
		"answer: 12 is best": 12,
	}
	for input, want := range cases {
		got, err := SafeInt(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := SafeInt("no number here")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdefghij", 2))

	// Rune-safe on multi-byte text.
	cut := Truncate(strings.Repeat("中", 50), 10)
	assert.Equal(t, 10, len([]rune(cut)))
}

func TestTokenEstimatorFallback(t *testing.T) {
	var nilEstimator *TokenEstimator
	assert.Equal(t, 2, nilEstimator.Count("12345678"))
	assert.Equal(t, 3, EstimateTokens("twelve chars"))
}
