// Package utils provides token estimation and small text/JSON helpers.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator counts tokens for a specific model using tiktoken.
// Used for prompt-budget checks before a provider call reports real usage.
type TokenEstimator struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

func NewTokenEstimator(model string) (*TokenEstimator, error) {
	encodingCacheMu.RLock()
	cached, exists := encodingCache[model]
	encodingCacheMu.RUnlock()

	if exists {
		return &TokenEstimator{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// cl100k_base covers gpt-4 era models and is a fine approximation
		// for anything unknown.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = encoding
	encodingCacheMu.Unlock()

	return &TokenEstimator{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (te *TokenEstimator) Count(text string) int {
	if te == nil || te.encoding == nil {
		return len(text) / 4
	}
	return len(te.encoding.Encode(text, nil, nil))
}

func (te *TokenEstimator) Model() string {
	return te.model
}

// EstimateTokens provides a rough character-based estimation for callers
// without an estimator at hand.
func EstimateTokens(text string) int {
	return len(text) / 4
}
