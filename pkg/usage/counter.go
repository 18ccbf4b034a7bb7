// Package usage accumulates per-session LLM token usage.
package usage

import "sync/atomic"

// Counter tracks LLM call count and token totals across concurrent calls.
// Every completed provider call adds exactly one entry. Fields only grow
// until Reset.
type Counter struct {
	callingTimes atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

func NewCounter() *Counter {
	return &Counter{}
}

// AddCall records one completed provider call.
func (c *Counter) AddCall(inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	c.callingTimes.Add(1)
	c.inputTokens.Add(int64(inputTokens))
	c.outputTokens.Add(int64(outputTokens))
}

// Reset returns all fields to zero.
func (c *Counter) Reset() {
	c.callingTimes.Store(0)
	c.inputTokens.Store(0)
	c.outputTokens.Store(0)
}

func (c *Counter) CallingTimes() int {
	if c == nil {
		return 0
	}
	return int(c.callingTimes.Load())
}

func (c *Counter) TotalInputTokens() int {
	if c == nil {
		return 0
	}
	return int(c.inputTokens.Load())
}

func (c *Counter) TotalOutputTokens() int {
	if c == nil {
		return 0
	}
	return int(c.outputTokens.Load())
}

// TotalTokens is input plus output.
func (c *Counter) TotalTokens() int {
	return c.TotalInputTokens() + c.TotalOutputTokens()
}
