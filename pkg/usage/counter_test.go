package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterAddCall(t *testing.T) {
	c := NewCounter()
	c.AddCall(10, 5)
	c.AddCall(3, 2)

	assert.Equal(t, 2, c.CallingTimes())
	assert.Equal(t, 13, c.TotalInputTokens())
	assert.Equal(t, 7, c.TotalOutputTokens())
	assert.Equal(t, 20, c.TotalTokens())
}

func TestCounterReset(t *testing.T) {
	c := NewCounter()
	c.AddCall(100, 50)
	c.Reset()

	assert.Equal(t, 0, c.CallingTimes())
	assert.Equal(t, 0, c.TotalTokens())
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddCall(2, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, c.CallingTimes())
	assert.Equal(t, 200, c.TotalInputTokens())
	assert.Equal(t, 100, c.TotalOutputTokens())
}

func TestNilCounterIsSafe(t *testing.T) {
	var c *Counter
	c.AddCall(1, 1)
	assert.Equal(t, 0, c.CallingTimes())
	assert.Equal(t, 0, c.TotalTokens())
}
