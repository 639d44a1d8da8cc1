package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 2)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, b.Delay(attempt), "attempt %d", attempt)
	}

	// 极大 attempt 不溢出
	assert.Equal(t, time.Minute, b.Delay(10_000))
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0, 0.5)
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 60*time.Second, b.Max())
	assert.Equal(t, time.Second, b.Delay(-3))
}
