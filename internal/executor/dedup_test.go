package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Hour)

	assert.False(t, d.IsDuplicate("bar:BTC:1", now))
	assert.True(t, d.IsDuplicate("bar:BTC:1", now.Add(time.Minute)))
	assert.False(t, d.IsDuplicate("bar:BTC:2", now.Add(time.Minute)))

	// expired entries are new again
	assert.False(t, d.IsDuplicate("bar:BTC:1", now.Add(2*time.Hour)))

	d.Cleanup(now.Add(2*time.Hour + 30*time.Minute))
	assert.Equal(t, 1, d.Len())
	d.Cleanup(now.Add(4 * time.Hour))
	assert.Zero(t, d.Len())
}
