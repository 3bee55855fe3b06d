package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_Sample(t *testing.T) {
	start := time.Now()

	t.Run("speed is bytes over elapsed", func(t *testing.T) {
		e := NewEstimator(start)

		est := e.Sample(start.Add(2*time.Second), 4096)
		require.True(t, est.HasSpeed)
		assert.InDelta(t, 2048.0, est.SpeedBps, 0.01)
	})

	t.Run("no eta below one MiB", func(t *testing.T) {
		e := NewEstimator(start)

		est := e.Sample(start.Add(time.Second), 512*1024)
		assert.True(t, est.HasSpeed)
		assert.False(t, est.HasETA)
	})

	t.Run("eta from fixed projection once past one MiB", func(t *testing.T) {
		e := NewEstimator(start)

		bytes := int64(2 * 1024 * 1024)
		est := e.Sample(start.Add(4*time.Second), bytes)
		require.True(t, est.HasETA)

		// projected total is bytes * 15, remaining paid off at the
		// observed speed
		speed := float64(bytes) / 4.0
		wantETA := float64(bytes*14) / speed
		assert.InDelta(t, wantETA, est.ETASeconds, 0.01)
	})

	t.Run("zero elapsed yields no new estimate", func(t *testing.T) {
		e := NewEstimator(start)

		est := e.Sample(start, 4096)
		assert.False(t, est.HasSpeed)
		assert.False(t, est.HasETA)
	})

	t.Run("negative bytes keep previous estimate", func(t *testing.T) {
		e := NewEstimator(start)

		first := e.Sample(start.Add(time.Second), 4096)
		require.True(t, first.HasSpeed)

		est := e.Sample(start.Add(2*time.Second), -1)
		assert.Equal(t, first, est)
	})

	t.Run("latest tracks the newest sample", func(t *testing.T) {
		e := NewEstimator(start)

		assert.False(t, e.Latest().HasSpeed)

		e.Sample(start.Add(time.Second), 1024)
		e.Sample(start.Add(2*time.Second), 8192)

		latest := e.Latest()
		require.True(t, latest.HasSpeed)
		assert.InDelta(t, 4096.0, latest.SpeedBps, 0.01)
	})
}
