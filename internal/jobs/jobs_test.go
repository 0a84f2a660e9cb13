package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

type countingProber struct {
	calls atomic.Int32
}

func (c *countingProber) ProbeAll(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestGraceSweepJob(t *testing.T) {
	t.Run("sweeps immediately on start", func(t *testing.T) {
		sweeper := &countingSweeper{}
		job := NewGraceSweepJob(sweeper, time.Hour)

		job.Start()
		defer job.Stop()

		assert.Eventually(t, func() bool {
			return sweeper.calls.Load() >= 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("ticks on the interval", func(t *testing.T) {
		sweeper := &countingSweeper{}
		job := NewGraceSweepJob(sweeper, 20*time.Millisecond)

		job.Start()
		defer job.Stop()

		assert.Eventually(t, func() bool {
			return sweeper.calls.Load() >= 3
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("stop ends the loop", func(t *testing.T) {
		sweeper := &countingSweeper{}
		job := NewGraceSweepJob(sweeper, 10*time.Millisecond)

		job.Start()
		job.Stop()
		time.Sleep(30 * time.Millisecond)
		after := sweeper.calls.Load()
		time.Sleep(50 * time.Millisecond)

		assert.Equal(t, after, sweeper.calls.Load())
	})
}

func TestHealthProbeJob(t *testing.T) {
	t.Run("probes on the interval", func(t *testing.T) {
		prober := &countingProber{}
		job := NewHealthProbeJob(prober, 20*time.Millisecond)

		job.Start()
		defer job.Stop()

		assert.Eventually(t, func() bool {
			return prober.calls.Load() >= 2
		}, time.Second, 10*time.Millisecond)
	})
}
