package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type graceSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// GraceSweepJob periodically pauses accounts whose payment-failure grace
// period has run out.
type GraceSweepJob struct {
	lifecycle graceSweeper
	interval  time.Duration
	done      chan struct{}
}

func NewGraceSweepJob(lifecycle graceSweeper, interval time.Duration) *GraceSweepJob {
	return &GraceSweepJob{
		lifecycle: lifecycle,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *GraceSweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("grace sweep job started")
}

func (j *GraceSweepJob) Stop() {
	close(j.done)
	log.Info().Msg("grace sweep job stopped")
}

func (j *GraceSweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *GraceSweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.lifecycle.SweepExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("grace period sweep failed")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("paused accounts with expired grace period")
	}
}
