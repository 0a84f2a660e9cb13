package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type instanceProber interface {
	ProbeAll(ctx context.Context) error
}

// HealthProbeJob keeps instance statuses honest: the backend does not push
// disconnects reliably, so every instance is polled on an interval.
type HealthProbeJob struct {
	registry instanceProber
	interval time.Duration
	done     chan struct{}
}

func NewHealthProbeJob(registry instanceProber, interval time.Duration) *HealthProbeJob {
	return &HealthProbeJob{
		registry: registry,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *HealthProbeJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("health probe job started")
}

func (j *HealthProbeJob) Stop() {
	close(j.done)
	log.Info().Msg("health probe job stopped")
}

func (j *HealthProbeJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.probe()
		}
	}
}

func (j *HealthProbeJob) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.registry.ProbeAll(ctx); err != nil {
		log.Error().Err(err).Msg("instance health probe failed")
	}
}
