package staging

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
)

// maxBackoffMultiplier caps the sweeper's backoff at 10x its base
// interval, per spec.md §4.3 "Retention".
const maxBackoffMultiplier = 10

// Sweeper periodically reaps staging entries past their retention
// window. Grounded on pkg/reconciler's ticker-plus-lock cycle: each
// tick takes one pass, reports a cycle metric, and backs off
// exponentially on repeated failure rather than spinning at the base
// interval against a wedged store.
type Sweeper struct {
	manager      *Manager
	baseInterval time.Duration
	logger       zerolog.Logger
	stopCh       chan struct{}
	done         chan struct{}
}

// NewSweeper creates a sweeper that runs every baseInterval under
// normal conditions.
func NewSweeper(manager *Manager, baseInterval time.Duration) *Sweeper {
	if baseInterval <= 0 {
		baseInterval = time.Hour
	}
	return &Sweeper{
		manager:      manager,
		baseInterval: baseInterval,
		logger:       log.WithComponent("staging_sweeper"),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to return.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.baseInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			deleted, err := s.manager.sweepExpired(time.Now())
			timer.ObserveDuration(metrics.StagingSweepDuration)
			metrics.StagingSweepCyclesTotal.Inc()

			if err != nil {
				consecutiveFailures++
				metrics.CallbackErrors.WithLabelValues("staging_sweeper").Inc()
				metrics.RegisterComponent("staging_sweeper", false, err.Error())
				s.logger.Error().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("sweep cycle failed")

				backoff := s.baseInterval * time.Duration(1<<uint(consecutiveFailures))
				if max := s.baseInterval * maxBackoffMultiplier; backoff > max {
					backoff = max
				}
				ticker.Reset(backoff)
				continue
			}

			metrics.RegisterComponent("staging_sweeper", true, "")
			if consecutiveFailures > 0 {
				consecutiveFailures = 0
				ticker.Reset(s.baseInterval)
			}
			if deleted > 0 {
				s.logger.Info().Int("deleted", deleted).Msg("sweep cycle reaped expired entries")
			}
		case <-s.stopCh:
			return
		}
	}
}
