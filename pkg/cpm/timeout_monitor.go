package cpm

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// TimeoutMonitor scans active control points on a fixed interval and
// escalates overdue ones: first by re-publishing CONTROL_POINT_REACHED
// for the same stage (a retry), then, once max_retries is exhausted,
// by failing the owning pipeline. Grounded on pkg/worker's
// HealthMonitor -- a ticker-driven sync pass rather than one goroutine
// per watched item, since control points churn far more often than
// containers do.
type TimeoutMonitor struct {
	manager  *Manager
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	done     chan struct{}
}

// NewTimeoutMonitor creates a monitor that sweeps every interval.
func NewTimeoutMonitor(manager *Manager, interval time.Duration) *TimeoutMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TimeoutMonitor{
		manager:  manager,
		interval: interval,
		logger:   log.WithComponent("cpm_timeout_monitor"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the monitor loop in its own goroutine.
func (t *TimeoutMonitor) Start() {
	go t.run()
}

// Stop signals the loop to exit and waits for it to return.
func (t *TimeoutMonitor) Stop() {
	close(t.stopCh)
	<-t.done
}

func (t *TimeoutMonitor) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stopCh:
			return
		}
	}
}

// sweep takes one pass over every pipeline's active control points,
// isolating failures per control point the way scheduler.go isolates
// failures per service.
func (t *TimeoutMonitor) sweep() {
	m := t.manager
	m.pipelinesMu.RLock()
	states := make([]*pipelineState, 0, len(m.pipelines))
	for _, state := range m.pipelines {
		states = append(states, state)
	}
	m.pipelinesMu.RUnlock()

	now := time.Now()
	for _, state := range states {
		t.sweepPipeline(state, now)
	}
	metrics.RegisterComponent("timeout_monitor", true, "")
}

func (t *TimeoutMonitor) sweepPipeline(state *pipelineState, now time.Time) {
	m := t.manager

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.context.Status.IsTerminal() {
		return
	}

	overdue := make([]types.ControlPoint, 0)
	for _, cp := range state.active {
		timeout := cp.Timeout
		if timeout <= 0 {
			timeout = m.opts.DefaultTimeout
		}
		if now.Sub(cp.CreatedAt) >= timeout {
			overdue = append(overdue, cp)
		}
	}

	for _, cp := range overdue {
		t.escalateLocked(state, cp)
	}
}

// escalateLocked must be called with state.mu held.
func (t *TimeoutMonitor) escalateLocked(state *pipelineState, cp types.ControlPoint) {
	m := t.manager

	metrics.ControlPointsTimedOut.WithLabelValues(string(cp.Department), string(cp.Stage)).Inc()

	if cp.RetryCount >= m.opts.MaxRetries {
		t.logger.Warn().Str("pipeline_id", cp.PipelineID).Str("control_point_id", cp.ID).
			Str("stage", string(cp.Stage)).Int("retry_count", cp.RetryCount).
			Msg("control point exhausted retries, failing pipeline")

		cp.Status = types.ControlPointTimedOut
		m.archiveControlPointLocked(state, cp)

		state.context.Status = types.PipelineStatusFailed
		state.context.ErrorKind = "timeout"
		state.context.ErrorMessage = "control point " + cp.ID + " timed out at stage " + string(cp.Stage)
		state.context.UpdatedAt = time.Now()
		metrics.PipelinesTotal.WithLabelValues(string(types.PipelineStatusFailed)).Inc()

		if _, err := m.broker.Publish(types.Message{
			Type:          types.MessageRouteError,
			Source:        m.identity,
			Target:        serviceIdentity(),
			CorrelationID: cp.PipelineID,
			Content: map[string]any{
				"control_point_id": cp.ID,
				"stage":            string(cp.Stage),
				"reason":           "timeout",
			},
		}); err != nil {
			t.logger.Error().Err(err).Msg("failed to publish route error")
		}
		return
	}

	t.logger.Info().Str("pipeline_id", cp.PipelineID).Str("control_point_id", cp.ID).
		Str("stage", string(cp.Stage)).Int("retry_count", cp.RetryCount).
		Msg("control point overdue, re-issuing request")

	cp.RetryCount++
	cp.UpdatedAt = time.Now()
	cp.CreatedAt = time.Now() // restart the timeout window for the retry
	state.active[cp.ID] = cp

	if err := m.publishControlPointReached(cp); err != nil {
		t.logger.Error().Err(err).Msg("failed to re-publish control point reached")
	}
}
