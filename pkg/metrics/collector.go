package metrics

import "time"

// StagingStats is the subset of the staging manager's state the
// collector needs to refresh the staging gauges. Defined here rather
// than imported so this package never depends on pkg/staging.
type StagingStats interface {
	CountsByState() map[string]int
	BytesStored() int64
}

// Collector periodically refreshes the gauge metrics that reflect a
// live snapshot of the system (as opposed to counters, which the
// broker, control-point manager, and staging manager update inline at
// the moment an event happens).
type Collector struct {
	staging StagingStats
	stopCh  chan struct{}
}

// NewCollector creates a collector that polls staging for its current
// entry counts and stored byte total.
func NewCollector(staging StagingStats) *Collector {
	return &Collector{
		staging: staging,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic collection loop in its own goroutine.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.staging == nil {
		return
	}
	for state, count := range c.staging.CountsByState() {
		StagingEntriesTotal.WithLabelValues(state).Set(float64(count))
	}
	StagingBytesStored.Set(float64(c.staging.BytesStored()))
}
