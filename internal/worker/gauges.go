package worker

import (
	"context"
	"time"
)

const defaultSampleInterval = 10 * time.Second

// GaugeSampler periodically invokes a sampling callback that refreshes
// point-in-time gauges (breaker state, log queue depth) that have no natural
// event to hook.
type GaugeSampler struct {
	interval time.Duration
	sample   func()
}

// NewGaugeSampler returns a sampler calling sample every interval; a
// non-positive interval uses the default.
func NewGaugeSampler(interval time.Duration, sample func()) *GaugeSampler {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &GaugeSampler{interval: interval, sample: sample}
}

// Name returns the worker identifier.
func (g *GaugeSampler) Name() string { return "gauge_sampler" }

// Run samples on a ticker until ctx is cancelled.
func (g *GaugeSampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.sample()
	for {
		select {
		case <-ticker.C:
			g.sample()
		case <-ctx.Done():
			return nil
		}
	}
}
