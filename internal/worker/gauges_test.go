package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGaugeSamplerSamplesOnStartAndTick(t *testing.T) {
	var calls atomic.Int64
	g := NewGaugeSampler(5*time.Millisecond, func() { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("sampler did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop on cancel")
	}
}
