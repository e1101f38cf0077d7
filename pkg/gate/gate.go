// Package gate bounds how many source queries run at once.
//
// The gate is separate from the aggregator's batch size: the batch size caps
// how many items resolve concurrently, the gate caps how many page loads are
// in flight across all of them.
package gate

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is used when New is given a non-positive limit.
const DefaultMaxConcurrent = 3

var (
	gateInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "price_gate_inflight",
		Help: "Number of tasks currently admitted by a concurrency gate",
	}, []string{"gate"})

	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_gate_wait_seconds",
		Help:    "Time spent waiting for a gate slot",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"gate"})
)

// Gate admits at most Max tasks at a time. Blocked callers proceed in no
// particular order as slots free up.
type Gate struct {
	name   string
	max    int64
	sem    *semaphore.Weighted
	active atomic.Int64
	peak   atomic.Int64
}

// New creates a gate admitting maxConcurrent tasks.
func New(name string, maxConcurrent int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Gate{
		name: name,
		max:  int64(maxConcurrent),
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context ends
// while waiting; otherwise it returns fn's error. The slot is released on
// every exit path, including a panic in fn.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	timer := prometheus.NewTimer(gateWaitSeconds.WithLabelValues(g.name))
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	timer.ObserveDuration()

	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	gateInflight.WithLabelValues(g.name).Inc()

	defer func() {
		gateInflight.WithLabelValues(g.name).Dec()
		g.active.Add(-1)
		g.sem.Release(1)
	}()

	return fn(ctx)
}

// Run is Do for tasks that produce a value.
func Run[T any](ctx context.Context, g *Gate, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Active returns the number of tasks currently admitted.
func (g *Gate) Active() int { return int(g.active.Load()) }

// Peak returns the highest number of concurrently admitted tasks observed.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// Max returns the admission limit.
func (g *Gate) Max() int { return int(g.max) }
