package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LAKSHMINARASIMHATM/price-engine/pkg/source"
)

// ErrPageFailed is returned by FakeLoader for platforms set to fail.
var ErrPageFailed = errors.New("page failed to load")

// RecordingSleep is a retry.SleepFunc that records waits and returns at once.
type RecordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep implements retry.SleepFunc.
func (r *RecordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Delays returns a copy of the recorded waits.
func (r *RecordingSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// FixedRand returns a rand function that always yields v.
func FixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

// FakeLoader serves canned pages per platform and records concurrency.
type FakeLoader struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	calls    map[string]int
	requests []source.LoadRequest

	// Hold, when set, is waited on inside every Load.
	Hold time.Duration

	active atomic.Int64
	peak   atomic.Int64
}

// NewFakeLoader returns a loader with no pages; unknown platforms fail.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{
		pages:    make(map[string]string),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// SetPage serves html for a platform.
func (f *FakeLoader) SetPage(platform, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[platform] = html
}

// FailFirst makes the next n loads for a platform fail; n < 0 fails forever.
func (f *FakeLoader) FailFirst(platform string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[platform] = n
}

// Load implements source.PageLoader.
func (f *FakeLoader) Load(ctx context.Context, req source.LoadRequest) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[req.Platform]++
	f.requests = append(f.requests, req)
	fail := f.failures[req.Platform]
	if fail > 0 {
		f.failures[req.Platform] = fail - 1
	}
	html, ok := f.pages[req.Platform]
	f.mu.Unlock()

	if f.Hold > 0 {
		select {
		case <-time.After(f.Hold):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if fail != 0 || !ok {
		return "", ErrPageFailed
	}
	return html, nil
}

// Calls returns how many loads were attempted for a platform.
func (f *FakeLoader) Calls(platform string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[platform]
}

// Requests returns a copy of all load requests.
func (f *FakeLoader) Requests() []source.LoadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]source.LoadRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Peak returns the highest number of concurrent loads observed.
func (f *FakeLoader) Peak() int {
	return int(f.peak.Load())
}
