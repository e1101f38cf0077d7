package retry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recorder is a SleepFunc that records requested waits without sleeping.
type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", p.MaxRetries)
	}
	if p.InitialDelay != 1*time.Second {
		t.Errorf("InitialDelay = %v, want 1s", p.InitialDelay)
	}
	if p.MaxDelay != 4*time.Second {
		t.Errorf("MaxDelay = %v, want 4s", p.MaxDelay)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", p.BackoffMultiplier)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	tests := []struct {
		k    int
		want time.Duration
	}{
		{k: 0, want: 0},
		{k: 1, want: 100 * time.Millisecond},
		{k: 2, want: 200 * time.Millisecond},
		{k: 3, want: 400 * time.Millisecond},
		{k: 4, want: 800 * time.Millisecond},
		{k: 5, want: time.Second},
		{k: 10, want: time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.k); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.k, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"no retries", Policy{}, false},
		{"negative retries", Policy{MaxRetries: -1}, true},
		{"negative delay", Policy{InitialDelay: -time.Second}, true},
		{"initial above max", Policy{InitialDelay: 2 * time.Second, MaxDelay: time.Second}, true},
		{"shrinking multiplier", Policy{BackoffMultiplier: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutor_BackoffSchedule(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec.sleep)
	policy := Policy{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	calls := 0
	opErr := errors.New("page did not load")
	err := x.Do(context.Background(), policy, Op{Platform: "Amazon", Item: "Milk"}, func(context.Context) error {
		calls++
		return opErr
	})

	if calls != 4 {
		t.Errorf("attempts = %d, want 4", calls)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if diff := cmp.Diff(want, rec.delays); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}

	if !errors.Is(err, ErrExhausted) {
		t.Errorf("error should match ErrExhausted, got %v", err)
	}
	if !errors.Is(err, opErr) {
		t.Errorf("error should surface the last operation error, got %v", err)
	}

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error should be *Error, got %T", err)
	}
	if rerr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", rerr.Attempts)
	}
	if rerr.Op.Platform != "Amazon" || rerr.Op.Item != "Milk" {
		t.Errorf("Op = %+v", rerr.Op)
	}
	if !strings.Contains(err.Error(), "Amazon/Milk") {
		t.Errorf("error message should name platform and item: %q", err.Error())
	}
}

func TestExecutor_SucceedsAfterRetry(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec.sleep)

	calls := 0
	err := x.Do(context.Background(), DefaultPolicy(), Op{Platform: "Flipkart", Item: "Rice"}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("timeout")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 2 {
		t.Errorf("attempts = %d, want 2", calls)
	}
	if len(rec.delays) != 1 || rec.delays[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", rec.delays)
	}
}

func TestExecutor_NoRetries(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec.sleep)

	calls := 0
	err := x.Do(context.Background(), Policy{}, Op{}, func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
	if len(rec.delays) != 0 {
		t.Errorf("no sleep expected, got %v", rec.delays)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	x := NewExecutor(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	opErr := errors.New("503")
	err := x.Do(ctx, DefaultPolicy(), Op{Platform: "Blinkit", Item: "Eggs"}, func(context.Context) error {
		calls++
		return opErr
	})

	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, opErr) {
		t.Errorf("expected last error to be preserved, got %v", err)
	}
}

func TestValue(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(rec.sleep)

	calls := 0
	got, err := Value(context.Background(), x, DefaultPolicy(), Op{Platform: "JioMart"}, func(context.Context) (float64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("blocked")
		}
		return 55, nil
	})

	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if got != 55 {
		t.Errorf("Value() = %v, want 55", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled context = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return promptly on cancellation")
	}
}
