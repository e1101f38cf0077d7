package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusUnauthorized, ErrorClassAuth},
		{http.StatusForbidden, ErrorClassAuth},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.want {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrorClassTimeout},
		{"net timeout", timeoutErr{}, ErrorClassTimeout},
		{"refused", errors.New("connection refused"), ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTransport(tt.err); got != tt.want {
				t.Errorf("classifyTransport() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SourceError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &SourceError{
				Source:     "rainforest",
				StatusCode: 0,
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection reset"),
			},
			expected: "rainforest network error (status 0): request failed: connection reset",
		},
		{
			name: "error without wrapped error",
			err: &SourceError{
				Source:     "datayuge",
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
			},
			expected: "datayuge rate_limit error (status 429): 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSourceError_Unwrap(t *testing.T) {
	inner := context.DeadlineExceeded
	err := fmt.Errorf("api tier: %w", &SourceError{Source: "rainforest", ErrorClass: ErrorClassTimeout, Err: inner})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should reach the wrapped error")
	}
	if Class(err) != ErrorClassTimeout {
		t.Errorf("Class() = %q, want timeout", Class(err))
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout() = false, want true")
	}
}

func TestClass_RateLimited(t *testing.T) {
	err := fmt.Errorf("datayuge: %w", ErrRateLimited)
	if Class(err) != ErrorClassRateLimit {
		t.Errorf("Class() = %q, want rate_limit", Class(err))
	}
	if Class(errors.New("other")) != "" {
		t.Error("unclassified errors should have an empty class")
	}
}
