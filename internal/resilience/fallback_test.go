package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var called string
	err := fg.Execute(context.Background(), func(_ string, v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_Failover(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	got, err := ExecuteWithResult(context.Background(), fg, func(name string, v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "twenty" {
		t.Fatalf("result = %q, want twenty", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	err := fg.Execute(context.Background(), func(string, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, should wrap the last failure", err)
	}
}

func TestFallbackGroup_SkipsOpenPrimary(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	for i := 0; i < 2; i++ {
		_ = fg.Execute(context.Background(), func(_ string, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.PrimaryState() != StateOpen {
		t.Fatalf("primary state = %v, want open", fg.PrimaryState())
	}

	var called []string
	_ = fg.Execute(context.Background(), func(_ string, v string) error {
		called = append(called, v)
		return nil
	})
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := fg.Execute(ctx, func(string, string) error {
		calls++
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation must not be reported as ErrAllFailed")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no failover after cancel)", calls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "a", FallbackConfig{})
	fg.AddFallback("b", 2)
	fg.AddFallback("c", 3)
	names := fg.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names() = %v", names)
	}
}
