package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func failingCall() (interface{}, error) { return nil, errors.New("upstream down") }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 3
	cfg.OnStateChange = func(_ string, s State) { transitions = append(transitions, s) }

	cb := New(cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(ctx, failingCall); err == nil {
			t.Fatal("failing call returned nil error")
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != StateOpen {
		t.Errorf("transitions = %v, want last open", transitions)
	}

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		t.Fatal("call attempted while circuit open")
		return nil, nil
	})
	if !IsOpen(err) {
		t.Errorf("Execute() while open = %v, want open-circuit error", err)
	}
}

func TestStaysClosedOnSuccess(t *testing.T) {
	cb := New(DefaultConfig("test"), zap.NewNop())

	for i := 0; i < 20; i++ {
		got, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return "ok", nil
		})
		if err != nil || got != "ok" {
			t.Fatalf("Execute() = (%v, %v)", got, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 2
	cfg.Timeout = 20 * time.Millisecond
	cb := New(cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, failingCall)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := cb.Execute(ctx, func() (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("probe after timeout failed: %v", err)
	}
}

func TestIsOpenOnlyForCircuitErrors(t *testing.T) {
	if IsOpen(errors.New("plain failure")) {
		t.Error("IsOpen(plain error) = true")
	}
	if IsOpen(nil) {
		t.Error("IsOpen(nil) = true")
	}
}
