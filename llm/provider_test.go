package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestThrottledError_MatchesSentinel(t *testing.T) {
	base := errors.New("429 Too Many Requests")
	err := fmt.Errorf("generation failed: %w", &ThrottledError{Provider: "gemini", Detail: "quota exhausted", Err: base})

	if !IsThrottled(err) {
		t.Fatal("expected wrapped ThrottledError to match ErrThrottled")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected ThrottledError to unwrap to the backend error")
	}
	if !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected detail in message, got %q", err.Error())
	}
}

func TestThrottledError_FallsBackToWrappedMessage(t *testing.T) {
	err := &ThrottledError{Err: errors.New("slow down")}
	if got := err.Error(); got != "model throttled: slow down" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestIsThrottled_OtherErrors(t *testing.T) {
	if IsThrottled(errors.New("boom")) {
		t.Fatal("plain error must not be throttled")
	}
	if IsThrottled(nil) {
		t.Fatal("nil must not be throttled")
	}
}
