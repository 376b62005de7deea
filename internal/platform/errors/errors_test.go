package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := apperrors.New(apperrors.CodeNotConnected, "transport is down")
	target := apperrors.New(apperrors.CodeNotConnected, "different message")

	if !stderrors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}
	other := apperrors.New(apperrors.CodeConnectTimeout, "timed out")
	if stderrors.Is(err, other) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := apperrors.Wrap(apperrors.CodeConnectTimeout, "connect timed out", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be found, got %v", err)
	}
	if err.Error() != "connect timed out" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "connect timed out")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", apperrors.New(apperrors.CodeNoActiveQuestion, "no question"))
	if got := apperrors.CodeOf(err); got != apperrors.CodeNoActiveQuestion {
		t.Fatalf("CodeOf = %v, want %v", got, apperrors.CodeNoActiveQuestion)
	}
	if got := apperrors.CodeOf(stderrors.New("plain")); got != apperrors.CodeUnknown {
		t.Fatalf("CodeOf plain error = %v, want %v", got, apperrors.CodeUnknown)
	}
}

func TestRetryable(t *testing.T) {
	if !apperrors.CodeConnectTimeout.Retryable() {
		t.Fatal("expected connect timeout to be retryable")
	}
	if apperrors.CodeConnectRejected.Retryable() {
		t.Fatal("expected protocol rejection not to be retryable")
	}
}
