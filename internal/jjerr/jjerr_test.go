package jjerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(NotFound, "no such change").With("change_id", "abc123")
	wrapped := fmt.Errorf("failed to resolve revset: %w", base)

	if !IsKind(wrapped, NotFound) {
		t.Errorf("expected NotFound kind after wrapping, got %q", KindOf(wrapped))
	}
	if got := ContextValue(wrapped, "change_id"); got != "abc123" {
		t.Errorf("expected context change_id=abc123, got %q", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(InvalidArgument, "bad parent count %d", 0).
		With("change_id", "deadbeef").
		Hint("pass at least one parent")

	msg := err.Error()
	if !strings.Contains(msg, "INVALID_ARGUMENT") {
		t.Errorf("message missing kind: %s", msg)
	}
	if !strings.Contains(msg, "change_id=deadbeef") {
		t.Errorf("message missing context: %s", msg)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageError, "failed to write graph", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if KindOf(err) != StorageError {
		t.Errorf("expected StorageError, got %q", KindOf(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors should have no kind")
	}
	if IsKind(nil, NotFound) {
		t.Error("nil error should match no kind")
	}
}
