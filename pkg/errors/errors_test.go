package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestIsMatchesWrappedCode(t *testing.T) {
	wrapped := fmt.Errorf("group service: join: %w", ErrConflict)

	if !Is(wrapped, "CONFLICT") {
		t.Fatal("expected wrapped conflict to match")
	}
	if Is(wrapped, "NOT_FOUND") {
		t.Fatal("did not expect NOT_FOUND to match")
	}
	if Is(stdErrors.New("plain"), "CONFLICT") {
		t.Fatal("plain errors carry no code")
	}
}

func TestCodeOf(t *testing.T) {
	if code := CodeOf(fmt.Errorf("wrap: %w", ErrForbidden)); code != "FORBIDDEN" {
		t.Fatalf("unexpected code %q", code)
	}
	if code := CodeOf(stdErrors.New("plain")); code != "" {
		t.Fatalf("expected empty code, got %q", code)
	}
}

func TestCopiesMatchSentinelWithErrorsIs(t *testing.T) {
	copied := ErrNotFound.WithInternal(stdErrors.New("row missing"))
	if !stdErrors.Is(copied, ErrNotFound) {
		t.Fatal("expected copy to match sentinel")
	}
	if !stdErrors.Is(fmt.Errorf("wrap: %w", ErrNotFound.WithMessage("Group not found")), ErrNotFound) {
		t.Fatal("expected wrapped copy with new message to match sentinel")
	}
	if stdErrors.Is(copied, ErrForbidden) {
		t.Fatal("did not expect different code to match")
	}
}
