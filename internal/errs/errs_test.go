package errs

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	Timeout,
	AssertionFailed,
	InvalidConfig,
	NotFound,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
	if !Is(wrapped, code) {
		t.Fatalf("Is(wrapped, %q) = false", code)
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func TestIs_FindsInnerCode(t *testing.T) {
	t.Parallel()

	inner := New(Timeout, "waiting for #username")
	outer := Wrap(AssertionFailed, "login failed", inner)

	if CodeOf(outer) != AssertionFailed {
		t.Fatalf("CodeOf(outer) = %q", CodeOf(outer))
	}
	if !IsTimeout(outer) {
		t.Fatal("IsTimeout should see the wrapped timeout")
	}
	if Is(outer, InvalidConfig) {
		t.Fatal("Is should not match an absent code")
	}
	if IsTimeout(errors.New("plain")) {
		t.Fatal("plain errors are never timeouts")
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	t.Parallel()

	err := Wrap(Unavailable, "launch chromium", errors.New("executable not found"))
	if got := err.Error(); got != "launch chromium: executable not found" {
		t.Fatalf("Error() = %q", got)
	}
	if got := New(NotFound, "").Error(); got != string(NotFound) {
		t.Fatalf("empty message Error() = %q", got)
	}
}

func TestCodeOf_DefaultsToInternal(t *testing.T) {
	t.Parallel()

	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q", got)
	}
	if got := CodeOf(errors.New("x")); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q", got)
	}
	if got := CodeOf(&Error{Message: "no code"}); got != Internal {
		t.Fatalf("CodeOf(empty code) = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		InvalidConfig:   2,
		Unavailable:     3,
		Timeout:         4,
		AssertionFailed: 4,
		NotFound:        1,
		Internal:        1,
	}
	for code, want := range cases {
		if got := ExitCode(code); got != want {
			t.Errorf("ExitCode(%q) = %d, want %d", code, got, want)
		}
	}
}
