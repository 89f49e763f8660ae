package errs

import (
	"strings"
	"testing"
)

func TestErrorFormattingIncludesComponentCodeAndCanonical(t *testing.T) {
	err := New(
		"session",
		CodeExchange,
		WithMessage("venue entered maintenance"),
		WithRawCode("20060"),
		WithRawMessage("maintenance start"),
		WithCanonicalCode(CanonicalMaintenanceMode),
	)

	out := err.Error()
	if !strings.Contains(out, "component=session") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=maintenance_mode") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, `raw_code="20060"`) {
		t.Fatalf("expected raw venue code in error string: %s", out)
	}
	if !strings.Contains(out, `raw_msg="maintenance start"`) {
		t.Fatalf("expected raw venue message in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("chain", CodeTimeout, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestErrorBlankComponentDefaultsToUnknown(t *testing.T) {
	err := New("  ", CodeAuth)
	if !strings.Contains(err.Error(), "component=unknown") {
		t.Fatalf("expected a blank component to render as unknown: %s", err.Error())
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
