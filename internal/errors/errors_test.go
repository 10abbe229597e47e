package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAuthError(t *testing.T) {
	err := NewAuthError("test auth error")

	expected := "authentication failed: test auth error"
	if err.Error() != expected {
		t.Errorf("Error() = %s, want %s", err.Error(), expected)
	}

	if !err.Is(NewAuthError("target")) {
		t.Error("Expected error to be auth error type")
	}
	if err.Is(NewAPIError(400, "test", "other error")) {
		t.Error("Expected error not to match different type")
	}
	if !IsAuthError(fmt.Errorf("wrapped: %w", err)) {
		t.Error("IsAuthError should see through wrapping")
	}
}

func TestAPIError(t *testing.T) {
	err := NewAPIError(400, "test-endpoint", "test API error")

	expected := "API error [400] at test-endpoint: test API error"
	if err.Error() != expected {
		t.Errorf("Error() = %s, want %s", err.Error(), expected)
	}

	noStatus := NewAPIError(0, "e", "m")
	if noStatus.Error() != "API error at e: m" {
		t.Errorf("Error() = %s", noStatus.Error())
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"api error", NewAPIErrorWithBody(502, "/chat", "bad gateway", "oops"), 502},
		{"wrapped", fmt.Errorf("send: %w", NewAPIError(404, "/x", "nf")), 404},
		{"other", errors.New("plain"), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewNetworkErrorWithEndpoint("stream chat", "http://localhost/chat", inner)

	if !errors.Is(err, inner) {
		t.Error("NetworkError should unwrap to the transport error")
	}
	if !IsNetworkError(fmt.Errorf("x: %w", err)) {
		t.Error("IsNetworkError should match wrapped NetworkError")
	}
	if IsNetworkError(inner) {
		t.Error("plain error is not a NetworkError")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Message: "The given data was invalid.",
		Fields: map[string][]string{
			"title":   {"The title field is required."},
			"content": {"The content must be a string.", "second"},
		},
	}

	if got := err.FirstFieldError(); got != "The content must be a string." {
		t.Errorf("FirstFieldError() = %q", got)
	}
	if got := len(err.All()); got != 3 {
		t.Errorf("All() returned %d messages, want 3", got)
	}
	if !IsValidationError(fmt.Errorf("w: %w", err)) {
		t.Error("IsValidationError should match wrapped error")
	}
	if UserMessage(err) != "The content must be a string." {
		t.Errorf("UserMessage() = %q", UserMessage(err))
	}

	empty := &ValidationError{Message: "nope"}
	if got := empty.All(); len(got) != 1 || got[0] != "nope" {
		t.Errorf("All() = %v, want [nope]", got)
	}
}

func TestStreamError(t *testing.T) {
	inner := errors.New("eof")
	err := NewStreamError("No response body", inner)

	if !errors.Is(err, inner) {
		t.Error("StreamError should unwrap")
	}
	if UserMessage(err) != "No response body" {
		t.Errorf("UserMessage() = %q", UserMessage(err))
	}
}

func TestParseError(t *testing.T) {
	err := NewParseError("missing id", "session.id")

	if !errors.Is(err, ErrInvalidResponse) {
		t.Error("ParseError should match ErrInvalidResponse")
	}
	if err.Error() != "parse error: missing id (at session.id)" {
		t.Errorf("Error() = %s", err.Error())
	}
}

func TestUserMessage(t *testing.T) {
	if UserMessage(nil) != "" {
		t.Error("nil error should produce empty message")
	}
	if got := UserMessage(NewAPIError(500, "/x", "HTTP error! status: 500")); got != "HTTP error! status: 500" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "boom" {
		t.Errorf("UserMessage() = %q", got)
	}
}
