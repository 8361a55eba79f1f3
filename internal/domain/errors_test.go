package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAuthErrorIncludesRemoteBody(t *testing.T) {
	err := &AuthError{Service: "ims", Status: 400, Body: `{"error":"invalid_client"}`}
	if !strings.Contains(err.Error(), "invalid_client") {
		t.Fatalf("expected body in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "http 400") {
		t.Fatalf("expected status in message, got %q", err.Error())
	}
}

func TestTransferErrorUnwraps(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := fmt.Errorf("stage knockout: %w", &TransferError{Op: "download", Target: "/a.jpg", Err: base})
	var te *TransferError
	if !errors.As(wrapped, &te) {
		t.Fatalf("expected TransferError in chain")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected base error reachable through chain")
	}
}

func TestSubmissionErrorUnauthorized(t *testing.T) {
	if !(&SubmissionError{Status: 401}).Unauthorized() {
		t.Fatalf("401 should be unauthorized")
	}
	if (&SubmissionError{Status: 400}).Unauthorized() {
		t.Fatalf("400 should not be unauthorized")
	}
}

func TestConfigErrorListsMissing(t *testing.T) {
	err := &ConfigError{Missing: []string{"CLIENT_ID", "CLIENT_SECRET"}}
	if got := err.Error(); got != "config: missing CLIENT_ID, CLIENT_SECRET" {
		t.Fatalf("unexpected message %q", got)
	}
}
