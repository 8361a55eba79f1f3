package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidSize    = errors.New("invalid size")
	ErrEmptyResponse  = errors.New("empty response")
	ErrMissingOutputs = errors.New("job produced no outputs")
)

// AuthError reports a failed credential exchange. Body holds the raw remote
// payload so the operator can see why the identity service refused.
type AuthError struct {
	Service string
	Status  int
	Body    string
	Err     error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: authentication failed", e.Service)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		fmt.Fprintf(&b, ": %s", body)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// SubmissionError reports a create-job call the remote service rejected.
type SubmissionError struct {
	Service   string
	Operation string
	Status    int
	Body      string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Service, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// Unauthorized reports whether the remote rejected the bearer token.
func (e *SubmissionError) Unauthorized() bool {
	return e.Status == 401
}

// PollTimeoutError is returned when a job did not reach a terminal status
// within the configured attempt or elapsed-time bound.
type PollTimeoutError struct {
	StatusURL  string
	Attempts   int
	Elapsed    time.Duration
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s not terminal after %d checks (%s), last status %q",
		e.StatusURL, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastStatus)
}

// JobFailedError wraps a terminal failed status once a caller decides to
// abort on it. Pollers never raise it themselves.
type JobFailedError struct {
	Service   string
	Operation string
	JobID     string
	Detail    string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("%s %s: job %s failed", e.Service, e.Operation, e.JobID)
	if d := strings.TrimSpace(e.Detail); d != "" {
		msg += ": " + d
	}
	return msg
}

// TransferError reports an upload or download that did not complete.
type TransferError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ConfigError lists required configuration values that were not provided.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return "config: " + e.Reason
	}
	msg := "config: missing " + strings.Join(e.Missing, ", ")
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
