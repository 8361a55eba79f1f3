package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"fireflow/internal/domain"
	"fireflow/internal/infra"
)

// Checksum describes bytes written to disk.
type Checksum struct {
	SHA256 string
	Bytes  int64
}

// Transfer downloads job outputs from pre-issued URLs to local files, retrying
// transient failures.
type Transfer struct {
	client      *http.Client
	maxAttempts int
	interval    time.Duration
	logger      *infra.Logger
}

// TransferOptions configures a Transfer.
type TransferOptions struct {
	HTTPClient    *http.Client
	MaxAttempts   int
	RetryInterval time.Duration
	Logger        *infra.Logger
}

// NewTransfer builds a Transfer with defaults for unset options.
func NewTransfer(opts TransferOptions) *Transfer {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Transfer{client: client, maxAttempts: attempts, interval: interval, logger: logger}
}

// Fetch streams url to dst, replacing any existing file, and returns the
// SHA-256 and size of what was written.
func (t *Transfer) Fetch(ctx context.Context, url, dst string) (Checksum, error) {
	sum, err := retry(ctx, t, func() (Checksum, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Checksum{}, backoff.Permanent(err)
		}
		resp, err := t.client.Do(req)
		if err != nil {
			return Checksum{}, err
		}
		defer resp.Body.Close()
		if err := statusErr(resp); err != nil {
			return Checksum{}, err
		}
		return writeFile(dst, resp.Body)
	})
	if err != nil {
		return Checksum{}, &domain.TransferError{Op: "download", Target: url, Err: err}
	}
	t.logger.Debug().Str("dst", dst).Int64("bytes", sum.Bytes).Str("sha256", sum.SHA256).Msg("storage: fetched")
	return sum, nil
}

func retry[T any](ctx context.Context, t *Transfer, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.interval
	policy.MaxInterval = 10 * t.interval
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if err != nil {
			t.logger.Warn().Err(err).Int("attempt", attempt).Msg("storage: transfer failed")
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(t.maxAttempts)))
}

var errRemoteStatus = errors.New("remote status")

// statusErr maps non-2xx responses: 429 and 5xx are retried, the rest are
// permanent.
func statusErr(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("%w: http %d", errRemoteStatus, resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

// writeFile streams r into a temporary sibling of dst and renames it into
// place so readers never observe a partial file.
func writeFile(dst string, r io.Reader) (Checksum, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Checksum{}, fmt.Errorf("ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return Checksum{}, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return Checksum{}, err
	}
	if err := tmp.Close(); err != nil {
		return Checksum{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Checksum{}, err
	}
	return Checksum{SHA256: hex.EncodeToString(h.Sum(nil)), Bytes: n}, nil
}
