package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"fireflow/internal/domain"
)

func testTransfer() *Transfer {
	return NewTransfer(TransferOptions{MaxAttempts: 3, RetryInterval: time.Millisecond})
}

func TestFetchWritesFileWithChecksum(t *testing.T) {
	payload := []byte("expanded background bytes")
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	dst := filepath.Join(t.TempDir(), "nested", "out.jpg")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("stale content that is longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	sum, err := testTransfer().Fetch(context.Background(), ts.URL+"/img.jpg", dst)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	want := sha256.Sum256(payload)
	if sum.SHA256 != hex.EncodeToString(want[:]) || sum.Bytes != int64(len(payload)) {
		t.Fatalf("unexpected checksum %+v", sum)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != string(payload) {
		t.Fatalf("file not overwritten: %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := testTransfer().Fetch(context.Background(), ts.URL, filepath.Join(t.TempDir(), "x.jpg"))
	var transferErr *domain.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
