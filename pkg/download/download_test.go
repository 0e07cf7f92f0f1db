// SPDX-License-Identifier: MPL-2.0

package download

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
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	t.Parallel()

	body := []byte("hello pack")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "out.zip"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	err = Download(context.Background(), f, srv.URL, Options{Checksum: sha256Hex(body), Algorithm: SHA256})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Errorf("file content = %q, want %q", got, body)
	}
}

func TestDownloadRetriesAndTruncates(t *testing.T) {
	t.Parallel()

	good := []byte("good")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("corrupted and much longer body"))
			return
		}
		_, _ = w.Write(good)
	}))
	defer srv.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if err := Download(context.Background(), f, srv.URL, Options{Checksum: sha256Hex(good)}); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
	got, _ := os.ReadFile(f.Name())
	if string(got) != "good" {
		t.Errorf("file content = %q, want %q", got, "good")
	}
}

func TestBytesFailsAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Bytes(context.Background(), srv.URL, Options{Retries: 2})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Bytes() error = %v, want ErrFailed", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Bytes() error = %v, want wrapped 404 HTTPStatusError", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestBytesChecksumMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	_, err := Bytes(context.Background(), srv.URL, Options{Checksum: "00", Algorithm: SHA1, Retries: 1})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Bytes() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"1.21":{"pack_version":{"resource":15,"data":15}}}`))
	}))
	defer srv.Close()

	var got map[string]map[string]any
	if err := JSON(context.Background(), srv.URL, &got, Options{}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if _, ok := got["1.21"]; !ok {
		t.Errorf("JSON() = %v, missing key 1.21", got)
	}
}

func TestInvalidAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := Bytes(context.Background(), "http://127.0.0.1:0", Options{Checksum: "ab", Algorithm: "md5"})
	if !errors.Is(err, ErrInvalidAlgorithm) {
		t.Errorf("Bytes() error = %v, want ErrInvalidAlgorithm", err)
	}
}

func TestThrottleSlowsTransfer(t *testing.T) {
	t.Parallel()

	body := make([]byte, 4*ChunkSize)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	start := time.Now()
	// 32 KiB at 128 KiB/s is 250ms.
	if _, err := Bytes(context.Background(), srv.URL, Options{BytesPerSecond: 128 * 1024}); err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("elapsed = %v, want throttled to at least 200ms", elapsed)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Bytes(ctx, srv.URL, Options{Retries: 5})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Bytes() error = %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server calls = %d, want 0", calls.Load())
	}
}
