// SPDX-License-Identifier: MPL-2.0

// Package download fetches files over HTTP with checksum verification,
// a bounded retry loop and a cooperative bandwidth throttle.
package download

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is what Mojang publishes for its downloads
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ChunkSize is the unit after which the throttle re-evaluates its schedule.
const ChunkSize = 8 * 1024

// DefaultRetries is used when Options.Retries is not positive.
const DefaultRetries = 3

const (
	// SHA1 selects SHA-1 checksums.
	SHA1 Algorithm = "sha1"
	// SHA256 selects SHA-256 checksums.
	SHA256 Algorithm = "sha256"
)

var (
	// ErrFailed is wrapped by every error returned after all attempts are used up.
	ErrFailed = errors.New("download failed")
	// ErrChecksumMismatch marks an attempt whose body did not match the expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidAlgorithm is the sentinel error wrapped by InvalidAlgorithmError.
	ErrInvalidAlgorithm = errors.New("invalid checksum algorithm")
)

type (
	// Algorithm names a checksum algorithm.
	Algorithm string

	// InvalidAlgorithmError is returned for unknown algorithms.
	InvalidAlgorithmError struct {
		Value Algorithm
	}

	// Options controls a download.
	Options struct {
		// Checksum is the expected hex digest. Empty disables verification.
		Checksum string
		// Algorithm selects the digest. Defaults to SHA256 when Checksum is set.
		Algorithm Algorithm
		// BytesPerSecond limits throughput. Values < 1 disable the throttle.
		BytesPerSecond int64
		// Retries is the number of attempts. Values < 1 mean DefaultRetries.
		Retries int
		// Client is the HTTP client. Defaults to http.DefaultClient.
		Client *http.Client
		Logger *log.Logger
	}

	// Destination receives the body. It is rewound before every attempt.
	Destination interface {
		io.Writer
		io.Seeker
	}

	truncater interface {
		Truncate(size int64) error
	}

	// HTTPStatusError reports a non-2xx response.
	HTTPStatusError struct {
		URL        string
		StatusCode int
		Status     string
	}
)

// Error implements the error interface.
func (e *InvalidAlgorithmError) Error() string {
	return fmt.Sprintf("invalid checksum algorithm %q (must be sha1 or sha256)", e.Value)
}

// Unwrap returns ErrInvalidAlgorithm.
func (e *InvalidAlgorithmError) Unwrap() error { return ErrInvalidAlgorithm }

// Validate returns nil for supported algorithms.
func (a Algorithm) Validate() error {
	switch a {
	case SHA1, SHA256:
		return nil
	default:
		return &InvalidAlgorithmError{Value: a}
	}
}

// String returns the algorithm name.
func (a Algorithm) String() string { return string(a) }

func (a Algorithm) newHash() hash.Hash {
	if a == SHA1 {
		return sha1.New() //nolint:gosec // see import
	}
	return sha256.New()
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error for %q: %s", e.URL, e.Status)
}

// Download writes the body at url into dst, verifying and retrying per opts.
// On success dst holds exactly the verified body.
func Download(ctx context.Context, dst Destination, url string, opts Options) error {
	return run(ctx, url, opts, func() (io.Writer, error) {
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind destination: %w", err)
		}
		if t, ok := dst.(truncater); ok {
			if err := t.Truncate(0); err != nil {
				return nil, fmt.Errorf("failed to truncate destination: %w", err)
			}
		}
		return dst, nil
	})
}

// Bytes downloads url into memory.
func Bytes(ctx context.Context, url string, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	err := run(ctx, url, opts, func() (io.Writer, error) {
		buf.Reset()
		return &buf, nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSON downloads url and decodes it into v.
func JSON(ctx context.Context, url string, v any, opts Options) error {
	data, err := Bytes(ctx, url, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode JSON from %q: %w", url, err)
	}
	return nil
}

// run is the bounded retry loop shared by all entry points. reset is called
// before every attempt and returns the writer for that attempt.
func run(ctx context.Context, url string, opts Options, reset func() (io.Writer, error)) error {
	if opts.Checksum != "" {
		if opts.Algorithm == "" {
			opts.Algorithm = SHA256
		}
		if err := opts.Algorithm.Validate(); err != nil {
			return err
		}
	}
	if opts.Retries < 1 {
		opts.Retries = DefaultRetries
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		w, err := reset()
		if err != nil {
			return err
		}

		ok, err := attemptOnce(ctx, w, url, opts)
		if ok {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("download of %q interrupted: %w", url, ctxErr)
		}
		lastErr = err
		logger.Warn("download attempt failed", "url", url, "attempt", attempt, "err", err)
	}

	return fmt.Errorf("%w: %q after %d attempts: %w", ErrFailed, url, opts.Retries, lastErr)
}

// attemptOnce performs one GET. It reports ok=false with the reason on any failure.
func attemptOnce(ctx context.Context, w io.Writer, url string, opts Options) (ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := opts.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var sum hash.Hash
	if opts.Checksum != "" {
		sum = opts.Algorithm.newHash()
		w = io.MultiWriter(w, sum)
	}

	if err := copyThrottled(ctx, w, resp.Body, opts.BytesPerSecond); err != nil {
		return false, err
	}

	if sum != nil {
		got := hex.EncodeToString(sum.Sum(nil))
		if !strings.EqualFold(got, strings.TrimSpace(opts.Checksum)) {
			return false, fmt.Errorf("%w: %s %s, expected %s", ErrChecksumMismatch, opts.Algorithm, got, opts.Checksum)
		}
	}
	return true, nil
}

// copyThrottled copies in ChunkSize pieces. After each chunk the expected
// elapsed time at rate bytesPerSecond is compared with the wall clock and the
// difference is slept off.
func copyThrottled(ctx context.Context, w io.Writer, r io.Reader, bytesPerSecond int64) error {
	buf := make([]byte, ChunkSize)
	start := time.Now()
	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write: %w", err)
			}
			written += int64(n)

			if bytesPerSecond > 0 {
				expected := time.Duration(float64(written) / float64(bytesPerSecond) * float64(time.Second))
				if wait := expected - time.Since(start); wait > 0 {
					if err := sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read body: %w", readErr)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
