// Package fetch retrieves remote kernel artifacts over HTTP/HTTPS.
//
// Transfers are streamed: bytes flow from the response body straight into
// the caller's sink, so a multi-hundred-megabyte ephemeris kernel never
// has to fit in memory. Transient failures are retried with bounded
// backoff; client errors are not.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"git.home.luguber.info/inful/kernelsync/internal/logfields"
	"git.home.luguber.info/inful/kernelsync/internal/retry"
)

// maxRedirects caps redirect chains to avoid loops.
const maxRedirects = 5

const defaultUserAgent = "kernelsync/1.0"

// Options configures a Fetcher.
type Options struct {
	// ConnectTimeout bounds dialing and TLS setup (default 10s).
	ConnectTimeout time.Duration
	// TransferTimeout bounds a whole single-attempt transfer (default 60s).
	TransferTimeout time.Duration
	// UserAgent overrides the request User-Agent header.
	UserAgent string
	// Retry is the backoff policy for transient failures.
	Retry retry.Policy
}

// Sink is the destination for fetched bytes. *os.File satisfies it; the
// truncate/seek pair lets a retry discard partial bytes from a failed
// attempt.
type Sink interface {
	io.Writer
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

// Fetcher retrieves artifacts over HTTP with bounded redirects, timeouts,
// and transient-failure retry.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New constructs a Fetcher from options, filling in defaults.
func New(opts Options) *Fetcher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ConnectTimeout,
		Proxy:                 http.ProxyFromEnvironment,
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{client: client, opts: opts}
}

// Fetch streams the resource at uri into dst and returns the byte count.
// Transient failures are retried per the configured policy; before each
// retry dst is truncated so bytes from the failed attempt never survive.
// Permanent failures (4xx and malformed URIs) return immediately.
func (f *Fetcher) Fetch(ctx context.Context, uri string, dst Sink) (int64, error) {
	if _, err := url.ParseRequestURI(uri); err != nil {
		return 0, &NetworkError{URI: uri, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= f.opts.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying fetch", logfields.URI(uri), logfields.Attempt(attempt))
			if _, err := dst.Seek(0, io.SeekStart); err != nil {
				return 0, fmt.Errorf("rewind sink: %w", err)
			}
			if err := dst.Truncate(0); err != nil {
				return 0, fmt.Errorf("truncate sink: %w", err)
			}
		}
		n, err := f.fetchOnce(ctx, uri, dst)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !IsTransient(err) {
			return 0, err
		}
		if attempt == f.opts.Retry.MaxRetries {
			break
		}
		select {
		case <-time.After(f.opts.Retry.Delay(attempt + 1)):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("fetch failed after retries: %w", lastErr)
}

// fetchOnce performs a single transfer attempt under the transfer deadline.
func (f *Fetcher) fetchOnce(ctx context.Context, uri string, dst io.Writer) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.TransferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, &NetworkError{URI: uri, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(ctx, uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &HTTPError{URI: uri, Status: resp.StatusCode}
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, classifyTransportError(ctx, uri, err)
	}
	return n, nil
}

// classifyTransportError wraps low-level failures into typed variants.
// The parent context is consulted so caller cancellation is not mistaken
// for a transfer timeout.
func classifyTransportError(parent context.Context, uri string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{URI: uri, Err: err}
	case errors.As(err, &nerr) && nerr.Timeout():
		return &TimeoutError{URI: uri, Err: err}
	default:
		return &NetworkError{URI: uri, Err: err}
	}
}
