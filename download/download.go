// Package download fetches a remote snapshot over HTTP and reports
// fractional progress while the body streams in.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"

	"github.com/opencontainers/go-digest"
	"golang.org/x/time/rate"
)

// DefaultChunkSize is the largest number of body bytes taken in one read.
const DefaultChunkSize = 64 << 10

// ProgressFunc receives the fraction of the body received so far, in [0, 1].
// Values passed to it never decrease and the last value is exactly 1.
type ProgressFunc func(fraction float64)

// Downloader fetches snapshots over HTTP.
// A Downloader is safe for concurrent use; it keeps no state between calls.
type Downloader struct {
	client    *nethttp.Client
	headers   nethttp.Header
	chunkSize int
	limiter   *rate.Limiter
	digest    digest.Digest
	logger    *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(d *Downloader) {
		if headers == nil {
			return
		}
		d.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(d *Downloader) {
		if d.headers == nil {
			d.headers = make(nethttp.Header)
		}
		d.headers.Set(key, value)
	}
}

// WithChunkSize caps how many bytes a single read takes, and therefore the
// largest step between progress reports. Values <= 0 select [DefaultChunkSize].
func WithChunkSize(n int) Option {
	return func(d *Downloader) {
		d.chunkSize = n
	}
}

// WithRateLimit caps the transfer at bytesPerSecond. Zero disables the limit.
func WithRateLimit(bytesPerSecond int) Option {
	return func(d *Downloader) {
		if bytesPerSecond <= 0 {
			d.limiter = nil
			return
		}
		d.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
}

// WithDigest requires the downloaded body to match dgst.
func WithDigest(dgst digest.Digest) Option {
	return func(d *Downloader) {
		d.digest = dgst
	}
}

// WithLogger sets the logger for transfer diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a Downloader.
func New(opts ...Option) (*Downloader, error) {
	d := &Downloader{
		client:    nethttp.DefaultClient,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = nethttp.DefaultClient
	}
	if d.chunkSize <= 0 {
		d.chunkSize = DefaultChunkSize
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.digest != "" {
		if err := d.digest.Validate(); err != nil {
			return nil, fmt.Errorf("invalid digest %q: %w", d.digest, err)
		}
	}
	if d.limiter != nil && d.limiter.Burst() < d.chunkSize {
		d.limiter.SetBurst(d.chunkSize)
	}
	return d, nil
}

// Download fetches url and returns the whole body.
//
// When the response declares its length, onProgress is called after every
// chunk read from the body. Otherwise the body is read in one go
// and onProgress is called once with 1. A partial body is never returned.
// All failures wrap [ErrNetwork].
func (d *Downloader) Download(ctx context.Context, url string, onProgress ProgressFunc) ([]byte, error) {
	report := monotonic(onProgress)

	req, err := d.newRequest(ctx, url)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body []byte
	if resp.ContentLength > 0 {
		body, err = d.readChunked(ctx, resp.Body, resp.ContentLength, report)
	} else {
		d.logger.Debug("content length unknown, reading body in one pass", "url", url)
		body, err = d.readAll(ctx, resp.Body)
		if err == nil {
			report(1)
		}
	}
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	if d.digest != "" {
		if got := d.digest.Algorithm().FromBytes(body); got != d.digest {
			return nil, &Error{URL: url, Err: fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, got, d.digest)}
		}
	}
	d.logger.Debug("download complete", "url", url, "bytes", len(body))
	return body, nil
}

// readChunked reports progress after every read that returns data, so each
// chunk the transport delivers is reflected. chunkSize caps a single read.
func (d *Downloader) readChunked(ctx context.Context, r io.Reader, total int64, report ProgressFunc) ([]byte, error) {
	body := make([]byte, 0, total)
	buf := make([]byte, d.chunkSize)
	var received int64
	for received < total {
		n, err := r.Read(buf)
		if n > 0 {
			received += int64(n)
			if received > total {
				return nil, fmt.Errorf("body exceeds declared length %d", total)
			}
			body = append(body, buf[:n]...)
			report(float64(received) / float64(total))
			if werr := d.wait(ctx, n); werr != nil {
				return nil, werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if received != total {
		return nil, fmt.Errorf("body truncated: received %d of %d bytes", received, total)
	}
	return body, nil
}

func (d *Downloader) readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	if d.limiter == nil {
		return io.ReadAll(r)
	}
	return io.ReadAll(&limitedReader{ctx: ctx, r: r, d: d})
}

func (d *Downloader) wait(ctx context.Context, n int) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.WaitN(ctx, n)
}

func (d *Downloader) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range d.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Transparent decompression would hide Content-Length.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// monotonic guards fn so that it only ever sees non-decreasing values
// clamped to [0, 1].
func monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(float64) {}
	}
	last := -1.0
	return func(v float64) {
		v = min(max(v, 0), 1)
		if v < last {
			return
		}
		last = v
		fn(v)
	}
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	d   *Downloader
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > l.d.chunkSize {
		p = p[:l.d.chunkSize]
	}
	if err := l.d.wait(l.ctx, len(p)); err != nil {
		return 0, err
	}
	return l.r.Read(p)
}
