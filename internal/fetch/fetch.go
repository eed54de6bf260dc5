// Package fetch downloads remote images over HTTP with retries, size limits
// and an optional guard against private network addresses.
package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"roundicon/pkg/logger"
	"roundicon/pkg/metrics"
)

const (
	DefaultTimeout  = 12 * time.Second
	DefaultAttempts = 3
	MaxFetchBytes   = 16 << 20
	MaxRedirects    = 8
	UABrowser       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
)

var (
	ErrTooLarge         = errors.New("response body too large")
	ErrBlockedScheme    = errors.New("only http/https allowed")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "status " + e.Status
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Options struct {
	Timeout      time.Duration
	Attempts     uint
	RetryDelay   time.Duration
	MaxBytes     int64
	AllowPrivate bool
}

func DefaultOptions() Options {
	return Options{
		Timeout:    DefaultTimeout,
		Attempts:   DefaultAttempts,
		RetryDelay: 300 * time.Millisecond,
		MaxBytes:   MaxFetchBytes,
	}
}

// Response is a fully read 2xx response.
type Response struct {
	Body        []byte
	ContentType string
	URL         *url.URL // after redirects
}

type Client struct {
	http *http.Client
	opts Options
}

// New builds a client. Zero fields in opts take their defaults.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Attempts == 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}

	dialer := &net.Dialer{Timeout: 7 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 4,
	}
	if !opts.AllowPrivate {
		transport.DialContext = guardedDialContext(dialer)
	}

	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return ErrTooManyRedirects
				}
				if !IsAllowedScheme(req.URL) {
					return ErrBlockedScheme
				}
				return nil
			},
		},
	}
}

// Get fetches rawURL, retrying network failures, 5xx and 429 responses.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !IsAllowedScheme(u) {
		return nil, ErrBlockedScheme
	}
	if u.Hostname() == "" {
		return nil, errors.New("empty hostname")
	}

	m := metrics.Get()
	m.IncFetch()

	resp, err := retry.DoWithData(
		func() (*Response, error) { return c.get(ctx, u.String()) },
		retry.Context(ctx),
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Retrying %s (attempt %d): %v", u, n+2, err)
		}),
	)
	if err != nil {
		m.IncFetchError()
		logger.Warn("Fetch failed for %s: %v", u, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UABrowser)
	req.Header.Set("Accept", "image/*,image/avif,image/webp,text/html;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")

	logger.Debug("Fetching URL: %s", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	logger.Debug("Fetched %s: %d bytes, content-type: %s", rawURL, len(body), ct)
	return &Response{Body: body, ContentType: ct, URL: resp.Request.URL}, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	}

	body, err := io.ReadAll(io.LimitReader(reader, c.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.opts.MaxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, c.opts.MaxBytes)
	}
	return body, nil
}

func retryable(err error) bool {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Temporary()
	case errors.Is(err, ErrBlockedAddress), errors.Is(err, ErrBlockedScheme), errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrTooManyRedirects):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
