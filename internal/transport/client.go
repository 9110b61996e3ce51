package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/metrics"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodySize    = 256 << 20 // 256 MiB per response
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RetryConfig controls exponential backoff for retryable failures
// (network errors, 429 and 5xx).
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetry mirrors what the sources tolerate in practice.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
	}
}

// Options configures a Client.
type Options struct {
	Name       string // source name, used for logs and metrics
	Timeout    time.Duration
	Policy     Policy
	Retry      *RetryConfig // nil uses DefaultRetry
	HTTPClient *http.Client // overrides Timeout when set
	Logger     *slog.Logger
}

// Client issues requests for one source. Each adapter owns its own Client.
type Client struct {
	name    string
	http    *http.Client
	policy  Policy
	limiter *rate.Limiter
	retry   RetryConfig
	log     *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	retry := DefaultRetry()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		name:    opts.Name,
		http:    hc,
		policy:  opts.Policy,
		limiter: opts.Policy.Limiter(),
		retry:   retry,
		log:     log.With("source", opts.Name),
	}
}

func (c *Client) Name() string   { return c.name }
func (c *Client) Policy() Policy { return c.policy }

// SetLimiter replaces the throttle. A nil limiter disables throttling.
func (c *Client) SetLimiter(l *rate.Limiter) { c.limiter = l }

// Get fetches url under the client's policy and returns the body.
func (c *Client) Get(ctx context.Context, op, url string) ([]byte, error) {
	return c.GetWithPolicy(ctx, op, url, c.policy)
}

// GetWithPolicy fetches url under the given policy.
func (c *Client) GetWithPolicy(ctx context.Context, op, url string, policy Policy) ([]byte, error) {
	body, err := c.Open(ctx, op, url, policy)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, &errs.TransportError{Op: op, URL: url, Err: err}
	}
	return data, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, op, url string, out any) error {
	data, err := c.Get(ctx, op, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errs.TransportError{Op: op, URL: url, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// Open performs the request with throttling and retries and returns the
// response body on a 2xx status. The caller closes it.
func (c *Client) Open(ctx context.Context, op, url string, policy Policy) (io.ReadCloser, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialInterval
	bo.MaxInterval = c.retry.MaxInterval
	bo.Multiplier = c.retry.Multiplier
	bo.Reset()

	var body io.ReadCloser
	operation := func() error {
		rc, err := c.do(ctx, op, url, policy)
		if err != nil {
			return err
		}
		body = rc
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.log.Warn("request failed, retrying",
			"op", op,
			"url", url,
			"error", err,
			"next_attempt_in", next.Round(time.Millisecond).String(),
		)
	}

	retryable := backoff.WithContext(backoff.WithMaxRetries(bo, c.retry.MaxRetries), ctx)
	if err := backoff.RetryNotify(operation, retryable, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, op, url string, policy Policy) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(&errs.TransportError{Op: op, URL: url, Err: err})
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(&errs.TransportError{Op: op, URL: url, Err: fmt.Errorf("create request: %w", err)})
	}
	policy.Apply(req)

	metrics.InflightRequests.Inc()
	timer := time.Now()
	resp, err := c.http.Do(req)
	metrics.InflightRequests.Dec()
	metrics.RequestDuration.WithLabelValues(c.name).Observe(time.Since(timer).Seconds())

	if err != nil {
		metrics.RequestsTotal.WithLabelValues(c.name, "error").Inc()
		terr := &errs.TransportError{Op: op, URL: url, Err: err}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(terr)
		}
		return nil, terr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.RequestsTotal.WithLabelValues(c.name, "ok").Inc()
		return resp.Body, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	metrics.RequestsTotal.WithLabelValues(c.name, "error").Inc()

	terr := &errs.TransportError{Op: op, URL: url, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		terr.Err = errs.ErrNotFound
		return nil, backoff.Permanent(terr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, terr
	default:
		return nil, backoff.Permanent(terr)
	}
}

// IsNotFound reports whether err came from a 404/410 response or an explicit
// not-found result.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
