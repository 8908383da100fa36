package partners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoAccount       = errors.New("bank account not found")
	ErrNotFound        = errors.New("partner resource not found")
	ErrNoSupplier      = errors.New("no supplier can fill the order")
	ErrNotConfigured   = errors.New("partner not configured")
	ErrMalformed       = errors.New("malformed partner response")
	maxBackoffDuration = 10 * time.Second
)

// StatusError is a non-2xx partner response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Retry bounds the attempts and base delay of outbound calls.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (r Retry) normalized() Retry {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 250 * time.Millisecond
	}
	return r
}

// Backoff returns the delay before attempt+1, doubling from base up to a cap.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxBackoffDuration
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	if backoff > maxBackoffDuration {
		backoff = maxBackoffDuration
	}
	return backoff
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func Do(ctx context.Context, retry Retry, logger logrus.FieldLogger, name string, fn func(ctx context.Context) error) error {
	retry = retry.normalized()
	var err error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == retry.MaxAttempts {
			return err
		}

		wait := Backoff(retry.BaseDelay, attempt)
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"call":    name,
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn(err.Error())
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Retryable reports whether an outbound failure is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrNoAccount) && !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrNotConfigured)
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   Retry
	logger  logrus.FieldLogger
}

func newHTTPClient(baseURL string, retry Retry, logger logrus.FieldLogger) httpClient {
	return httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		retry:   retry,
		logger:  logger,
	}
}

func (c httpClient) call(ctx context.Context, method string, path string, body any, out any) error {
	return Do(ctx, c.retry, c.logger, method+" "+path, func(ctx context.Context) error {
		return c.once(ctx, method, path, body, out)
	})
}

func (c httpClient) once(ctx context.Context, method string, path string, body any, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w: %v", method, url, ErrMalformed, err)
	}
	return nil
}
