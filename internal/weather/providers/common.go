package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-history/internal/retry"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// isRetryable classifies a failed attempt: throttling, server errors and
// transport failures are retried, other 4xx responses are not.
func isRetryable(err error) bool {
	if errors.Is(err, errCircuitOpen) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// breakerSuccessful reports whether an outcome leaves the circuit breaker
// closed. Rejections of one request (4xx other than 429) say nothing about
// upstream health and must not trip it for other locations.
func breakerSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return false
}

func (c BackoffConfig) policy(onRetry func(attempt int, delay time.Duration, err error)) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxRetries + 1,
		Backoff:     retry.Exponential(c.InitialInterval, c.MaxInterval, c.Jitter),
		Retryable:   isRetryable,
		OnRetry:     onRetry,
	}
}

// doRequestWithResilience executes the request through the circuit breaker and
// retries retryable failures with exponential backoff. The returned body has
// been fully read.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
	observe func(code int, d time.Duration),
	onRetry func(attempt int, delay time.Duration, err error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var body []byte
	err := retry.Do(ctx, cfg.Backoff.policy(onRetry), func(ctx context.Context) error {
		req, err := buildRequest(ctx)
		if err != nil {
			return retry.Permanent(err)
		}

		result, err := cb.Execute(func() (interface{}, error) {
			start := time.Now()
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				observe(0, time.Since(start))
				return nil, execErr
			}
			defer resp.Body.Close()

			data, readErr := io.ReadAll(resp.Body)
			observe(resp.StatusCode, time.Since(start))
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				if len(data) > maxErrorBody {
					data = data[:maxErrorBody]
				}
				return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
			}
			if readErr != nil {
				return nil, readErr
			}
			return data, nil
		})
		if err != nil {
			// If circuit is open, propagate immediately.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("%w: %v", errCircuitOpen, err)
			}
			return err
		}

		data, ok := result.([]byte)
		if !ok {
			return retry.Permanent(errors.New("unexpected result type from circuit breaker"))
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
