// Package httpcore is the Resilient HTTP Core (spec.md §4.A): one
// per-service HTTP client abstraction that hides transient failure from the
// rest of the system. Retry, circuit-breaking, rate-limiting, and pooling
// are composed from github.com/failsafe-go/failsafe-go policies, following
// the builder/executor idiom the library itself documents; the
// primary/fallback endpoint rotation is the client's own outer loop, since a
// failsafe circuit breaker only understands a single target.
package httpcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/bulkhead"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/ratelimiter"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.uber.org/zap"

	"hedgecore/internal/clockutil"
)

type endpointPolicies struct {
	url      string
	executor failsafe.Executor[*http.Response]
}

// Client is a resilient HTTP client fronting an ordered list of endpoints
// for a single venue. Nil-logger constructs fall back to a no-op logger,
// matching polymarketapi.PolymarketApiClient.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	clock      clockutil.Clock
	cfg        Config

	admission failsafe.Executor[*http.Response] // shared rate limiter + pool
	endpoints []endpointPolicies                // one breaker+retry+timeout executor per endpoint
}

// NewClient builds a Client from cfg. The rate limiter and connection pool
// are shared across every endpoint (admission is per client, not per
// endpoint); the circuit breaker is per endpoint, since an outage on the
// primary must not trip the fallback's breaker.
func NewClient(logger *zap.Logger, clock clockutil.Clock, cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("httpcore: at least one endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockutil.Real{}
	}

	limiter := ratelimiter.NewBurstyBuilder[*http.Response](
		uint(math.Round(cfg.RateLimit.TokensPerSecond))+cfg.RateLimit.Burst, time.Second,
	).WithMaxWaitTime(cfg.RequestTimeout).
		Build()
	pool := bulkhead.NewBuilder[*http.Response](cfg.Pool.MaxConnections).
		WithMaxWaitTime(cfg.Pool.ConnectionTimeout).
		Build()
	admission := failsafe.NewExecutor[*http.Response](limiter, pool)

	endpoints := make([]endpointPolicies, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		retry := retrypolicy.NewBuilder[*http.Response]().
			WithMaxRetries(int(cfg.Retry.MaxAttempts) - 1).
			WithBackoffFactor(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Multiplier).
			WithJitterFactor(cfg.Retry.JitterFraction).
			HandleIf(func(_ *http.Response, err error) bool {
				return isRetryable(err, cfg)
			}).
			Build()

		breaker := circuitbreaker.NewBuilder[*http.Response]().
			WithFailureThreshold(cfg.CircuitBreaker.FailureThreshold).
			WithDelay(cfg.CircuitBreaker.Delay).
			WithSuccessThreshold(cfg.CircuitBreaker.HalfOpenSuccessThreshold).
			Build()

		attemptTimeout := timeout.New[*http.Response](cfg.RequestTimeout)

		endpoints = append(endpoints, endpointPolicies{
			url:      ep,
			executor: failsafe.NewExecutor[*http.Response](retry, breaker, attemptTimeout),
		})
	}

	return &Client{
		logger:     logger.Named("httpcore"),
		httpClient: &http.Client{},
		clock:      clock,
		cfg:        cfg,
		admission:  admission,
		endpoints:  endpoints,
	}, nil
}

func isRetryable(err error, cfg Config) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable() || cfg.retryableStatus(httpErr.StatusCode)
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, timeout.ErrExceeded)
}

// Get issues a GET request to path on the best available endpoint.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, headers)
}

// Post issues a POST request with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, path string, body any, headers map[string]string) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpcore: marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(buf), headers)
}

// Decode issues resp and decodes its body into dest as JSON. A successful
// transport round trip whose body fails to decode is a terminal ParseError,
// never retried (spec.md §4.A step 7).
func Decode[T any](resp *http.Response, endpoint string) (T, error) {
	var dest T
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dest, &ParseError{Endpoint: endpoint, Cause: err}
	}
	if err := json.Unmarshal(body, &dest); err != nil {
		return dest, &ParseError{Endpoint: endpoint, Cause: err}
	}
	return dest, nil
}

// do implements the ordered endpoint/breaker/retry protocol: admission once
// per call, then rotate endpoints only on a retryable failure, never
// consuming a retry attempt to move between endpoints.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("httpcore: read request body: %w", err)
		}
	}

	var lastErr error
	for _, ep := range c.endpoints {
		resp, err := c.attempt(ctx, ep, method, path, bodyBytes, headers)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Debug("breaker open, rotating endpoint", zap.String("endpoint", ep.url))
			lastErr = ErrCircuitOpen
			continue
		}
		if errors.Is(err, ratelimiter.ErrExceeded) {
			return nil, ErrRateLimited
		}
		if errors.Is(err, bulkhead.ErrFull) {
			return nil, ErrPoolExhausted
		}
		if errors.Is(err, timeout.ErrExceeded) {
			err = ErrTimeout
		}

		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return nil, err // never retried, never rotated
		}

		lastErr = err
		if !isRetryable(err, c.cfg) {
			return nil, err
		}
		c.logger.Warn("endpoint exhausted retries, rotating", zap.String("endpoint", ep.url), zap.Error(err))
	}

	return nil, &AllEndpointsFailedError{Endpoints: endpointURLs(c.endpoints), LastErr: lastErr}
}

func (c *Client) attempt(ctx context.Context, ep endpointPolicies, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	// Admission: rate limit then pool slot, shared across every endpoint.
	_, admitErr := c.admission.WithContext(ctx).Get(func() (*http.Response, error) {
		return nil, nil
	})
	if admitErr != nil {
		return nil, admitErr
	}

	return ep.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(exec.Context(), method, ep.url+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("httpcore: build request: %w", err)
		}
		for k, v := range c.cfg.DefaultHeaders {
			req.Header.Set(k, v)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := exec.Context().Err(); ctxErr != nil {
				return nil, ErrTimeout
			}
			return nil, &ConnectionError{Endpoint: ep.url, Cause: err}
		}
		if resp.StatusCode/100 != 2 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody), Endpoint: ep.url}
		}
		return resp, nil
	})
}

func endpointURLs(eps []endpointPolicies) []string {
	urls := make([]string, len(eps))
	for i, ep := range eps {
		urls[i] = ep.url
	}
	return urls
}

// JitteredDelay computes the backoff formula directly (failsafe-go's own
// RetryPolicy already applies this internally for HTTP calls). Exposed for
// callers scheduling their own out-of-band retries.
func JitteredDelay(attempt int, base, max time.Duration, multiplier, jitterFraction float64) time.Duration {
	raw := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if raw > float64(max) {
		raw = float64(max)
	}
	factor := 1 - jitterFraction + rand.Float64()*2*jitterFraction
	return time.Duration(raw * factor)
}
