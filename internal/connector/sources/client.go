package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// snippetLimit bounds how much of an error response body is kept for
// diagnostics.
const snippetLimit = 200

// ClientConfig bundles the HTTP client and retry settings shared by sources.
type ClientConfig struct {
	Client *http.Client
	Retry  RetryPolicy
}

// rateLimited signals a 429 response inside the retry loop.
type rateLimited struct {
	hint    time.Duration
	hasHint bool
}

func (e *rateLimited) Error() string { return "rate limited" }

// newBreaker builds the per-source circuit breaker. Rate-limit responses are
// the upstream throttling us, not the upstream being down, so they do not
// count toward tripping it.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var rl *rateLimited
			return errors.As(err, &rl)
		},
	})
}

// fetchJSON executes one GET with rate-limit retries and returns the body of
// a 2xx JSON response. Only 429 is retried; transport failures and other
// status codes surface immediately as their classified error. buildRequest is
// called once per attempt so each retry gets a fresh request.
func fetchJSON(ctx context.Context, cfg ClientConfig, cb *gobreaker.CircuitBreaker, buildRequest func() (*http.Request, error)) ([]byte, error) {
	m := newRetryMachine(cfg.Retry)

	for {
		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		// Credentials travel in the query string for some providers, so
		// diagnostics only ever carry scheme, host and path.
		endpoint := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

		result, err := cb.Execute(func() (interface{}, error) {
			return doAttempt(cfg.Client, req, endpoint)
		})
		if err == nil {
			m.RecordSuccess()
			return result.([]byte), nil
		}

		var rl *rateLimited
		if errors.As(err, &rl) {
			m.RecordRateLimit(rl.hint, rl.hasHint)
			if m.State() == stateExhausted {
				return nil, &connector.RateLimitError{Endpoint: endpoint, Attempts: m.Attempts()}
			}
			if err := m.Backoff(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &connector.NetworkError{Endpoint: endpoint, Err: err}
		}
		return nil, err
	}
}

// doAttempt performs one request and classifies the outcome.
func doAttempt(client *http.Client, req *http.Request, endpoint string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &connector.NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &connector.NetworkError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		hint, hasHint := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &rateLimited{hint: hint, hasHint: hasHint}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &connector.UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Snippet:    snippet(body),
		}
	}

	if !json.Valid(body) {
		return nil, &connector.MalformedResponseError{Reason: "response body is not valid JSON"}
	}
	return body, nil
}

// parseRetryAfter reads a Retry-After value given as whole seconds. The HTTP
// date form is ignored and the default backoff delay applies instead.
func parseRetryAfter(h string) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		s = s[:snippetLimit]
	}
	return s
}

func missingField(path string) error {
	return &connector.MalformedResponseError{Reason: fmt.Sprintf("missing required field %s", path)}
}
