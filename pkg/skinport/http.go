package skinport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/circuitbreaker"
	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the Skinport REST API root.
	DefaultBaseURL = "https://api.skinport.com/v1"
	// Version is sent in the User-Agent header.
	Version = "0.4.0"

	defaultRetryAfter = 60 * time.Second
	maxTries          = 2
)

type credentials struct {
	id     string
	secret string
}

// HTTPClient is the REST sub-client. Requests are serialized: a rate-limited
// request holds the lock while it waits to be retried.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	userAgent string
	breaker   *circuitbreaker.CircuitBreaker
	bus       events.Bus
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *logrus.Entry

	ratelimit sync.Mutex
	authMu    sync.RWMutex
	auth      *credentials
	closed    atomic.Bool
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

func WithBaseURL(u string) HTTPOption {
	return func(h *HTTPClient) {
		h.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the TLS 1.3 pinned default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithCircuitBreaker sets the consecutive failure threshold and the recovery
// timeout of the breaker guarding requests.
func WithCircuitBreaker(threshold int, timeout time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		h.breaker = h.newBreaker(threshold, timeout)
	}
}

// WithRequestBus publishes a RequestEvent for every attempt and a BreakerEvent
// for every breaker transition.
func WithRequestBus(bus events.Bus) HTTPOption {
	return func(h *HTTPClient) {
		h.bus = bus
	}
}

// WithTimeout bounds each HTTP request. Zero keeps the 30s default.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: DefaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS13,
					MaxVersion: tls.VersionTLS13,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: fmt.Sprintf("skinport-go/%s", Version),
		sleep:     sleepContext,
		logger:    logrus.WithField("component", "rest_client"),
	}
	h.breaker = h.newBreaker(5, 30*time.Second)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) newBreaker(threshold int, timeout time.Duration) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(threshold, timeout,
		circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			if h.bus != nil {
				h.bus.Publish(common.TopicBreaker, events.BreakerEvent{From: from.String(), To: to.String()})
			}
		}))
}

// SetAuth sets the HTTP Basic credentials used by every later request.
func (h *HTTPClient) SetAuth(clientID, clientSecret string) {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	if clientID == "" && clientSecret == "" {
		h.auth = nil
		return
	}
	h.auth = &credentials{id: clientID, secret: clientSecret}
}

// Close releases idle connections. Later requests fail with ErrClientClosed.
func (h *HTTPClient) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.logger.Debug("Closing REST session")
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPClient) Closed() bool {
	return h.closed.Load()
}

// get performs a GET on path and decodes the JSON body into out.
func (h *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if h.closed.Load() {
		return ErrClientClosed
	}

	h.ratelimit.Lock()
	defer h.ratelimit.Unlock()

	return h.breaker.Execute(func() error {
		return h.do(ctx, http.MethodGet, path, query, out)
	}, breakerCountable)
}

// breakerCountable counts server and transport failures only; client errors
// say nothing about upstream health.
func breakerCountable(err error) bool {
	for _, target := range []error{
		ErrAuthentication, ErrInsufficientFunds, ErrInvalidScope, ErrNotFound,
		ErrRateLimited, context.Canceled,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
		return false
	}
	return true
}

func (h *HTTPClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		resp, body, err := h.once(ctx, method, path, query)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", path, err)
			}
			return nil
		}

		lastErr = newHTTPError(resp, body)
		if resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		h.logger.WithFields(logrus.Fields{
			"route":       path,
			"retry_after": retryAfter,
		}).Debug("Rate limited, waiting to retry")
		if attempt == maxTries-1 {
			break
		}
		if err := h.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
	return lastErr
}

func (h *HTTPClient) once(ctx context.Context, method, path string, query url.Values) (*http.Response, []byte, error) {
	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/json")

	h.authMu.RLock()
	if h.auth != nil {
		req.SetBasicAuth(h.auth.id, h.auth.secret)
	}
	h.authMu.RUnlock()

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.publish(path, 0, time.Since(start), err)
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	h.publish(path, resp.StatusCode, time.Since(start), err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	h.logger.WithFields(logrus.Fields{
		"method": method,
		"route":  path,
		"status": resp.StatusCode,
	}).Debug("Request completed")
	return resp, body, nil
}

func (h *HTTPClient) publish(route string, status int, d time.Duration, err error) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(common.TopicREST, events.RequestEvent{Route: route, Status: status, Duration: d, Err: err})
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Path,
		kind:       errorForStatus(resp.StatusCode),
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil {
			e.Message = apiErr.text()
			return e
		}
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
