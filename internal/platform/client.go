// Package platform wraps the remote chat platform REST API with retries,
// exponential backoff and a circuit breaker. All engine components talk to
// the platform exclusively through this client.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 60 * time.Second
	defaultBackoffInitial   = 1 * time.Second
	defaultBackoffMax       = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// ChannelMeta describes one channel as returned by the platform.
type ChannelMeta struct {
	ID        string     `json:"id"`
	Category  string     `json:"category"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	EventTime *time.Time `json:"eventTime,omitempty"`
}

// Activity is the per-channel activity metadata.
type Activity struct {
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	HasPinned      bool       `json:"hasPinnedMessages"`
	MessageCount   int        `json:"messageCount"`
}

// DeleteResult reports the outcome of a single delete attempt. A delete of
// an already-missing channel counts as deleted (idempotent).
type DeleteResult struct {
	Deleted     bool
	RateLimited bool
	RetryAfter  time.Duration
}

// Options tunes client resilience. Zero values fall back to defaults.
type Options struct {
	RequestTimeout   time.Duration
	MaxRetries       int // retries after the first attempt
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	HTTPClient       *http.Client
}

// Client talks to the platform API. Safe for concurrent use; rate-limit and
// breaker state are guarded internally and never exposed to callers.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoffIni time.Duration
	backoffMax time.Duration
	breaker    *gobreaker.CircuitBreaker[[]byte]

	mu             sync.Mutex
	lastRetryAfter time.Duration
}

func New(baseURL, token string, opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = defaultBackoffInitial
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    trimSlash(baseURL),
		token:      token,
		httpClient: opts.HTTPClient,
		timeout:    opts.RequestTimeout,
		maxRetries: opts.MaxRetries,
		backoffIni: opts.BackoffInitial,
		backoffMax: opts.BackoffMax,
	}

	threshold := opts.BreakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 1, // single half-open probe
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Permission, validation and not-found responses are the
			// platform working as intended; only transient failures
			// count against the breaker.
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[platform] circuit breaker %s -> %s", from, to)
		},
	})
	return c
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// BreakerState returns the current breaker state for status reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// LastRetryAfter returns the most recent server-provided rate-limit hint.
func (c *Client) LastRetryAfter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRetryAfter
}

func (c *Client) noteRetryAfter(d time.Duration) {
	c.mu.Lock()
	c.lastRetryAfter = d
	c.mu.Unlock()
}

type listChannelsResponse struct {
	Channels []ChannelMeta `json:"channels"`
}

// ListChannels returns all channels in a category.
func (c *Client) ListChannels(ctx context.Context, category string) ([]ChannelMeta, error) {
	var resp listChannelsResponse
	path := "/api/v1/categories/" + url.PathEscape(category) + "/channels"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list channels in %q: %w", category, err)
	}
	return resp.Channels, nil
}

// GetActivity returns activity metadata for one channel.
func (c *Client) GetActivity(ctx context.Context, channelID string) (*Activity, error) {
	var act Activity
	path := "/api/v1/channels/" + url.PathEscape(channelID) + "/activity"
	if err := c.do(ctx, http.MethodGet, path, nil, &act); err != nil {
		return nil, fmt.Errorf("get activity for %s: %w", channelID, err)
	}
	return &act, nil
}

type createChannelRequest struct {
	Name      string     `json:"name"`
	EventTime *time.Time `json:"eventTime,omitempty"`
	Topic     string     `json:"topic,omitempty"`
}

// CreateChannel provisions a channel in a category. The retention engine
// never calls this; event tooling shares the client.
func (c *Client) CreateChannel(ctx context.Context, category, name string, eventTime *time.Time, topic string) (*ChannelMeta, error) {
	var meta ChannelMeta
	path := "/api/v1/categories/" + url.PathEscape(category) + "/channels"
	req := createChannelRequest{Name: name, EventTime: eventTime, Topic: topic}
	if err := c.do(ctx, http.MethodPost, path, req, &meta); err != nil {
		return nil, fmt.Errorf("create channel %q in %q: %w", name, category, err)
	}
	return &meta, nil
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage posts a text message into a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) error {
	path := "/api/v1/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, postMessageRequest{Content: content}, nil); err != nil {
		return fmt.Errorf("post message to %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel issues exactly one delete attempt through the breaker.
// Rate-limit pacing and retries for deletions belong to the eviction
// executor, which owns batch timing; retrying here as well would multiply
// the wait. A 404 counts as a successful delete.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) (DeleteResult, error) {
	path := "/api/v1/channels/" + url.PathEscape(channelID)
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return c.once(ctx, http.MethodDelete, path, nil)
	})
	if err == nil {
		return DeleteResult{Deleted: true}, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return DeleteResult{}, fmt.Errorf("delete %s: %w", channelID, ErrUnavailable)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindNotFound:
			return DeleteResult{Deleted: true}, nil
		case KindRateLimited:
			c.noteRetryAfter(apiErr.RetryAfter)
			return DeleteResult{RateLimited: true, RetryAfter: apiErr.RetryAfter}, nil
		}
	}
	return DeleteResult{}, fmt.Errorf("delete %s: %w", channelID, err)
}

// do runs one API call with retries. Transient failures (timeouts,
// connection errors, 5xx, 429) are retried with exponential backoff and
// jitter; 429 honors the server hint instead when present. Validation,
// permission and not-found responses are never retried. Exhausted retries
// and an open breaker both surface as ErrUnavailable.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		data, err := c.breaker.Execute(func() ([]byte, error) {
			return c.once(ctx, method, path, payload)
		})
		if err == nil {
			return data, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("%w: circuit open", ErrUnavailable))
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Kind {
			case KindRateLimited:
				c.noteRetryAfter(apiErr.RetryAfter)
				if secs := int(apiErr.RetryAfter / time.Second); secs > 0 {
					return nil, backoff.RetryAfter(secs)
				}
				return nil, err
			case KindTransient:
				return nil, err
			default:
				return nil, backoff.Permanent(err)
			}
		}
		// Transport-level failure, retryable.
		return nil, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.backoffIni
	expo.MaxInterval = c.backoffMax
	expo.Multiplier = 2

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		if IsTransient(err) {
			return fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, err)
		}
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// once performs a single HTTP round trip with the per-call timeout.
func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp, data)
	}
	return data, nil
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func newAPIError(resp *http.Response, data []byte) *APIError {
	var body errorResponse
	_ = json.Unmarshal(data, &body)

	apiErr := &APIError{
		Kind:    kindFromStatus(resp.StatusCode),
		Status:  resp.StatusCode,
		Message: body.Error,
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if apiErr.Kind == KindRateLimited {
		if body.RetryAfterSeconds > 0 {
			apiErr.RetryAfter = time.Duration(body.RetryAfterSeconds) * time.Second
		} else if hdr := resp.Header.Get("Retry-After"); hdr != "" {
			if secs, err := strconv.Atoi(hdr); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return apiErr
}
