// Package karakeep is a client for the Karakeep (Hoarder) v1 REST API,
// covering the list and bookmark operations the sync needs plus the
// scan/upsert protocol built on top of them.
package karakeep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports that the bookmark targeted by an update no longer
// exists on the server.
var ErrNotFound = errors.New("bookmark not found")

// HTTPError is a non-2xx response from the Karakeep API, carrying whatever
// the server put in its error payload.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("karakeep http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("karakeep http %d: %s", e.StatusCode, e.Message)
}

// Logger matches the subset of *log.Logger the client needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Per-operation deadlines. List and link calls are small; bookmark page
// fetches carry full transcripts and get more headroom.
const (
	listTimeout  = 15 * time.Second
	scanTimeout  = 30 * time.Second
	writeTimeout = 20 * time.Second
	linkTimeout  = 15 * time.Second
)

type ClientOptions struct {
	BaseURL    string // including /api/v1
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int           // bounded retries on 429/5xx inside one call
	BaseDelay  time.Duration // backoff start for those retries
	MaxDelay   time.Duration // backoff cap
	PageDelay  time.Duration // pause between bookmark pages during a scan
	RetryDelay time.Duration // fixed pause before re-fetching a timed-out page
	Logger     Logger
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageDelay  time.Duration
	retryDelay time.Duration
	logger     Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: scanTimeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	pageDelay := opts.PageDelay
	if pageDelay <= 0 {
		pageDelay = 100 * time.Millisecond
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		pageDelay:  pageDelay,
		retryDelay: retryDelay,
		logger:     opts.Logger,
	}
}

// doJSON issues one API call with bounded retries on 429/5xx and transport
// errors. Timeout classification for the scan phase's unbounded page retry
// is the caller's job; a timed-out call comes back as an error satisfying
// isTimeout.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", "karasync_"+uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && !isTimeout(err) && callCtx.Err() == nil {
				if waitErr := sleepContext(callCtx, c.retryBackoff(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(callCtx, c.retryBackoff(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = snippet(payload)
		}
		return &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: message}
	}
}

func (c *Client) retryBackoff(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// snippet bounds response bodies quoted in errors and logs.
func snippet(payload []byte) string {
	const max = 200
	text := strings.TrimSpace(string(payload))
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
