package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"

	"github.com/okian/kudos/internal/domain/model"
)

// Errors returned by Client.
var (
	ErrUnavailable  = errors.New("service unavailable")
	ErrProcessed    = errors.New("event already processed")
	ErrBackpressure = errors.New("service is shedding load")
)

const maxRetries = 5

// Client talks to the ledger's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the service at base.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// StatusError is a non-success response.
type StatusError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Pending lists unprocessed events, oldest first.
func (c *Client) Pending(ctx context.Context, limit int) ([]model.Event, error) {
	q := url.Values{"pending": {"true"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var events []model.Event
	if _, err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Reprocess asks the service to evaluate the event again. Backpressure is
// retried with exponential backoff.
func (c *Client) Reprocess(ctx context.Context, id string) error {
	path := "/events/" + url.PathEscape(id) + "/reprocess"
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.do(ctx, http.MethodPost, path, nil, nil)
		var se *StatusError
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
			return struct{}{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		case errors.As(err, &se) && se.Status == http.StatusConflict:
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrProcessed, id))
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxRetries))
	return err
}

type ack struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

// Submit posts a producer event. duplicate reports a repeated id.
func (c *Client) Submit(ctx context.Context, sub model.Submission) (duplicate bool, err error) {
	var a ack
	status, err := c.do(ctx, http.MethodPost, "/events", sub, &a)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK && a.Status == "duplicate", nil
}

// PutUser creates or updates a user profile.
func (c *Client) PutUser(ctx context.Context, id, teamID string) error {
	body := map[string]string{"teamId": teamID}
	_, err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), body, nil)
	return err
}

// PutTeam creates or renames a team.
func (c *Client) PutTeam(ctx context.Context, id, name string) error {
	body := map[string]string{"name": name}
	_, err := c.do(ctx, http.MethodPut, "/teams/"+url.PathEscape(id), body, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		se := &StatusError{Status: resp.StatusCode}
		_ = sonic.Unmarshal(data, se)
		return resp.StatusCode, se
	}
	if out != nil {
		if err := sonic.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
