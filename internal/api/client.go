// Package api talks to the call matching store, a PostgREST table of calls
// waiting for a volunteer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eyeconnect/native/internal/logging"
)

const (
	StatusWaiting  = "waiting"
	StatusAccepted = "accepted"

	callsTable = "calls"
)

var (
	// ErrNoWaitingCall is returned when nobody is waiting for help.
	ErrNoWaitingCall = errors.New("no waiting call")
	// ErrCallTaken is returned when another volunteer accepted first.
	ErrCallTaken = errors.New("call already taken")
	// ErrCallNotFound is returned when the row for a room is gone.
	ErrCallNotFound = errors.New("call not found")
)

// CallRow is one row of the calls table.
type CallRow struct {
	RoomID    string  `json:"room_id"`
	Status    string  `json:"status"`
	HelperID  *string `json:"helper_id,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// Client is a minimal PostgREST client for the calls table.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the REST endpoint at baseURL
// (e.g. https://<project>.supabase.co/rest/v1).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateCall inserts a waiting row for roomID.
func (c *Client) CreateCall(ctx context.Context, roomID string) (*CallRow, error) {
	rows, err := c.do(ctx, http.MethodPost, nil, CallRow{RoomID: roomID, Status: StatusWaiting})
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create call: empty response")
	}
	logging.Infof("[api] call %s waiting", roomID)
	return &rows[0], nil
}

// NextWaiting returns the oldest waiting call.
func (c *Client) NextWaiting(ctx context.Context) (*CallRow, error) {
	q := url.Values{}
	q.Set("status", "eq."+StatusWaiting)
	q.Set("order", "created_at.asc")
	q.Set("limit", "1")

	rows, err := c.do(ctx, http.MethodGet, q, nil)
	if err != nil {
		return nil, fmt.Errorf("next waiting call: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoWaitingCall
	}
	return &rows[0], nil
}

// GetCall fetches the row for roomID.
func (c *Client) GetCall(ctx context.Context, roomID string) (*CallRow, error) {
	q := url.Values{}
	q.Set("room_id", "eq."+roomID)
	q.Set("limit", "1")

	rows, err := c.do(ctx, http.MethodGet, q, nil)
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", roomID, err)
	}
	if len(rows) == 0 {
		return nil, ErrCallNotFound
	}
	return &rows[0], nil
}

// AcceptCall marks roomID accepted by helperID. The update only matches a
// waiting row, so two volunteers cannot both win.
func (c *Client) AcceptCall(ctx context.Context, roomID, helperID string) (*CallRow, error) {
	q := url.Values{}
	q.Set("room_id", "eq."+roomID)
	q.Set("status", "eq."+StatusWaiting)

	rows, err := c.do(ctx, http.MethodPatch, q, map[string]string{
		"status":    StatusAccepted,
		"helper_id": helperID,
	})
	if err != nil {
		return nil, fmt.Errorf("accept call %s: %w", roomID, err)
	}
	if len(rows) == 0 {
		return nil, ErrCallTaken
	}
	logging.Infof("[api] call %s accepted by %s", roomID, helperID)
	return &rows[0], nil
}

// CancelCall removes the row for roomID.
func (c *Client) CancelCall(ctx context.Context, roomID string) error {
	q := url.Values{}
	q.Set("room_id", "eq."+roomID)
	if _, err := c.do(ctx, http.MethodDelete, q, nil); err != nil {
		return fmt.Errorf("cancel call %s: %w", roomID, err)
	}
	return nil
}

// WaitAccepted polls until roomID is accepted or ctx ends.
func (c *Client) WaitAccepted(ctx context.Context, roomID string, interval time.Duration) (*CallRow, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		row, err := c.GetCall(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if row.Status == StatusAccepted {
			return row, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method string, query url.Values, payload any) ([]CallRow, error) {
	u := c.baseURL + "/" + callsTable
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	var rows []CallRow
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return rows, nil
}
