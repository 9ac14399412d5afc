// Package backend is a client for the workout tracker backend, the source of
// truth for exercises and workout logs. It authenticates with a service token
// and is only used by the sync pipeline.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
)

var (
	// ErrAuthRejected means the service token is invalid or expired.
	ErrAuthRejected = errors.New("backend rejected service token")
	// ErrScopeRejected means the service account lacks the required scope.
	ErrScopeRejected = errors.New("backend rejected scope")
)

// Client talks to the backend internal API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient creates a backend client. Each request is retried according to policy
// when it fails with a network error or a 5xx response.
func NewClient(cfg config.BackendConfig, policy retry.Policy) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.ServiceToken,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
	}
}

// ExportExercises returns every exercise, for a full sync.
func (c *Client) ExportExercises(ctx context.Context) ([]model.Exercise, error) {
	var out []model.Exercise
	err := c.get(ctx, "/internal/exercises/export", nil, &out)
	return out, err
}

// ExercisesUpdatedSince returns exercises changed after since.
func (c *Client) ExercisesUpdatedSince(ctx context.Context, since time.Time) ([]model.Exercise, error) {
	q := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	var out []model.Exercise
	err := c.get(ctx, "/internal/exercises/updated-since", q, &out)
	return out, err
}

// WorkoutsUpdatedSince returns workout logs changed after since, optionally for one user.
func (c *Client) WorkoutsUpdatedSince(ctx context.Context, since time.Time, userID *int64) ([]model.WorkoutLog, error) {
	q := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	if userID != nil {
		q.Set("userId", strconv.FormatInt(*userID, 10))
	}
	var out []model.WorkoutLog
	err := c.get(ctx, "/internal/workouts/updated-since", q, &out)
	return out, err
}

// UserWorkouts returns one user's workouts between start and end (inclusive dates).
func (c *Client) UserWorkouts(ctx context.Context, userID int64, start, end time.Time, limit int) ([]model.WorkoutLog, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		q.Set("startDate", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("endDate", end.Format("2006-01-02"))
	}
	var out []model.WorkoutLog
	err := c.get(ctx, fmt.Sprintf("/internal/users/%d/workouts", userID), q, &out)
	return out, err
}

// Ping checks the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/actuator/health", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	_, err := retry.Do(ctx, c.policy, "backend "+path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, endpoint, path, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, endpoint, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to backend at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: regenerate the service token", ErrAuthRejected)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s needs rag:read or rag:sync", ErrScopeRejected, path)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("backend %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || retry.TransientStatus(resp.StatusCode) {
			return retry.Mark(err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend %s response: %w", path, err)
	}
	log.Debugf("[BackendClient] GET %s ok", path)
	return nil
}
