// Package lessonapi talks to the lesson persistence service over HTTP.
// It is the authoritative source for lesson records; the realtime
// channel only carries deltas.
package lessonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// Client implements interfaces.LessonAPI against the REST endpoints of
// the lesson service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewClient builds a client for the service at baseURL. An empty token
// skips the Authorization header.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetLesson fetches the authoritative lesson record.
func (c *Client) GetLesson(ctx context.Context, lessonID string) (*types.LessonRecord, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/lessons/%s", lessonID), nil)
	if err != nil {
		return nil, err
	}

	var record types.LessonRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to decode lesson record: %w", err)
	}
	return &record, nil
}

// StartLesson asks the service to move the lesson into in_progress.
func (c *Client) StartLesson(ctx context.Context, lessonID string) error {
	return c.lifecycle(ctx, lessonID, "start")
}

// PauseLesson asks the service to pause a running lesson.
func (c *Client) PauseLesson(ctx context.Context, lessonID string) error {
	return c.lifecycle(ctx, lessonID, "pause")
}

// ResumeLesson asks the service to resume a paused lesson.
func (c *Client) ResumeLesson(ctx context.Context, lessonID string) error {
	return c.lifecycle(ctx, lessonID, "resume")
}

// EndLesson asks the service to complete the lesson.
func (c *Client) EndLesson(ctx context.Context, lessonID string) error {
	return c.lifecycle(ctx, lessonID, "end")
}

func (c *Client) lifecycle(ctx context.Context, lessonID, action string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/lessons/%s/%s", lessonID, action), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lesson service request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, interfaces.ErrLessonNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrLifecycleConflict, apiError(body))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("lesson service returned %d: %s", resp.StatusCode, apiError(body))
	}

	return body, nil
}

// apiError extracts the error field from a JSON error response, falling
// back to the raw body.
func apiError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}
