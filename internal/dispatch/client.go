// Package dispatch talks to the external detection worker.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is the start_detection payload. CallbackURL is where the worker
// reports the outcome.
type Request struct {
	Type        string `json:"type"`
	ImageID     string `json:"image_id"`
	JobID       string `json:"job_id"`
	CallbackURL string `json:"callback_url"`
}

// StatusError is returned when the worker answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("worker returned status %d: %s", e.StatusCode, e.Body)
}

// Client sends exactly one start request per Dispatch call. It does not retry.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Dispatch returns nil once the worker acknowledged the job with a 2xx.
func (c *Client) Dispatch(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start_detection", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post start_detection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	// тело ответа нам не нужно, но дочитываем, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// CallbackURL builds the webhook address the worker calls back on.
func CallbackURL(publicBaseURL string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/detect/webhook"
}
