// Package rest provides a typed HTTP client for the deskchat backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/avdwerff/deskchat/internal/models"
)

// Client is a typed client for the chat REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new REST client. If baseURL is empty, DESKCHAT_SERVER_URL
// is consulted, then the localhost default. Timeout can be configured via
// DESKCHAT_CLIENT_TIMEOUT (default 30s; completion calls can be slow).
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DESKCHAT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("DESKCHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatTurn is one turn of assistant history as the AI endpoint expects it.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// aiChatRequest is the request payload for POST /ai/chat.
type aiChatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history"`
}

// aiChatResponse is the response payload from POST /ai/chat.
type aiChatResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply"`
	Error   string `json:"error,omitempty"`
}

// do executes one request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// FetchOwnThread returns the caller's own message log.
func (c *Client) FetchOwnThread(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "/chat/thread", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchThread returns a user's message log (operator view).
func (c *Client) FetchThread(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	path := "/chat/thread/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchThreads returns the operator thread list.
func (c *Client) FetchThreads(ctx context.Context) ([]models.Thread, error) {
	var threads []models.Thread
	if err := c.do(ctx, http.MethodGet, "/chat/threads", nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// AskAssistant sends a message plus history to the completion endpoint and
// returns the reply text.
func (c *Client) AskAssistant(ctx context.Context, message string, history []ChatTurn) (string, error) {
	if history == nil {
		history = []ChatTurn{}
	}

	var resp aiChatResponse
	err := c.do(ctx, http.MethodPost, "/ai/chat", aiChatRequest{
		Message: message,
		History: history,
	}, &resp)
	if err != nil {
		return "", err
	}

	if !resp.Success {
		if resp.Error != "" {
			return "", fmt.Errorf("assistant error: %s", resp.Error)
		}
		return "", fmt.Errorf("assistant error: no reply")
	}
	return resp.Reply, nil
}
