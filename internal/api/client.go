package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/youruser/mindweave/internal/logging"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrAPIError      = errors.New("API returned error code")
	log              = logging.Get()
)

const defaultRequestTimeout = 30 * time.Second

// Client handles communication with the MindWeave backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new backend client. timeout governs the plain
// request/response endpoints; streaming requests are bounded by their
// context instead.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope is the non-streaming response wrapper; code 0 means success.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// StreamCompletion opens a streaming turn against the session's
// completions endpoint and returns the raw body for the caller to
// consume frame by frame. The caller owns closing the body; cancelling
// ctx aborts the transfer.
func (c *Client) StreamCompletion(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	req.Stream = true

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/sessions/%s/completions", c.baseURL, req.SessionID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("HTTP POST %s (type: %s, model: %s, context files: %d)",
		url, req.Type, req.Model, len(req.ContextFiles))

	// The streaming client carries no Timeout; a body read outliving the
	// request deadline would otherwise be cut off mid-stream.
	resp, err := streamingClient.Do(httpReq)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return nil, err
	}

	log.Debug("HTTP response status: %d", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

var streamingClient = &http.Client{}

// SendMessage is the non-streaming fallback: one request, one full
// assistant reply.
func (c *Client) SendMessage(ctx context.Context, req *CompletionRequest) (*MessageResponse, error) {
	req.Stream = false

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/sessions/%s/message", c.baseURL, req.SessionID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("HTTP POST %s (fallback, model: %s)", url, req.Model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("%w: %d - %s", ErrAPIError, env.Code, env.Msg)
	}

	var msgResp MessageResponse
	if err := json.Unmarshal(env.Data, &msgResp); err != nil {
		return nil, err
	}
	return &msgResp, nil
}

// DeleteMessage removes a message from the session. The id "0" clears
// every message.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	url := fmt.Sprintf("%s/api/sessions/%s/messages/%s", c.baseURL, sessionID, messageID)
	httpReq, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return err
	}

	log.Debug("HTTP DELETE %s", url)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("%w: %d - %s", ErrAPIError, env.Code, env.Msg)
	}
	return nil
}

// ClearMessages removes every message in the session.
func (c *Client) ClearMessages(ctx context.Context, sessionID string) error {
	return c.DeleteMessage(ctx, sessionID, "0")
}
