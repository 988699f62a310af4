// Package ollama talks to a local Ollama server. It is the offline
// alternative to the hosted chat-completions backend for enrichment.
package ollama

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

	"github.com/kalambet/liftoff/internal/proxy"
)

// DefaultBaseURL is where `ollama serve` listens by default.
const DefaultBaseURL = "http://localhost:11434"

const (
	pingTimeout  = 2 * time.Second
	listTimeout  = 10 * time.Second

	maxErrorBody = 64 << 10
)

// Client is an Ollama HTTP client. Generation and pulls have no client
// timeout; callers bound them with ctx.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// call sends in as a JSON body (nil for none) and returns the response for
// a 200. Any other status becomes a *proxy.StatusError carrying Ollama's
// error message, so the orchestrator classifies it like a hosted failure.
func (c *Client) call(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&e)
		return nil, &proxy.StatusError{Status: resp.StatusCode, Body: e.Error}
	}
	return resp, nil
}

// installed returns the names of local models, e.g. "llama3.2:latest".
func (c *Client) installed(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// IsRunning reports whether the server answers its model list quickly.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := c.installed(ctx)
	return err == nil
}

// HasModel reports whether model is installed. A bare name matches any tag
// of it, so "llama3.2" matches "llama3.2:latest".
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	names, err := c.installed(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == model || strings.HasPrefix(n, model+":") {
			return true, nil
		}
	}
	return false, nil
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent is the completed share of the current layer, or -1 when the
// line carries no size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// PullModel downloads model, passing every progress line to onProgress
// (which may be nil). An error line in the stream fails the pull.
func (c *Client) PullModel(ctx context.Context, model string, onProgress func(PullProgress)) error {
	resp, err := c.call(ctx, http.MethodPost, "/api/pull", map[string]any{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", model, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("pulling %s: %s", model, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []proxy.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type chatResponse struct {
	Message proxy.Message `json:"message"`
}

// Complete returns the assistant reply to messages. Output is constrained
// to JSON, which is what the enrichment prompt asks for.
func (c *Client) Complete(ctx context.Context, model string, messages []proxy.Message) (string, error) {
	resp, err := c.call(ctx, http.MethodPost, "/api/chat", chatRequest{
		Model:    model,
		Messages: messages,
		Format:   "json",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", proxy.ErrNoChoices
	}
	return out.Message.Content, nil
}
