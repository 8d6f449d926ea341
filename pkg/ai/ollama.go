package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultBaseURL = "http://127.0.0.1:11434"

// ErrWireProtocol reports that the remote API rejected the payload shape.
// It should never fire as long as the payload builder's content contract
// holds, so callers treat it as a programming-defect signal and log loudly.
var ErrWireProtocol = errors.New("chat api rejected payload")

// ChatMessage is the wire shape of the Ollama-compatible /api/chat endpoint.
// Content is always a plain string; images ride in a side-channel list of
// base64 strings on the same message. The payload builder keeps Images
// non-nil on every message so it serializes as an explicit empty list
// rather than being omitted.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

// Client calls an Ollama-compatible chat completion HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client for the given host. Hosts without a scheme
// default to https (cloud endpoints are HTTPS; local hosts can pass http://).
func NewClient(host, apiKey string, timeout time.Duration) *Client {
	host = strings.TrimSpace(host)
	if host == "" {
		host = defaultBaseURL
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Chat sends an ordered message list and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, model string, messages []ChatMessage) (ChatMessage, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return ChatMessage{}, fmt.Errorf("chat model required")
	}
	if len(messages) == 0 {
		return ChatMessage{}, fmt.Errorf("chat messages required")
	}

	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", reqBody, &resp); err != nil {
		return ChatMessage{}, fmt.Errorf("chat: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return ChatMessage{}, fmt.Errorf("empty assistant reply")
	}
	if resp.Message.Role == "" {
		resp.Message.Role = "assistant"
	}
	return resp.Message, nil
}

// ListModels returns the available model names, sorted and deduplicated.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var resp tagsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	seen := make(map[string]bool, len(resp.Models))
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		// 400/422 on a well-formed request means the payload shape was
		// rejected, which the builder is supposed to make impossible.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrWireProtocol, msg)
		}
		return fmt.Errorf("chat api error (%d): %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message ChatMessage `json:"message"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type errorResponse struct {
	Error string `json:"error"`
}
