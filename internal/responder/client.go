// Package responder generates draft replies with the Anthropic Messages API.
package responder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/textdesk/textdesk/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultUserAgent = "textdesk-responder/0.1"
	apiVersion       = "2023-06-01"
	maxTokens        = 1000
)

// Turn is one entry of conversation history fed to the model.
type Turn struct {
	SenderLabel string
	Text        string
}

// Request describes one reply-generation call.
type Request struct {
	History        []Turn
	Instructions   string
	Photo          []byte
	PhotoMediaType string
}

// ErrEmptyCompletion indicates the API answered without usable text.
var ErrEmptyCompletion = errors.New("responder: empty completion")

// Config controls how the client behaves.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client calls the Anthropic Messages endpoint over plain HTTP.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("responder: API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces a reply from conversation history. Transport errors,
// non-200 statuses, and empty completions all surface as errors; callers
// treat every failure the same way (no reply this cycle).
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	blocks := []contentBlock{{Type: "text", Text: buildPrompt(req.History, req.Instructions)}}
	if len(req.Photo) > 0 {
		mediaType := req.PhotoMediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(req.Photo),
			},
		})
	}

	payload := apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: blocks}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("responder: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("responder: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("responder: call model endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("responder: read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("responder: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("responder: model endpoint status %d: %s", resp.StatusCode, msg)
	}

	for _, block := range parsed.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", ErrEmptyCompletion
}

func buildPrompt(history []Turn, instructions string) string {
	var b strings.Builder
	if strings.TrimSpace(instructions) != "" {
		b.WriteString(strings.TrimSpace(instructions))
		b.WriteString("\n\n")
	}
	b.WriteString("CONVERSATION HISTORY:\n")
	for _, turn := range history {
		b.WriteString(turn.SenderLabel)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nPlease generate a professional, helpful response to the customer's most recent message. Keep it concise and focused on their needs.")
	return b.String()
}
