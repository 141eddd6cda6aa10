package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateReturnsCompletionText(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"  We can help with that.  "}]}`))
	})

	text, err := client.Generate(context.Background(), Request{
		History: []Turn{
			{SenderLabel: "Customer", Text: "My dryer stopped working"},
			{SenderLabel: "You", Text: "What model is it?"},
		},
		Instructions: "Reply as Dana from Ace Appliance.",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "We can help with that." {
		t.Fatalf("unexpected completion %q", text)
	}

	msgs := captured["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	prompt := content[0].(map[string]any)["text"].(string)
	if !strings.Contains(prompt, "Customer: My dryer stopped working") {
		t.Errorf("prompt missing history: %s", prompt)
	}
	if !strings.Contains(prompt, "Reply as Dana from Ace Appliance.") {
		t.Errorf("prompt missing instructions: %s", prompt)
	}
}

func TestGenerateAttachesPhotoBlock(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Looks like a broken belt."}]}`))
	})

	_, err := client.Generate(context.Background(), Request{
		History:        []Turn{{SenderLabel: "Customer", Text: "[Photo]"}},
		Photo:          []byte{0xFF, 0xD8},
		PhotoMediaType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	content := captured["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("expected text + image blocks, got %d", len(content))
	}
	img := content[1].(map[string]any)
	if img["type"] != "image" {
		t.Fatalf("expected image block, got %v", img["type"])
	}
	source := img["source"].(map[string]any)
	if source["media_type"] != "image/jpeg" || source["type"] != "base64" {
		t.Fatalf("unexpected image source: %v", source)
	}
}

func TestGenerateErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := client.Generate(context.Background(), Request{History: []Turn{{SenderLabel: "Customer", Text: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})

	_, err := client.Generate(context.Background(), Request{History: []Turn{{SenderLabel: "Customer", Text: "hi"}}})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestGenerateUnreachableEndpoint(t *testing.T) {
	client, err := New(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := client.Generate(context.Background(), Request{History: []Turn{{SenderLabel: "Customer", Text: "hi"}}}); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
