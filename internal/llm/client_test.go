package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseScoreClampsAndRejects(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected int
	}{
		{name: "plain score", reply: "42", expected: 42},
		{name: "above range clamps to 100", reply: "150", expected: 100},
		{name: "negative clamps to 0", reply: "-10", expected: 0},
		{name: "non numeric scores 0", reply: "abc", expected: 0},
		{name: "empty scores 0", reply: "", expected: 0},
		{name: "leading digits with trailing text", reply: "85 because the post asks for tools", expected: 85},
		{name: "whitespace trimmed", reply: "  73\n", expected: 73},
		{name: "zero", reply: "0", expected: 0},
		{name: "hundred", reply: "100", expected: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseScore(tc.reply); got != tc.expected {
				t.Fatalf("ParseScore(%q) = %d, expected %d", tc.reply, got, tc.expected)
			}
		})
	}
}

func newCompletionServer(t *testing.T, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("request decode failed: %v", err)
			}
		}
		response := chatResponse{}
		response.Choices = append(response.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: reply}})
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("response encode failed: %v", err)
		}
	}))
}

func mustClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func TestScoreRelevanceParsesReply(t *testing.T) {
	var captured chatRequest
	server := newCompletionServer(t, "87", &captured)
	defer server.Close()

	client := mustClient(t, server.URL)
	score, err := client.ScoreRelevance(context.Background(), ScoreInput{
		Title:              "Looking for a monitoring tool",
		Content:            "Any recommendations?",
		Subreddit:          "sysadmin",
		SearchPrompt:       "people asking for monitoring tools",
		ProductDescription: "a monitoring product",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 87 {
		t.Fatalf("expected score 87, got %d", score)
	}
	if captured.MaxTokens != scoreMaxTokens {
		t.Fatalf("expected max_tokens %d, got %d", scoreMaxTokens, captured.MaxTokens)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages payload: %#v", captured.Messages)
	}
}

func TestScoreRelevanceUnparseableReplyScoresZero(t *testing.T) {
	server := newCompletionServer(t, "I cannot rate this post", nil)
	defer server.Close()

	client := mustClient(t, server.URL)
	score, err := client.ScoreRelevance(context.Background(), ScoreInput{Title: "t"})
	if err != nil {
		t.Fatalf("unparseable reply must not error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected score 0, got %d", score)
	}
}

func TestScoreRelevanceReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := mustClient(t, server.URL)
	_, err := client.ScoreRelevance(context.Background(), ScoreInput{Title: "t"})
	if err == nil {
		t.Fatalf("expected error for non-200 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status code: %d", apiErr.StatusCode)
	}
}

func TestGenerateOutreachUsesGenerateModel(t *testing.T) {
	var captured chatRequest
	server := newCompletionServer(t, "  Hi there! Check out our tool.  ", &captured)
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, GenerateModel: "test-model"})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	content, err := client.GenerateOutreach(context.Background(), OutreachRequest{
		Type:        "dm",
		Template:    "say hi",
		Title:       "post title",
		Author:      "someuser",
		ProductName: "Tool",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "Hi there! Check out our tool." {
		t.Fatalf("expected trimmed content, got %q", content)
	}
	if captured.Model != "test-model" {
		t.Fatalf("expected generate model, got %q", captured.Model)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestFallbackOutreachByType(t *testing.T) {
	if FallbackOutreach("dm") == FallbackOutreach("comment") {
		t.Fatalf("expected distinct fallback text per type")
	}
}
