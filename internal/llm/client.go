package llm

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

	"go.uber.org/zap"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultScoreModel     = "gpt-4o"
	defaultGenerateModel  = "gpt-3.5-turbo"
	defaultRequestTimeout = 30 * time.Second

	scoreMaxTokens    = 10
	scoreTemperature  = 0.3
	outreachMaxTokens = 200
	outreachTemp      = 0.7
)

var errMissingAPIKey = errors.New("llm: api key is required")

// APIError reports a non-success response from the language-model provider.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config describes the chat-completions endpoint and models.
type Config struct {
	APIKey        string
	BaseURL       string
	ScoreModel    string
	GenerateModel string
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Client speaks the chat-completions protocol for relevance scoring and
// outreach generation.
type Client struct {
	apiKey        string
	baseURL       string
	scoreModel    string
	generateModel string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient validates the configuration and constructs an LLM client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	scoreModel := cfg.ScoreModel
	if scoreModel == "" {
		scoreModel = defaultScoreModel
	}
	generateModel := cfg.GenerateModel
	if generateModel == "" {
		generateModel = defaultGenerateModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		scoreModel:    scoreModel,
		generateModel: generateModel,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}, nil
}

// ScoreInput carries the post and campaign context for relevance scoring.
type ScoreInput struct {
	Title              string
	Content            string
	Subreddit          string
	SearchPrompt       string
	ProductDescription string
}

// ScoreRelevance asks the model to rate a post 0-100 against the campaign's
// search criteria. The reply is parsed leniently and clamped to [0,100]; an
// unparseable reply scores zero rather than erroring so one bad completion
// never stalls a sweep.
func (c *Client) ScoreRelevance(ctx context.Context, input ScoreInput) (int, error) {
	content := input.Content
	if content == "" {
		content = "No content"
	}

	prompt := fmt.Sprintf(`You are analyzing Reddit posts to find potential leads for a product.

SEARCH CRITERIA: %s

PRODUCT: %s

POST TO ANALYZE:
Title: %s
Content: %s
Subreddit: %s

Rate this post's relevance from 0-100 based on:
1. How well it matches the search criteria
2. Whether the user seems to need this product
3. If it's appropriate to reach out to this user

Respond with ONLY a number from 0-100.`,
		input.SearchPrompt, input.ProductDescription, input.Title, content, input.Subreddit)

	reply, err := c.complete(ctx, "score", c.scoreModel, prompt, scoreMaxTokens, scoreTemperature)
	if err != nil {
		return 0, err
	}
	return ParseScore(reply), nil
}

// ParseScore extracts a leading integer from a model reply and clamps it to
// [0,100]. Non-numeric replies score zero.
func ParseScore(reply string) int {
	trimmed := strings.TrimSpace(reply)
	i := 0
	if i < len(trimmed) && (trimmed[i] == '-' || trimmed[i] == '+') {
		i++
	}
	start := i
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == start {
		return 0
	}

	value := 0
	for _, digit := range trimmed[start:i] {
		value = value*10 + int(digit-'0')
		if value > 100 {
			value = 101
			break
		}
	}
	if trimmed[0] == '-' {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// OutreachRequest carries everything needed to draft a DM or comment.
type OutreachRequest struct {
	Type               string // "dm" or "comment"
	Template           string // campaign DM template, used for the dm type
	Title              string
	Content            string
	Author             string
	Subreddit          string
	ProductName        string
	ProductDescription string
	Website            string
}

// FallbackOutreach returns the safe canned text used when generation fails.
func FallbackOutreach(responseType string) string {
	if responseType == "dm" {
		return "Hi! I saw your post and thought you might be interested in our solution."
	}
	return "Great question! You might want to check out some of the tools available for this."
}

// GenerateOutreach drafts outreach text for a classified post.
func (c *Client) GenerateOutreach(ctx context.Context, req OutreachRequest) (string, error) {
	content := req.Content
	if content == "" {
		content = "No content"
	}

	var prompt string
	if req.Type == "dm" {
		prompt = fmt.Sprintf(`Generate a personalized direct message based on this template:
%s

POST DETAILS:
Title: %s
Content: %s
Author: %s
Subreddit: %s

PRODUCT INFO:
Name: %s
Description: %s
Website: %s

Replace placeholders:
- [recipient_first_name] with the Reddit username
- [post_reference] with a brief, natural reference to their post
- [product_name] with the product name
- [product_description] with a brief product pitch
- [website] with the website URL

Keep it conversational, helpful, and not overly salesy.`,
			req.Template, req.Title, content, req.Author, req.Subreddit,
			req.ProductName, req.ProductDescription, req.Website)
	} else {
		prompt = fmt.Sprintf(`Generate a helpful comment for this Reddit post that subtly mentions the product as a solution.

POST:
Title: %s
Content: %s
Subreddit: %s

PRODUCT: %s - %s
Website: %s

Make it:
- Genuinely helpful and relevant
- Natural, not promotional
- Adds value to the discussion
- Mentions the product as one option among others`,
			req.Title, content, req.Subreddit,
			req.ProductName, req.ProductDescription, req.Website)
	}

	reply, err := c.complete(ctx, "generate", c.generateModel, prompt, outreachMaxTokens, outreachTemp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, op, model, prompt string, maxTokens int, temperature float64) (string, error) {
	payload := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llm: %s response read failed: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: %s response decode failed: %w", op, err)
	}
	if len(parsed.Choices) == 0 {
		return "", &APIError{Op: op, StatusCode: resp.StatusCode, Body: "no choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}
