package similarity

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

// Request timeout is deliberately short so a degraded similarity service can
// never stall the scan pipeline; callers fall back to language-model-only
// classification on any failure.
const defaultRequestTimeout = 5 * time.Second

var errMissingBaseURL = errors.New("similarity: base url is required")

// ServiceError reports a failed similarity-service call: transport failure,
// non-success HTTP status, or an explicit success=false payload.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("similarity: %s failed: %v", e.Op, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("similarity: %s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("similarity: %s failed: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Document is an embeddable unit of content scoped to a collection.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResult is one nearest-neighbor match returned by the service.
type QueryResult struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// Config describes the similarity service endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is a capability boundary to the vector-similarity service. Every
// method returns a payload or a *ServiceError; nothing panics or blocks past
// the request timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and constructs a similarity client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
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
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// CollectionName returns the per-campaign collection identifier.
func CollectionName(campaignID string) string {
	return "campaign_" + campaignID
}

// SeedDocumentID returns the long-lived seed document identifier for a campaign.
func SeedDocumentID(campaignID string) string {
	return "seed_" + campaignID
}

type statusPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type embedRequest struct {
	CollectionName string   `json:"collection_name"`
	Document       Document `json:"document"`
}

// EmbedDocument embeds a document into a collection.
func (c *Client) EmbedDocument(ctx context.Context, collection string, doc Document) error {
	payload := embedRequest{CollectionName: collection, Document: doc}
	var status statusPayload
	if err := c.call(ctx, "embed", http.MethodPost, "/api/embed", payload, &status); err != nil {
		return err
	}
	if !status.Success {
		return &ServiceError{Op: "embed", Message: orUnknown(status.Message)}
	}
	return nil
}

type queryRequest struct {
	CollectionName string  `json:"collection_name"`
	Query          string  `json:"query"`
	TopK           int     `json:"top_k"`
	MinScore       float64 `json:"min_score"`
}

type queryResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Results []QueryResult `json:"results"`
}

// Query returns up to topK nearest neighbors for the query text within a
// collection. An empty result set is a success, not an error.
func (c *Client) Query(ctx context.Context, collection, query string, topK int, minScore float64) ([]QueryResult, error) {
	payload := queryRequest{CollectionName: collection, Query: query, TopK: topK, MinScore: minScore}
	var response queryResponse
	if err := c.call(ctx, "query", http.MethodPost, "/api/query", payload, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, &ServiceError{Op: "query", Message: orUnknown(response.Message)}
	}
	return response.Results, nil
}

type deleteDocumentRequest struct {
	CollectionName string `json:"collection_name"`
	DocumentID     string `json:"document_id"`
}

// DeleteDocument removes a single document from a collection.
func (c *Client) DeleteDocument(ctx context.Context, collection, documentID string) error {
	payload := deleteDocumentRequest{CollectionName: collection, DocumentID: documentID}
	var status statusPayload
	if err := c.call(ctx, "delete_document", http.MethodDelete, "/api/document", payload, &status); err != nil {
		return err
	}
	if !status.Success {
		return &ServiceError{Op: "delete_document", Message: orUnknown(status.Message)}
	}
	return nil
}

type deleteCollectionRequest struct {
	CollectionName string `json:"collection_name"`
}

// DeleteCollection removes an entire collection and all its documents.
func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	payload := deleteCollectionRequest{CollectionName: collection}
	var status statusPayload
	if err := c.call(ctx, "delete_collection", http.MethodDelete, "/api/collection", payload, &status); err != nil {
		return err
	}
	if !status.Success {
		return &ServiceError{Op: "delete_collection", Message: orUnknown(status.Message)}
	}
	return nil
}

type healthPayload struct {
	Status string `json:"status"`
}

// Health probes the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var payload healthPayload
	return c.call(ctx, "health", http.MethodGet, "/health", nil, &payload)
}

// SeedCampaign embeds the long-lived "ideal post" profile document for a
// campaign. Called once at campaign creation.
func (c *Client) SeedCampaign(ctx context.Context, campaignID, productDescription, searchPrompt string) error {
	content := fmt.Sprintf(`PRODUCT: %s

INTENT QUERY: Which are matching posts in which the person is actively or passively looking for this solution, or depicts a positive intent for the product?

IDEAL POST CHARACTERISTICS:
- Shows explicit need for the solution
- Asks for recommendations in relevant products
- Expresses frustration with current alternatives
- Demonstrates buying intent or evaluation phase

SEARCH CRITERIA: %s`, productDescription, searchPrompt)

	doc := Document{
		ID:      SeedDocumentID(campaignID),
		Content: content,
		Metadata: map[string]any{
			"type":        "seed_document",
			"campaign_id": campaignID,
		},
	}
	return c.EmbedDocument(ctx, CollectionName(campaignID), doc)
}

// CleanupCampaign removes a campaign's collection, seed document included.
// Called at campaign deletion.
func (c *Client) CleanupCampaign(ctx context.Context, campaignID string) error {
	return c.DeleteCollection(ctx, CollectionName(campaignID))
}

func (c *Client) call(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &ServiceError{Op: op, Err: err}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	return nil
}

func orUnknown(message string) string {
	if message == "" {
		return "unknown error"
	}
	return message
}
