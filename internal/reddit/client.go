package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAuthURL        = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL         = "https://oauth.reddit.com"
	defaultRequestTimeout = 15 * time.Second
	tokenExpirySlack      = 30 * time.Second
)

var (
	errMissingClientID     = errors.New("reddit: client id is required")
	errMissingClientSecret = errors.New("reddit: client secret is required")
	errMissingRefreshToken = errors.New("reddit: refresh token is required")
	errMissingUserAgent    = errors.New("reddit: user agent is required")
)

// APIError reports a non-success response from the Reddit API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Submission is one entry of a subreddit's new listing.
type Submission struct {
	ID             string
	Fullname       string
	Title          string
	SelfText       string
	Author         string
	Subreddit      string
	Permalink      string
	CreatedSeconds int64
}

// URL returns the canonical reddit.com link for the submission.
func (s Submission) URL() string {
	return "https://reddit.com" + s.Permalink
}

// Config describes a script-app OAuth2 identity and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
	AuthURL      string
	APIURL       string
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Client is a read-only capability boundary to the Reddit data API. It owns
// token refresh; all operations return a payload or a typed failure.
type Client struct {
	httpClient   *http.Client
	authURL      string
	apiURL       string
	clientID     string
	clientSecret string
	refreshToken string
	userAgent    string
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient validates the configuration and constructs a Reddit client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, errMissingRefreshToken
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errMissingUserAgent
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
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
		httpClient:   &http.Client{Timeout: timeout},
		authURL:      authURL,
		apiURL:       strings.TrimSuffix(apiURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		userAgent:    cfg.UserAgent,
		logger:       logger,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit: token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reddit: token response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Op: "token", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("reddit: token response decode failed: %w", err)
	}
	if parsed.Error != "" || parsed.AccessToken == "" {
		return "", &APIError{Op: "token", StatusCode: resp.StatusCode, Body: parsed.Error}
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

type listingEnvelope struct {
	Data struct {
		Children []struct {
			Data submissionPayload `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type submissionPayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

func (p submissionPayload) toSubmission() Submission {
	return Submission{
		ID:             p.ID,
		Fullname:       p.Name,
		Title:          p.Title,
		SelfText:       p.SelfText,
		Author:         p.Author,
		Subreddit:      p.Subreddit,
		Permalink:      p.Permalink,
		CreatedSeconds: int64(p.CreatedUTC),
	}
}

// NewSubmissions fetches one page of a subreddit's newest submissions,
// newest first. A non-empty before cursor (the fullname of an already-seen
// submission) restricts the page to strictly newer entries.
func (c *Client) NewSubmissions(ctx context.Context, subreddit string, limit int, before string) ([]Submission, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("raw_json", "1")
	if before != "" {
		query.Set("before", before)
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json?%s", c.apiURL, url.PathEscape(subreddit), query.Encode())
	var envelope listingEnvelope
	if err := c.getJSON(ctx, "new_submissions", endpoint, &envelope); err != nil {
		return nil, err
	}

	submissions := make([]Submission, 0, len(envelope.Data.Children))
	for _, child := range envelope.Data.Children {
		submissions = append(submissions, child.Data.toSubmission())
	}
	return submissions, nil
}

// Submission fetches a single submission by its id.
func (c *Client) Submission(ctx context.Context, id string) (Submission, error) {
	endpoint := fmt.Sprintf("%s/by_id/t3_%s.json?raw_json=1", c.apiURL, url.PathEscape(id))
	var envelope listingEnvelope
	if err := c.getJSON(ctx, "submission", endpoint, &envelope); err != nil {
		return Submission{}, err
	}
	if len(envelope.Data.Children) == 0 {
		return Submission{}, &APIError{Op: "submission", StatusCode: http.StatusNotFound, Body: "submission not found"}
	}
	return envelope.Data.Children[0].Data.toSubmission(), nil
}

type mePayload struct {
	Name string `json:"name"`
}

// Me returns the authenticated account's username, verifying credentials.
func (c *Client) Me(ctx context.Context) (string, error) {
	endpoint := c.apiURL + "/api/v1/me"
	var payload mePayload
	if err := c.getJSON(ctx, "me", endpoint, &payload); err != nil {
		return "", err
	}
	return payload.Name, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reddit: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reddit: %s response read failed: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("reddit: %s response decode failed: %w", op, err)
	}
	return nil
}
