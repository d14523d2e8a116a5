package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/leadscout/leadscout/internal/llm"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/scanner"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type stubSweeper struct {
	report    scanner.CampaignReport
	err       error
	sweptID   string
	lastState scanner.Outcome
}

func (s *stubSweeper) RunCampaignSweep(_ context.Context, campaign campaigns.Campaign) (scanner.CampaignReport, error) {
	s.sweptID = campaign.CampaignID
	return s.report, s.err
}

func (s *stubSweeper) Status() scanner.Outcome {
	return s.lastState
}

type stubGenerator struct {
	content string
	err     error
	lastReq llm.OutreachRequest
}

func (g *stubGenerator) GenerateOutreach(_ context.Context, req llm.OutreachRequest) (string, error) {
	g.lastReq = req
	return g.content, g.err
}

type stubSimilarity struct {
	seeded   []string
	cleaned  []string
	seedErr  error
	cleanErr error
}

func (s *stubSimilarity) SeedCampaign(_ context.Context, campaignID, _, _ string) error {
	s.seeded = append(s.seeded, campaignID)
	return s.seedErr
}

func (s *stubSimilarity) CleanupCampaign(_ context.Context, campaignID string) error {
	s.cleaned = append(s.cleaned, campaignID)
	return s.cleanErr
}

type stubAccount struct {
	username string
	err      error
}

func (s *stubAccount) Me(context.Context) (string, error) {
	return s.username, s.err
}

type harness struct {
	handler         http.Handler
	campaignService *campaigns.Service
	postService     *posts.Service
	sweeper         *stubSweeper
	generator       *stubGenerator
	similarity      *stubSimilarity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&campaigns.Campaign{}, &posts.Post{}, &posts.Response{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000000, 0) }
	campaignService, err := campaigns.NewService(campaigns.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{prefix: "campaign"},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build campaign service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{prefix: "post"},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build post service: %v", err)
	}

	sweeper := &stubSweeper{}
	generator := &stubGenerator{content: "drafted outreach"}
	similarity := &stubSimilarity{}

	handler, err := NewHTTPHandler(Dependencies{
		CampaignService: campaignService,
		PostService:     postService,
		Sweeper:         sweeper,
		Generator:       generator,
		Similarity:      similarity,
		Account:         &stubAccount{username: "scout-bot"},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &harness{
		handler:         handler,
		campaignService: campaignService,
		postService:     postService,
		sweeper:         sweeper,
		generator:       generator,
		similarity:      similarity,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func (h *harness) mustCreateCampaign(t *testing.T) campaignPayload {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/api/campaigns", gin.H{
		"product_name": "LeadScout",
		"description":  "CRM for agencies",
		"subreddits":   []string{"golang", "startups"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("campaign creation failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return decodeJSON[campaignPayload](t, recorder)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	recorder := h.do(t, http.MethodGet, "/api/health", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestCreateCampaignSeedsSimilarityCollection(t *testing.T) {
	h := newHarness(t)
	payload := h.mustCreateCampaign(t)

	if payload.CampaignID == "" {
		t.Fatalf("campaign id missing in response")
	}
	if payload.SearchPrompt != campaigns.DefaultSearchPrompt {
		t.Fatalf("default prompt expected, got %q", payload.SearchPrompt)
	}
	if len(h.similarity.seeded) != 1 || h.similarity.seeded[0] != payload.CampaignID {
		t.Fatalf("similarity collection not seeded: %v", h.similarity.seeded)
	}
}

func TestCreateCampaignSeedFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.similarity.seedErr = errors.New("service down")

	recorder := h.do(t, http.MethodPost, "/api/campaigns", gin.H{
		"product_name": "LeadScout",
		"subreddits":   []string{"golang"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("seed failure must not fail creation: %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(t, http.MethodPost, "/api/campaigns", gin.H{"product_name": ""})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing product name, got %d", recorder.Code)
	}

	recorder = h.do(t, http.MethodPost, "/api/campaigns", gin.H{
		"product_name": "LeadScout",
		"subreddits":   []string{" "},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty subreddits, got %d", recorder.Code)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	h := newHarness(t)
	recorder := h.do(t, http.MethodGet, "/api/campaigns/missing", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestUpdateCampaign(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)

	recorder := h.do(t, http.MethodPut, "/api/campaigns/"+created.CampaignID, gin.H{
		"product_name": "LeadScout Pro",
		"subreddits":   []string{"smallbusiness"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", recorder.Code, recorder.Body.String())
	}
	updated := decodeJSON[campaignPayload](t, recorder)
	if updated.ProductName != "LeadScout Pro" {
		t.Fatalf("unexpected product name: %q", updated.ProductName)
	}
	if len(updated.Subreddits) != 1 || updated.Subreddits[0] != "smallbusiness" {
		t.Fatalf("unexpected subreddits: %v", updated.Subreddits)
	}
}

func TestDeleteCampaignCascades(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)

	if _, err := h.postService.Ingest(context.Background(), posts.IngestRecord{
		CampaignID:           created.CampaignID,
		RedditID:             "abc",
		Title:                "title",
		Subreddit:            "golang",
		RelevanceScore:       50,
		ClassificationMethod: posts.MethodLLM,
	}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	recorder := h.do(t, http.MethodDelete, "/api/campaigns/"+created.CampaignID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if len(h.similarity.cleaned) != 1 || h.similarity.cleaned[0] != created.CampaignID {
		t.Fatalf("similarity collection not cleaned: %v", h.similarity.cleaned)
	}

	stored, err := h.postService.ListByCampaign(context.Background(), created.CampaignID, posts.ListFilter{})
	if err != nil {
		t.Fatalf("failed to list posts: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("posts must cascade on campaign delete, %d remain", len(stored))
	}

	recorder = h.do(t, http.MethodDelete, "/api/campaigns/"+created.CampaignID, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", recorder.Code)
	}
}

func TestScanCampaignConflictWhileSweeping(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)
	h.sweeper.err = scanner.ErrSweepInProgress

	recorder := h.do(t, http.MethodPost, "/api/campaigns/"+created.CampaignID+"/scan", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a sweep runs, got %d", recorder.Code)
	}
}

func TestScanCampaignRunsSweep(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)
	h.sweeper.report = scanner.CampaignReport{CampaignID: created.CampaignID, PostsProcessed: 2}

	recorder := h.do(t, http.MethodPost, "/api/campaigns/"+created.CampaignID+"/scan", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("scan failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if h.sweeper.sweptID != created.CampaignID {
		t.Fatalf("sweeper received wrong campaign: %q", h.sweeper.sweptID)
	}
}

func TestListPostsAppliesFiltersAndAttachesResponses(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)

	for i, score := range []int{90, 20} {
		if _, err := h.postService.Ingest(context.Background(), posts.IngestRecord{
			CampaignID:           created.CampaignID,
			RedditID:             fmt.Sprintf("p%d", i),
			Title:                fmt.Sprintf("title %d", i),
			Subreddit:            "golang",
			RelevanceScore:       score,
			ClassificationMethod: posts.MethodLLM,
		}); err != nil {
			t.Fatalf("failed to seed post: %v", err)
		}
	}
	if _, err := h.postService.UpsertResponse(context.Background(), "post-1", posts.ResponseTypeDM, "draft dm"); err != nil {
		t.Fatalf("failed to seed response: %v", err)
	}

	recorder := h.do(t, http.MethodGet, "/api/reddit/posts/"+created.CampaignID+"?minRelevance=50", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("listing failed: %d %s", recorder.Code, recorder.Body.String())
	}
	listed := decodeJSON[[]postPayload](t, recorder)
	if len(listed) != 1 {
		t.Fatalf("expected 1 post above the threshold, got %d", len(listed))
	}
	if listed[0].DMContent != "draft dm" {
		t.Fatalf("dm response not attached: %+v", listed[0])
	}
}

func TestGenerateResponsePersistsContent(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)
	if _, err := h.postService.Ingest(context.Background(), posts.IngestRecord{
		CampaignID:           created.CampaignID,
		RedditID:             "abc",
		Title:                "need a crm",
		Subreddit:            "golang",
		RelevanceScore:       85,
		ClassificationMethod: posts.MethodLLM,
	}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	recorder := h.do(t, http.MethodPost, "/api/reddit/posts/post-1/response", gin.H{"type": "dm"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("generation failed: %d %s", recorder.Code, recorder.Body.String())
	}
	response := decodeJSON[map[string]string](t, recorder)
	if response["content"] != "drafted outreach" {
		t.Fatalf("unexpected content: %q", response["content"])
	}
	if h.generator.lastReq.ProductName != "LeadScout" {
		t.Fatalf("campaign context not passed to generator: %+v", h.generator.lastReq)
	}

	stored, err := h.postService.ResponsesForPost(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("failed to list responses: %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "drafted outreach" {
		t.Fatalf("response not persisted: %v", stored)
	}
}

func TestGenerateResponseFallsBackOnFailure(t *testing.T) {
	h := newHarness(t)
	created := h.mustCreateCampaign(t)
	if _, err := h.postService.Ingest(context.Background(), posts.IngestRecord{
		CampaignID:           created.CampaignID,
		RedditID:             "abc",
		Title:                "need a crm",
		Subreddit:            "golang",
		ClassificationMethod: posts.MethodLLM,
	}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
	h.generator.err = errors.New("rate limited")

	recorder := h.do(t, http.MethodPost, "/api/reddit/posts/post-1/response", gin.H{"type": "comment"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("fallback path must not 5xx: %d %s", recorder.Code, recorder.Body.String())
	}
	response := decodeJSON[map[string]string](t, recorder)
	if response["content"] != llm.FallbackOutreach(posts.ResponseTypeComment) {
		t.Fatalf("expected fallback content, got %q", response["content"])
	}
}

func TestGenerateResponseRejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	recorder := h.do(t, http.MethodPost, "/api/reddit/posts/post-1/response", gin.H{"type": "tweet"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", recorder.Code)
	}
}

func TestRedditTestEndpoint(t *testing.T) {
	h := newHarness(t)
	recorder := h.do(t, http.MethodGet, "/api/reddit/test", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	payload := decodeJSON[map[string]any](t, recorder)
	if payload["username"] != "scout-bot" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestScannerStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	h.sweeper.lastState = scanner.Outcome{InProgress: true}

	recorder := h.do(t, http.MethodGet, "/api/scanner/status", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	outcome := decodeJSON[scanner.Outcome](t, recorder)
	if !outcome.InProgress {
		t.Fatalf("expected in-progress outcome, got %+v", outcome)
	}
}
