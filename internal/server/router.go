package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/leadscout/leadscout/internal/llm"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/scanner"
	"go.uber.org/zap"
)

var (
	errMissingCampaignService = errors.New("campaign service dependency required")
	errMissingPostService     = errors.New("post service dependency required")
	errMissingSweeper         = errors.New("sweep runner dependency required")
)

// SweepRunner triggers sweeps and exposes the last sweep outcome.
type SweepRunner interface {
	RunCampaignSweep(ctx context.Context, campaign campaigns.Campaign) (scanner.CampaignReport, error)
	Status() scanner.Outcome
}

// OutreachGenerator drafts DM or comment text for a classified post.
type OutreachGenerator interface {
	GenerateOutreach(ctx context.Context, req llm.OutreachRequest) (string, error)
}

// SimilarityManager maintains per-campaign collections in the similarity
// service. Optional: absent when the service is not configured.
type SimilarityManager interface {
	SeedCampaign(ctx context.Context, campaignID, productDescription, searchPrompt string) error
	CleanupCampaign(ctx context.Context, campaignID string) error
}

// AccountVerifier checks source-platform credentials. Optional.
type AccountVerifier interface {
	Me(ctx context.Context) (string, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	CampaignService *campaigns.Service
	PostService     *posts.Service
	Sweeper         SweepRunner
	Generator       OutreachGenerator
	Similarity      SimilarityManager
	Account         AccountVerifier
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the operator API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CampaignService == nil {
		return nil, errMissingCampaignService
	}
	if deps.PostService == nil {
		return nil, errMissingPostService
	}
	if deps.Sweeper == nil {
		return nil, errMissingSweeper
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		campaignService: deps.CampaignService,
		postService:     deps.PostService,
		sweeper:         deps.Sweeper,
		generator:       deps.Generator,
		similarity:      deps.Similarity,
		account:         deps.Account,
		logger:          logger,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/scanner/status", handler.handleScannerStatus)

	api.POST("/campaigns", handler.handleCreateCampaign)
	api.GET("/campaigns", handler.handleListCampaigns)
	api.GET("/campaigns/:id", handler.handleGetCampaign)
	api.PUT("/campaigns/:id", handler.handleUpdateCampaign)
	api.DELETE("/campaigns/:id", handler.handleDeleteCampaign)
	api.POST("/campaigns/:id/scan", handler.handleScanCampaign)

	api.GET("/reddit/posts/:campaignId", handler.handleListPosts)
	api.GET("/reddit/subreddits/:campaignId", handler.handleSubredditCounts)
	api.POST("/reddit/posts/:postId/response", handler.handleGenerateResponse)
	api.GET("/reddit/test", handler.handleRedditTest)

	return router, nil
}

type httpHandler struct {
	campaignService *campaigns.Service
	postService     *posts.Service
	sweeper         SweepRunner
	generator       OutreachGenerator
	similarity      SimilarityManager
	account         AccountVerifier
	logger          *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Leadscout API is running"})
}

func (h *httpHandler) handleScannerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeper.Status())
}

type campaignPayload struct {
	CampaignID          string   `json:"campaign_id"`
	ProductName         string   `json:"product_name"`
	Description         string   `json:"description"`
	Subreddits          []string `json:"subreddits"`
	SearchPrompt        string   `json:"search_prompt"`
	DMPrompt            string   `json:"dm_prompt"`
	Website             string   `json:"website"`
	LastScannedFullname string   `json:"last_scanned_fullname,omitempty"`
	CreatedAtSeconds    int64    `json:"created_at_s"`
	UpdatedAtSeconds    int64    `json:"updated_at_s"`
}

func toCampaignPayload(campaign campaigns.Campaign) campaignPayload {
	return campaignPayload{
		CampaignID:          campaign.CampaignID,
		ProductName:         campaign.ProductName,
		Description:         campaign.Description,
		Subreddits:          campaign.Subreddits(),
		SearchPrompt:        campaign.SearchPrompt,
		DMPrompt:            campaign.DMPrompt,
		Website:             campaign.Website,
		LastScannedFullname: campaign.LastScannedFullname,
		CreatedAtSeconds:    campaign.CreatedAtSeconds,
		UpdatedAtSeconds:    campaign.UpdatedAtSeconds,
	}
}

type campaignRequestPayload struct {
	ProductName  string   `json:"product_name"`
	Description  string   `json:"description"`
	Subreddits   []string `json:"subreddits"`
	SearchPrompt string   `json:"search_prompt"`
	DMPrompt     string   `json:"dm_prompt"`
	Website      string   `json:"website"`
}

func (h *httpHandler) handleCreateCampaign(c *gin.Context) {
	var request campaignRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ProductName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	campaign, err := h.campaignService.Create(c.Request.Context(), campaigns.CreateInput{
		ProductName:  request.ProductName,
		Description:  request.Description,
		Subreddits:   request.Subreddits,
		SearchPrompt: request.SearchPrompt,
		DMPrompt:     request.DMPrompt,
		Website:      request.Website,
	})
	if err != nil {
		if errors.Is(err, campaigns.ErrInvalidSubreddits) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddits"})
			return
		}
		h.logger.Error("campaign creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_create_failed"})
		return
	}

	// Seeding the similarity collection is best-effort; classification
	// degrades to language-model-only when it is missing.
	if h.similarity != nil {
		if err := h.similarity.SeedCampaign(c.Request.Context(), campaign.CampaignID, campaign.Description, campaign.SearchPrompt); err != nil {
			h.logger.Warn("campaign seed embedding failed",
				zap.String("campaign_id", campaign.CampaignID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, toCampaignPayload(campaign))
}

func (h *httpHandler) handleListCampaigns(c *gin.Context) {
	stored, err := h.campaignService.List(c.Request.Context())
	if err != nil {
		h.logger.Error("campaign listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_list_failed"})
		return
	}

	payloads := make([]campaignPayload, 0, len(stored))
	for _, campaign := range stored {
		payloads = append(payloads, toCampaignPayload(campaign))
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleGetCampaign(c *gin.Context) {
	campaign, err := h.campaignService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, campaigns.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
			return
		}
		h.logger.Error("campaign fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_get_failed"})
		return
	}
	c.JSON(http.StatusOK, toCampaignPayload(campaign))
}

func (h *httpHandler) handleUpdateCampaign(c *gin.Context) {
	var request campaignRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ProductName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	campaign, err := h.campaignService.Update(c.Request.Context(), c.Param("id"), campaigns.UpdateInput{
		ProductName:  request.ProductName,
		Description:  request.Description,
		Subreddits:   request.Subreddits,
		SearchPrompt: request.SearchPrompt,
		DMPrompt:     request.DMPrompt,
		Website:      request.Website,
	})
	if err != nil {
		if errors.Is(err, campaigns.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
			return
		}
		if errors.Is(err, campaigns.ErrInvalidSubreddits) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subreddits"})
			return
		}
		h.logger.Error("campaign update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_update_failed"})
		return
	}
	c.JSON(http.StatusOK, toCampaignPayload(campaign))
}

func (h *httpHandler) handleDeleteCampaign(c *gin.Context) {
	campaignID := c.Param("id")

	if err := h.postService.DeleteByCampaign(c.Request.Context(), campaignID); err != nil {
		h.logger.Error("campaign post cascade failed", zap.String("campaign_id", campaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_delete_failed"})
		return
	}

	if err := h.campaignService.Delete(c.Request.Context(), campaignID); err != nil {
		if errors.Is(err, campaigns.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
			return
		}
		h.logger.Error("campaign deletion failed", zap.String("campaign_id", campaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_delete_failed"})
		return
	}

	if h.similarity != nil {
		if err := h.similarity.CleanupCampaign(c.Request.Context(), campaignID); err != nil {
			h.logger.Warn("similarity collection cleanup failed",
				zap.String("campaign_id", campaignID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleScanCampaign(c *gin.Context) {
	campaign, err := h.campaignService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, campaigns.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign_not_found"})
			return
		}
		h.logger.Error("campaign fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_get_failed"})
		return
	}

	report, err := h.sweeper.RunCampaignSweep(c.Request.Context(), campaign)
	if err != nil {
		if errors.Is(err, scanner.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "sweep_in_progress"})
			return
		}
		h.logger.Error("manual sweep failed", zap.String("campaign_id", campaign.CampaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep_failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

type postPayload struct {
	PostID               string   `json:"post_id"`
	CampaignID           string   `json:"campaign_id"`
	RedditID             string   `json:"reddit_id"`
	Title                string   `json:"title"`
	Content              string   `json:"content"`
	Author               string   `json:"author"`
	Subreddit            string   `json:"subreddit"`
	URL                  string   `json:"url"`
	RelevanceScore       int      `json:"relevance_score"`
	ClassificationMethod string   `json:"classification_method"`
	SimilarityScore      *float64 `json:"similarity_score,omitempty"`
	RedditCreatedSeconds int64    `json:"reddit_created_at_s"`
	ProcessedAtSeconds   int64    `json:"processed_at_s"`
	DMContent            string   `json:"dm_content,omitempty"`
	CommentContent       string   `json:"comment_content,omitempty"`
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	campaignID := c.Param("campaignId")
	minRelevance, _ := strconv.Atoi(c.DefaultQuery("minRelevance", "0"))

	stored, err := h.postService.ListByCampaign(c.Request.Context(), campaignID, posts.ListFilter{
		MinRelevance: minRelevance,
		Subreddit:    c.Query("subreddit"),
	})
	if err != nil {
		h.logger.Error("post listing failed", zap.String("campaign_id", campaignID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_list_failed"})
		return
	}

	payloads := make([]postPayload, 0, len(stored))
	for _, post := range stored {
		payload := postPayload{
			PostID:               post.PostID,
			CampaignID:           post.CampaignID,
			RedditID:             post.RedditID,
			Title:                post.Title,
			Content:              post.Content,
			Author:               post.Author,
			Subreddit:            post.Subreddit,
			URL:                  post.URL,
			RelevanceScore:       post.RelevanceScore,
			ClassificationMethod: post.ClassificationMethod,
			SimilarityScore:      post.SimilarityScore,
			RedditCreatedSeconds: post.RedditCreatedSeconds,
			ProcessedAtSeconds:   post.ProcessedAtSeconds,
		}

		responses, err := h.postService.ResponsesForPost(c.Request.Context(), post.PostID)
		if err == nil {
			for _, response := range responses {
				switch response.Type {
				case posts.ResponseTypeDM:
					payload.DMContent = response.Content
				case posts.ResponseTypeComment:
					payload.CommentContent = response.Content
				}
			}
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleSubredditCounts(c *gin.Context) {
	counts, err := h.postService.SubredditCounts(c.Request.Context(), c.Param("campaignId"))
	if err != nil {
		h.logger.Error("subreddit aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subreddit_list_failed"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

type generateRequestPayload struct {
	Type string `json:"type"`
}

func (h *httpHandler) handleGenerateResponse(c *gin.Context) {
	if h.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation_unavailable"})
		return
	}

	var request generateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Type != posts.ResponseTypeDM && request.Type != posts.ResponseTypeComment {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type"})
		return
	}

	post, err := h.postService.Get(c.Request.Context(), c.Param("postId"))
	if err != nil {
		if errors.Is(err, posts.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post_not_found"})
			return
		}
		h.logger.Error("post fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_get_failed"})
		return
	}

	campaign, err := h.campaignService.Get(c.Request.Context(), post.CampaignID)
	if err != nil {
		h.logger.Error("campaign fetch failed for generation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign_get_failed"})
		return
	}

	content, err := h.generator.GenerateOutreach(c.Request.Context(), llm.OutreachRequest{
		Type:               request.Type,
		Template:           campaign.DMPrompt,
		Title:              post.Title,
		Content:            post.Content,
		Author:             post.Author,
		Subreddit:          post.Subreddit,
		ProductName:        campaign.ProductName,
		ProductDescription: campaign.Description,
		Website:            campaign.Website,
	})
	if err != nil {
		// Generation failures surface as the canned fallback, never a 5xx.
		h.logger.Warn("outreach generation failed, using fallback",
			zap.String("post_id", post.PostID),
			zap.Error(err))
		content = llm.FallbackOutreach(request.Type)
	}

	if _, err := h.postService.UpsertResponse(c.Request.Context(), post.PostID, request.Type, content); err != nil {
		h.logger.Error("response persistence failed", zap.String("post_id", post.PostID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "response_save_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": content})
}

func (h *httpHandler) handleRedditTest(c *gin.Context) {
	if h.account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "reddit_unavailable"})
		return
	}
	username, err := h.account.Me(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "username": username})
}
