package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrPostNotFound indicates that no post exists for the requested identifier.
	ErrPostNotFound = errors.New("posts: post not found")
	// ErrInvalidResponseType indicates an unsupported outreach response type.
	ErrInvalidResponseType = errors.New("posts: invalid response type")
	noOpLogger             = zap.NewNop()
)

// ServiceError carries an operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "posts.service.new"
	opIngest           = "posts.ingest"
	opExists           = "posts.exists"
	opList             = "posts.list"
	opGet              = "posts.get"
	opDeleteByCampaign = "posts.delete_by_campaign"
	opUpsertResponse   = "posts.upsert_response"
	opListResponses    = "posts.list_responses"
	opSubredditCounts  = "posts.subreddit_counts"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique identifiers for stored records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the post service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists processed submissions and their generated responses.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the post service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// IngestRecord describes one classified submission ready for storage.
type IngestRecord struct {
	CampaignID           string
	RedditID             string
	Fullname             string
	Title                string
	Content              string
	Author               string
	Subreddit            string
	URL                  string
	RelevanceScore       int
	ClassificationMethod string
	SimilarityScore      *float64
	RedditCreatedSeconds int64
}

// Ingest stores a processed submission. The insert is idempotent on the
// reddit_id unique index: a duplicate is a no-op and reports inserted=false.
func (s *Service) Ingest(ctx context.Context, record IngestRecord) (bool, error) {
	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opIngest, "id_generation_failed", err, zap.String("reddit_id", record.RedditID))
		return false, newServiceError(opIngest, "id_generation_failed", err)
	}

	post := Post{
		PostID:               postID,
		CampaignID:           record.CampaignID,
		RedditID:             record.RedditID,
		Fullname:             record.Fullname,
		Title:                record.Title,
		Content:              record.Content,
		Author:               record.Author,
		Subreddit:            record.Subreddit,
		URL:                  record.URL,
		RelevanceScore:       record.RelevanceScore,
		ClassificationMethod: record.ClassificationMethod,
		SimilarityScore:      record.SimilarityScore,
		RedditCreatedSeconds: record.RedditCreatedSeconds,
		ProcessedAtSeconds:   s.clock().UTC().Unix(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reddit_id"}},
			DoNothing: true,
		}).
		Create(&post)
	if result.Error != nil {
		s.logError(opIngest, "insert_failed", result.Error, zap.String("reddit_id", record.RedditID))
		return false, newServiceError(opIngest, "insert_failed", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// Exists reports whether a submission has already been processed.
func (s *Service) Exists(ctx context.Context, redditID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Post{}).
		Where("reddit_id = ?", redditID).
		Count(&count).Error; err != nil {
		s.logError(opExists, "query_failed", err, zap.String("reddit_id", redditID))
		return false, newServiceError(opExists, "query_failed", err)
	}
	return count > 0, nil
}

// ListFilter narrows a campaign post listing.
type ListFilter struct {
	MinRelevance int
	Subreddit    string
}

// ListByCampaign returns a campaign's posts ordered by relevance, newest first
// within equal scores.
func (s *Service) ListByCampaign(ctx context.Context, campaignID string, filter ListFilter) ([]Post, error) {
	query := s.db.WithContext(ctx).
		Where("campaign_id = ? AND relevance_score >= ?", campaignID, filter.MinRelevance)
	if filter.Subreddit != "" {
		query = query.Where("subreddit = ?", filter.Subreddit)
	}

	var stored []Post
	if err := query.
		Order("relevance_score DESC, processed_at_s DESC").
		Find(&stored).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("campaign_id", campaignID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return stored, nil
}

// Get returns a single processed post by identifier.
func (s *Service) Get(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, newServiceError(opGet, "not_found", ErrPostNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("post_id", postID))
		return Post{}, newServiceError(opGet, "query_failed", err)
	}
	return post, nil
}

// DeleteByCampaign removes a campaign's posts and their generated responses.
// Used by campaign deletion to cascade.
func (s *Service) DeleteByCampaign(ctx context.Context, campaignID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id IN (?)",
			tx.Model(&Post{}).Select("post_id").Where("campaign_id = ?", campaignID),
		).Delete(&Response{}).Error; err != nil {
			return err
		}
		return tx.Where("campaign_id = ?", campaignID).Delete(&Post{}).Error
	})
	if err != nil {
		s.logError(opDeleteByCampaign, "delete_failed", err, zap.String("campaign_id", campaignID))
		return newServiceError(opDeleteByCampaign, "delete_failed", err)
	}
	return nil
}

// UpsertResponse stores generated outreach text for a post, replacing any
// previous response of the same type.
func (s *Service) UpsertResponse(ctx context.Context, postID, responseType, content string) (Response, error) {
	if responseType != ResponseTypeDM && responseType != ResponseTypeComment {
		return Response{}, newServiceError(opUpsertResponse, "invalid_type", ErrInvalidResponseType)
	}

	responseID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsertResponse, "id_generation_failed", err, zap.String("post_id", postID))
		return Response{}, newServiceError(opUpsertResponse, "id_generation_failed", err)
	}

	response := Response{
		ResponseID:       responseID,
		PostID:           postID,
		Type:             responseType,
		Content:          content,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "type"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "created_at_s"}),
		}).
		Create(&response).Error
	if err != nil {
		s.logError(opUpsertResponse, "upsert_failed", err, zap.String("post_id", postID))
		return Response{}, newServiceError(opUpsertResponse, "upsert_failed", err)
	}
	return response, nil
}

// ResponsesForPost returns every generated response attached to a post.
func (s *Service) ResponsesForPost(ctx context.Context, postID string) ([]Response, error) {
	var stored []Response
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at_s DESC").
		Find(&stored).Error; err != nil {
		s.logError(opListResponses, "query_failed", err, zap.String("post_id", postID))
		return nil, newServiceError(opListResponses, "query_failed", err)
	}
	return stored, nil
}

// SubredditCount aggregates how many posts a subreddit contributed to a campaign.
type SubredditCount struct {
	Subreddit string `json:"subreddit"`
	PostCount int64  `json:"post_count"`
}

// SubredditCounts returns per-subreddit post totals for a campaign, busiest first.
func (s *Service) SubredditCounts(ctx context.Context, campaignID string) ([]SubredditCount, error) {
	var counts []SubredditCount
	if err := s.db.WithContext(ctx).
		Model(&Post{}).
		Select("subreddit, COUNT(*) as post_count").
		Where("campaign_id = ?", campaignID).
		Group("subreddit").
		Order("post_count DESC").
		Scan(&counts).Error; err != nil {
		s.logError(opSubredditCounts, "query_failed", err, zap.String("campaign_id", campaignID))
		return nil, newServiceError(opSubredditCounts, "query_failed", err)
	}
	return counts, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("post service error", attrs...)
}
