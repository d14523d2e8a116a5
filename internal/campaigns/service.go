package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultSearchPrompt seeds new campaigns with the stock relevance criteria.
	DefaultSearchPrompt = "Find posts where I can promote my product and find posts that are explicitly asking for advice where my product can directly address the request."
	// DefaultDMPrompt seeds new campaigns with the stock outreach template.
	DefaultDMPrompt = "Write a DM promoting my product. Hi [recipient_first_name], I'm from [product_name]. I saw your post about [post_reference]. [product_description] Check it out: [website]"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrCampaignNotFound indicates that no campaign exists for the requested identifier.
	ErrCampaignNotFound = errors.New("campaigns: campaign not found")
	// ErrEmptyWatermark indicates an attempt to advance a watermark to an empty cursor.
	ErrEmptyWatermark = errors.New("campaigns: watermark fullname is empty")
	noOpLogger        = zap.NewNop()
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
	opServiceNew      = "campaigns.service.new"
	opCreate          = "campaigns.create"
	opList            = "campaigns.list"
	opGet             = "campaigns.get"
	opUpdate          = "campaigns.update"
	opDelete          = "campaigns.delete"
	opUpdateWatermark = "campaigns.update_watermark"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the campaign service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages campaign records and their pagination watermarks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the campaign service.
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

// CreateInput describes the operator-supplied fields for a new campaign.
type CreateInput struct {
	ProductName  string
	Description  string
	Subreddits   []string
	SearchPrompt string
	DMPrompt     string
	Website      string
}

// Create persists a new campaign, applying the stock prompts when none are supplied.
func (s *Service) Create(ctx context.Context, input CreateInput) (Campaign, error) {
	encoded, err := EncodeSubreddits(input.Subreddits)
	if err != nil {
		return Campaign{}, newServiceError(opCreate, "invalid_subreddits", err)
	}

	campaignID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Campaign{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	searchPrompt := input.SearchPrompt
	if searchPrompt == "" {
		searchPrompt = DefaultSearchPrompt
	}
	dmPrompt := input.DMPrompt
	if dmPrompt == "" {
		dmPrompt = DefaultDMPrompt
	}

	now := s.clock().UTC().Unix()
	campaign := Campaign{
		CampaignID:       campaignID,
		ProductName:      input.ProductName,
		Description:      input.Description,
		SubredditsJSON:   encoded,
		SearchPrompt:     searchPrompt,
		DMPrompt:         dmPrompt,
		Website:          input.Website,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("campaign_id", campaignID))
		return Campaign{}, newServiceError(opCreate, "insert_failed", err)
	}

	return campaign, nil
}

// List returns every stored campaign ordered by creation time, newest first.
func (s *Service) List(ctx context.Context) ([]Campaign, error) {
	var stored []Campaign
	if err := s.db.WithContext(ctx).
		Order("created_at_s DESC").
		Find(&stored).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return stored, nil
}

// Get returns a single campaign by identifier.
func (s *Service) Get(ctx context.Context, campaignID string) (Campaign, error) {
	var campaign Campaign
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Campaign{}, newServiceError(opGet, "not_found", ErrCampaignNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("campaign_id", campaignID))
		return Campaign{}, newServiceError(opGet, "query_failed", err)
	}
	return campaign, nil
}

// UpdateInput describes the mutable campaign fields.
type UpdateInput struct {
	ProductName  string
	Description  string
	Subreddits   []string
	SearchPrompt string
	DMPrompt     string
	Website      string
}

// Update replaces a campaign's operator-supplied fields. The watermark is
// untouched: only the scan orchestrator advances it.
func (s *Service) Update(ctx context.Context, campaignID string, input UpdateInput) (Campaign, error) {
	campaign, err := s.Get(ctx, campaignID)
	if err != nil {
		return Campaign{}, err
	}

	encoded, err := EncodeSubreddits(input.Subreddits)
	if err != nil {
		return Campaign{}, newServiceError(opUpdate, "invalid_subreddits", err)
	}

	campaign.ProductName = input.ProductName
	campaign.Description = input.Description
	campaign.SubredditsJSON = encoded
	if input.SearchPrompt != "" {
		campaign.SearchPrompt = input.SearchPrompt
	}
	if input.DMPrompt != "" {
		campaign.DMPrompt = input.DMPrompt
	}
	campaign.Website = input.Website
	campaign.UpdatedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Save(&campaign).Error; err != nil {
		s.logError(opUpdate, "save_failed", err, zap.String("campaign_id", campaignID))
		return Campaign{}, newServiceError(opUpdate, "save_failed", err)
	}
	return campaign, nil
}

// Delete removes a campaign record. Cascading removal of its posts and
// responses is the API layer's responsibility.
func (s *Service) Delete(ctx context.Context, campaignID string) error {
	result := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Delete(&Campaign{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("campaign_id", campaignID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrCampaignNotFound)
	}
	return nil
}

// UpdateWatermark atomically advances the campaign's pagination watermark and
// refreshes the updated timestamp. Callers invoke it only after a full sweep
// of the campaign's subreddits has completed.
func (s *Service) UpdateWatermark(ctx context.Context, campaignID, fullname string) error {
	if fullname == "" {
		return newServiceError(opUpdateWatermark, "empty_fullname", ErrEmptyWatermark)
	}

	result := s.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("campaign_id = ?", campaignID).
		Updates(map[string]any{
			"last_scanned_fullname": fullname,
			"updated_at_s":          s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opUpdateWatermark, "update_failed", result.Error,
			zap.String("campaign_id", campaignID),
			zap.String("fullname", fullname))
		return newServiceError(opUpdateWatermark, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateWatermark, "not_found", ErrCampaignNotFound)
	}
	return nil
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
	s.logger.Error("campaign service error", attrs...)
}
