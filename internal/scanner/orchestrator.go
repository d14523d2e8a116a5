package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/reddit"
	"github.com/leadscout/leadscout/internal/relevance"
	"go.uber.org/zap"
)

const defaultPageLimit = 25

var (
	errMissingSource        = errors.New("scanner: source client is required")
	errMissingClassifier    = errors.New("scanner: classifier is required")
	errMissingCampaignStore = errors.New("scanner: campaign store is required")
	errMissingPostStore     = errors.New("scanner: post store is required")
)

// SourceClient fetches pages of new submissions from the content source.
type SourceClient interface {
	NewSubmissions(ctx context.Context, subreddit string, limit int, before string) ([]reddit.Submission, error)
}

// Classifier scores a candidate submission for a campaign.
type Classifier interface {
	Classify(ctx context.Context, candidate relevance.Candidate, campaign relevance.CampaignContext) relevance.Result
}

// CampaignStore is the narrow campaign read/write contract the orchestrator
// depends on.
type CampaignStore interface {
	List(ctx context.Context) ([]campaigns.Campaign, error)
	UpdateWatermark(ctx context.Context, campaignID, fullname string) error
}

// PostStore persists processed submissions idempotently.
type PostStore interface {
	Ingest(ctx context.Context, record posts.IngestRecord) (bool, error)
	Exists(ctx context.Context, redditID string) (bool, error)
}

// OrchestratorConfig describes the dependencies for campaign sweeps.
type OrchestratorConfig struct {
	Source        SourceClient
	Classifier    Classifier
	CampaignStore CampaignStore
	PostStore     PostStore
	PageLimit     int
	Logger        *zap.Logger
}

// Orchestrator walks each campaign's subreddit list, classifies unseen
// submissions, persists every processed post, and advances the campaign's
// pagination watermark once the whole sweep completes.
type Orchestrator struct {
	source        SourceClient
	classifier    Classifier
	campaignStore CampaignStore
	postStore     PostStore
	pageLimit     int
	logger        *zap.Logger
}

// NewOrchestrator constructs a scan orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Classifier == nil {
		return nil, errMissingClassifier
	}
	if cfg.CampaignStore == nil {
		return nil, errMissingCampaignStore
	}
	if cfg.PostStore == nil {
		return nil, errMissingPostStore
	}

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		source:        cfg.Source,
		classifier:    cfg.Classifier,
		campaignStore: cfg.CampaignStore,
		postStore:     cfg.PostStore,
		pageLimit:     pageLimit,
		logger:        logger,
	}, nil
}

// CampaignReport summarizes one campaign's sweep.
type CampaignReport struct {
	CampaignID        string        `json:"campaign_id"`
	SubredditsScanned int           `json:"subreddits_scanned"`
	SubredditsFailed  int           `json:"subreddits_failed"`
	PostsProcessed    int           `json:"posts_processed"`
	PostsSkipped      int           `json:"posts_skipped"`
	WatermarkAdvanced bool          `json:"watermark_advanced"`
	Duration          time.Duration `json:"duration_ns"`
}

// SweepReport summarizes one full sweep across all campaigns.
type SweepReport struct {
	CampaignsScanned int              `json:"campaigns_scanned"`
	PostsProcessed   int              `json:"posts_processed"`
	SubredditsFailed int              `json:"subreddits_failed"`
	Campaigns        []CampaignReport `json:"campaigns"`
}

// SweepAll runs one sweep over every stored campaign, sequentially. A failing
// campaign never prevents the remaining campaigns from being swept.
func (o *Orchestrator) SweepAll(ctx context.Context) (SweepReport, error) {
	stored, err := o.campaignStore.List(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Campaigns: make([]CampaignReport, 0, len(stored))}
	for _, campaign := range stored {
		campaignReport := o.SweepCampaign(ctx, campaign)
		report.CampaignsScanned++
		report.PostsProcessed += campaignReport.PostsProcessed
		report.SubredditsFailed += campaignReport.SubredditsFailed
		report.Campaigns = append(report.Campaigns, campaignReport)
	}

	o.logger.Info("sweep completed",
		zap.Int("campaigns", report.CampaignsScanned),
		zap.Int("posts_processed", report.PostsProcessed),
		zap.Int("subreddits_failed", report.SubredditsFailed))
	return report, nil
}

// SweepCampaign runs one sweep of a single campaign: every subreddit in
// order, one page of unseen submissions each. The candidate watermark is the
// fullname of the first submission returned by the first subreddit that
// yields any results; it is committed only after every subreddit has been
// processed or skipped.
func (o *Orchestrator) SweepCampaign(ctx context.Context, campaign campaigns.Campaign) CampaignReport {
	started := time.Now()
	report := CampaignReport{CampaignID: campaign.CampaignID}

	campaignContext := relevance.CampaignContext{
		CampaignID:         campaign.CampaignID,
		SearchPrompt:       campaign.SearchPrompt,
		ProductDescription: campaign.Description,
	}

	candidateWatermark := ""
	for _, subreddit := range campaign.Subreddits() {
		submissions, err := o.source.NewSubmissions(ctx, subreddit, o.pageLimit, campaign.LastScannedFullname)
		if err != nil {
			o.logger.Warn("subreddit fetch failed, skipping",
				zap.String("campaign_id", campaign.CampaignID),
				zap.String("subreddit", subreddit),
				zap.Error(err))
			report.SubredditsFailed++
			continue
		}
		report.SubredditsScanned++

		// The listing is newest-first, so the first submission of the first
		// subreddit that returns results is the campaign-wide newest
		// reference point for the next sweep.
		if candidateWatermark == "" && len(submissions) > 0 {
			candidateWatermark = submissions[0].Fullname
		}

		processed, skipped, err := o.processSubmissions(ctx, campaign, campaignContext, submissions)
		report.PostsProcessed += processed
		report.PostsSkipped += skipped
		if err != nil {
			o.logger.Error("persistence failed, aborting remaining posts in subreddit",
				zap.String("campaign_id", campaign.CampaignID),
				zap.String("subreddit", subreddit),
				zap.Error(err))
		}
	}

	if candidateWatermark != "" {
		if err := o.campaignStore.UpdateWatermark(ctx, campaign.CampaignID, candidateWatermark); err != nil {
			o.logger.Error("watermark update failed",
				zap.String("campaign_id", campaign.CampaignID),
				zap.String("fullname", candidateWatermark),
				zap.Error(err))
		} else {
			report.WatermarkAdvanced = true
		}
	}

	report.Duration = time.Since(started)
	return report
}

// processSubmissions classifies and persists a page of submissions. A
// persistence error aborts the remaining submissions of this page; a
// classification failure does not (the classifier absorbs it into a
// zero-score result).
func (o *Orchestrator) processSubmissions(ctx context.Context, campaign campaigns.Campaign, campaignContext relevance.CampaignContext, submissions []reddit.Submission) (processed, skipped int, err error) {
	for _, submission := range submissions {
		exists, err := o.postStore.Exists(ctx, submission.ID)
		if err != nil {
			return processed, skipped, err
		}
		if exists {
			skipped++
			continue
		}

		result := o.classifier.Classify(ctx, relevance.Candidate{
			RedditID:  submission.ID,
			Title:     submission.Title,
			Content:   submission.SelfText,
			Author:    submission.Author,
			Subreddit: submission.Subreddit,
		}, campaignContext)

		inserted, err := o.postStore.Ingest(ctx, posts.IngestRecord{
			CampaignID:           campaign.CampaignID,
			RedditID:             submission.ID,
			Fullname:             submission.Fullname,
			Title:                submission.Title,
			Content:              submission.SelfText,
			Author:               submission.Author,
			Subreddit:            submission.Subreddit,
			URL:                  submission.URL(),
			RelevanceScore:       result.Score,
			ClassificationMethod: result.Method,
			SimilarityScore:      result.Similarity,
			RedditCreatedSeconds: submission.CreatedSeconds,
		})
		if err != nil {
			return processed, skipped, err
		}
		if inserted {
			processed++
		} else {
			skipped++
		}
	}
	return processed, skipped, nil
}
