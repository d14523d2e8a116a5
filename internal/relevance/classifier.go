package relevance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadscout/leadscout/internal/llm"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/similarity"
	"go.uber.org/zap"
)

const (
	defaultThreshold = 0.6
	defaultTopK      = 5
)

var errMissingScorer = errors.New("relevance: scorer is required")

// Candidate is a submission awaiting relevance classification.
type Candidate struct {
	RedditID  string
	Title     string
	Content   string
	Author    string
	Subreddit string
}

// CampaignContext supplies the campaign fields the classifier scores against.
type CampaignContext struct {
	CampaignID         string
	SearchPrompt       string
	ProductDescription string
}

// Result is the outcome of classifying one candidate. Method records the
// provenance of the score; Similarity is set only when a similarity stage ran.
type Result struct {
	Score      int
	Method     string
	Similarity *float64
}

// Scorer produces a 0-100 relevance score for a candidate.
type Scorer interface {
	ScoreRelevance(ctx context.Context, input llm.ScoreInput) (int, error)
}

// SimilarityFilter is the subset of the similarity client the classifier uses
// as a pre-filter stage.
type SimilarityFilter interface {
	EmbedDocument(ctx context.Context, collection string, doc similarity.Document) error
	Query(ctx context.Context, collection, query string, topK int, minScore float64) ([]similarity.QueryResult, error)
	DeleteDocument(ctx context.Context, collection, documentID string) error
}

// Config describes classifier dependencies. Filter is optional: when absent
// the classifier runs in language-model-only mode.
type Config struct {
	Scorer    Scorer
	Filter    SimilarityFilter
	Threshold float64
	TopK      int
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Classifier scores submissions with a two-stage pipeline: an optional
// vector-similarity pre-filter followed by a language-model scorer.
type Classifier struct {
	scorer    Scorer
	filter    SimilarityFilter
	threshold float64
	topK      int
	clock     func() time.Time
	logger    *zap.Logger
}

// NewClassifier constructs a classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.Scorer == nil {
		return nil, errMissingScorer
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		scorer:    cfg.Scorer,
		filter:    cfg.Filter,
		threshold: threshold,
		topK:      topK,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Classify scores a candidate against a campaign. It never returns an error:
// similarity failures degrade to language-model-only scoring, and a scorer
// failure yields score zero with a failure method tag, so one bad post never
// aborts a sweep.
//
// When the similarity gate passes, the final score is the language-model
// score alone; the similarity value is recorded for auditing, not blended.
func (c *Classifier) Classify(ctx context.Context, candidate Candidate, campaign CampaignContext) Result {
	if c.filter == nil {
		return c.scoreWithModel(ctx, candidate, campaign, posts.MethodLLM, nil)
	}
	return c.classifyWithSimilarity(ctx, candidate, campaign)
}

func (c *Classifier) classifyWithSimilarity(ctx context.Context, candidate Candidate, campaign CampaignContext) Result {
	collection := similarity.CollectionName(campaign.CampaignID)
	documentID := fmt.Sprintf("post_%s_%d", candidate.RedditID, c.clock().UnixMilli())

	content := candidate.Content
	if content == "" {
		content = "No content"
	}
	documentContent := fmt.Sprintf(`SEARCH CRITERIA: %s

POST TITLE: %s
POST CONTENT: %s
SUBREDDIT: %s
AUTHOR: %s`, campaign.SearchPrompt, candidate.Title, content, candidate.Subreddit, candidate.Author)

	doc := similarity.Document{
		ID:      documentID,
		Content: documentContent,
		Metadata: map[string]any{
			"reddit_id":   candidate.RedditID,
			"subreddit":   candidate.Subreddit,
			"campaign_id": campaign.CampaignID,
		},
	}

	if err := c.filter.EmbedDocument(ctx, collection, doc); err != nil {
		c.logger.Warn("similarity embed failed, falling back to language model",
			zap.String("reddit_id", candidate.RedditID),
			zap.Error(err))
		return c.scoreWithModel(ctx, candidate, campaign, posts.MethodLLM, nil)
	}

	queryContent := fmt.Sprintf(`SEARCH CRITERIA: %s

POST TITLE: %s
POST CONTENT: %s
SUBREDDIT: %s`, campaign.SearchPrompt, candidate.Title, content, candidate.Subreddit)

	results, err := c.filter.Query(ctx, collection, queryContent, c.topK, 0)
	if err != nil {
		c.logger.Warn("similarity query failed, falling back to language model",
			zap.String("reddit_id", candidate.RedditID),
			zap.Error(err))
		c.cleanupDocument(ctx, collection, documentID)
		return c.scoreWithModel(ctx, candidate, campaign, posts.MethodLLM, nil)
	}

	// No neighbors means a novel post: fail open and let the model decide.
	maxSimilarity := 0.0
	for _, result := range results {
		if result.Score > maxSimilarity {
			maxSimilarity = result.Score
		}
	}

	// Rejected candidates must not accumulate in the collection.
	c.cleanupDocument(ctx, collection, documentID)

	if len(results) > 0 && maxSimilarity < c.threshold {
		return Result{
			Score:      0,
			Method:     posts.MethodSimilarityFiltered,
			Similarity: &maxSimilarity,
		}
	}

	return c.scoreWithModel(ctx, candidate, campaign, posts.MethodSimilarityLLM, &maxSimilarity)
}

func (c *Classifier) scoreWithModel(ctx context.Context, candidate Candidate, campaign CampaignContext, method string, similarityScore *float64) Result {
	score, err := c.scorer.ScoreRelevance(ctx, llm.ScoreInput{
		Title:              candidate.Title,
		Content:            candidate.Content,
		Subreddit:          candidate.Subreddit,
		SearchPrompt:       campaign.SearchPrompt,
		ProductDescription: campaign.ProductDescription,
	})
	if err != nil {
		c.logger.Warn("relevance scoring failed",
			zap.String("reddit_id", candidate.RedditID),
			zap.Error(err))
		return Result{Score: 0, Method: posts.MethodClassificationFailed, Similarity: similarityScore}
	}
	return Result{Score: score, Method: method, Similarity: similarityScore}
}

func (c *Classifier) cleanupDocument(ctx context.Context, collection, documentID string) {
	if err := c.filter.DeleteDocument(ctx, collection, documentID); err != nil {
		c.logger.Debug("similarity document cleanup failed",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}
