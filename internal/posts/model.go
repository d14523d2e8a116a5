package posts

// Classification method tags recorded alongside every processed submission so
// the provenance of a relevance score stays auditable.
const (
	// MethodLLM marks a score produced by the language model alone.
	MethodLLM = "llm"
	// MethodSimilarityFiltered marks a post rejected by the similarity
	// pre-filter without ever reaching the language model.
	MethodSimilarityFiltered = "similarity-filtered"
	// MethodSimilarityLLM marks a score produced by the language model after
	// the similarity pre-filter passed.
	MethodSimilarityLLM = "similarity+llm"
	// MethodClassificationFailed marks a post whose scoring failed outright;
	// the post is still recorded with score zero so it is never re-fetched.
	MethodClassificationFailed = "classification-failed"
)

// Response types attachable to a processed post.
const (
	ResponseTypeDM      = "dm"
	ResponseTypeComment = "comment"
)

// Post records one processed Reddit submission. Exactly one row exists per
// reddit_id, ever; posts are stored regardless of relevance score so a later
// sweep never re-classifies them.
type Post struct {
	PostID               string   `gorm:"column:post_id;primaryKey;size:190;not null"`
	CampaignID           string   `gorm:"column:campaign_id;size:190;not null;index:idx_posts_campaign_score,priority:1"`
	RedditID             string   `gorm:"column:reddit_id;size:190;not null;uniqueIndex:idx_posts_reddit_id"`
	Fullname             string   `gorm:"column:fullname;size:190;not null"`
	Title                string   `gorm:"column:title;type:text;not null"`
	Content              string   `gorm:"column:content;type:text;not null;default:''"`
	Author               string   `gorm:"column:author;size:190;not null"`
	Subreddit            string   `gorm:"column:subreddit;size:190;not null"`
	URL                  string   `gorm:"column:url;size:500;not null"`
	RelevanceScore       int      `gorm:"column:relevance_score;not null;default:0;index:idx_posts_campaign_score,priority:2"`
	ClassificationMethod string   `gorm:"column:classification_method;size:64;not null"`
	SimilarityScore      *float64 `gorm:"column:similarity_score"`
	RedditCreatedSeconds int64    `gorm:"column:reddit_created_at_s;not null"`
	ProcessedAtSeconds   int64    `gorm:"column:processed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Response stores generated outreach text for a post. One row per
// (post, type); regeneration replaces the previous content.
type Response struct {
	ResponseID       string `gorm:"column:response_id;primaryKey;size:190;not null"`
	PostID           string `gorm:"column:post_id;size:190;not null;uniqueIndex:idx_responses_post_type,priority:1"`
	Type             string `gorm:"column:type;size:16;not null;uniqueIndex:idx_responses_post_type,priority:2"`
	Content          string `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Response) TableName() string {
	return "responses"
}
