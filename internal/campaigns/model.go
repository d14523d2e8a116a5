package campaigns

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCampaignID indicates that a campaign identifier is empty or exceeds storage bounds.
	ErrInvalidCampaignID = errors.New("campaigns: invalid campaign id")
	// ErrInvalidSubreddits indicates that a campaign has no usable monitoring targets.
	ErrInvalidSubreddits = errors.New("campaigns: invalid subreddit list")
)

// CampaignID represents a validated campaign identifier.
type CampaignID string

// NewCampaignID validates raw input and returns a CampaignID.
func NewCampaignID(rawInput string) (CampaignID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCampaignID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCampaignID, maxIdentifierLength)
	}
	return CampaignID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CampaignID) String() string {
	return string(id)
}

// Campaign models a unit of monitoring configuration: the product being
// promoted, the subreddits watched for it, and the prompts driving relevance
// classification and outreach generation.
type Campaign struct {
	CampaignID     string `gorm:"column:campaign_id;primaryKey;size:190;not null"`
	ProductName    string `gorm:"column:product_name;size:190;not null"`
	Description    string `gorm:"column:description;type:text;not null"`
	SubredditsJSON string `gorm:"column:subreddits_json;type:text;not null"`
	SearchPrompt   string `gorm:"column:search_prompt;type:text;not null"`
	DMPrompt       string `gorm:"column:dm_prompt;type:text;not null"`
	Website        string `gorm:"column:website;size:500;not null;default:''"`
	// LastScannedFullname is the pagination watermark: the fullname of the
	// newest submission observed in the last completed sweep. Empty until the
	// first sweep; written only after a full sweep of every subreddit.
	LastScannedFullname string `gorm:"column:last_scanned_fullname;size:190;not null;default:''"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds    int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// Subreddits decodes the stored monitoring target list.
func (c Campaign) Subreddits() []string {
	var names []string
	if err := json.Unmarshal([]byte(c.SubredditsJSON), &names); err != nil {
		return nil
	}
	return names
}

// EncodeSubreddits normalizes and serializes a subreddit list for storage.
func EncodeSubreddits(names []string) (string, error) {
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimPrefix(strings.TrimSpace(name), "r/")
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return "", fmt.Errorf("%w: no subreddits provided", ErrInvalidSubreddits)
	}
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
