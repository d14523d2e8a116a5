package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/reddit"
	"github.com/leadscout/leadscout/internal/relevance"
)

type fakeSource struct {
	listings    map[string][]reddit.Submission
	failing     map[string]error
	lastCursors map[string]string
}

func (f *fakeSource) NewSubmissions(_ context.Context, subreddit string, _ int, before string) ([]reddit.Submission, error) {
	if f.lastCursors == nil {
		f.lastCursors = map[string]string{}
	}
	f.lastCursors[subreddit] = before
	if err := f.failing[subreddit]; err != nil {
		return nil, err
	}
	return f.listings[subreddit], nil
}

type fakeClassifier struct {
	scores map[string]int
	calls  []string
}

func (f *fakeClassifier) Classify(_ context.Context, candidate relevance.Candidate, _ relevance.CampaignContext) relevance.Result {
	f.calls = append(f.calls, candidate.RedditID)
	return relevance.Result{Score: f.scores[candidate.RedditID], Method: posts.MethodLLM}
}

type fakeCampaignStore struct {
	campaigns  []campaigns.Campaign
	watermarks map[string]string
	updateErr  error
}

func (f *fakeCampaignStore) List(context.Context) ([]campaigns.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeCampaignStore) UpdateWatermark(_ context.Context, campaignID, fullname string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.watermarks == nil {
		f.watermarks = map[string]string{}
	}
	f.watermarks[campaignID] = fullname
	return nil
}

type fakePostStore struct {
	seen      map[string]bool
	ingested  []posts.IngestRecord
	ingestErr map[string]error
}

func (f *fakePostStore) Exists(_ context.Context, redditID string) (bool, error) {
	return f.seen[redditID], nil
}

func (f *fakePostStore) Ingest(_ context.Context, record posts.IngestRecord) (bool, error) {
	if err := f.ingestErr[record.RedditID]; err != nil {
		return false, err
	}
	f.ingested = append(f.ingested, record)
	return true, nil
}

func submission(id, subreddit string) reddit.Submission {
	return reddit.Submission{
		ID:        id,
		Fullname:  "t3_" + id,
		Title:     "title " + id,
		SelfText:  "body " + id,
		Author:    "alice",
		Subreddit: subreddit,
		Permalink: "/r/" + subreddit + "/" + id,
	}
}

func testCampaign(subreddits string) campaigns.Campaign {
	return campaigns.Campaign{
		CampaignID:     "campaign-1",
		ProductName:    "LeadScout",
		Description:    "CRM for agencies",
		SubredditsJSON: subreddits,
		SearchPrompt:   "people shopping for a CRM",
	}
}

func mustOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	orchestrator, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	return orchestrator
}

func TestSweepPersistsEveryScoreAndAdvancesWatermark(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{
		"golang":   {submission("a", "golang"), submission("b", "golang")},
		"startups": {submission("c", "startups")},
	}}
	classifier := &fakeClassifier{scores: map[string]int{"a": 80, "b": 10, "c": 95}}
	campaignStore := &fakeCampaignStore{}
	postStore := &fakePostStore{}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    classifier,
		CampaignStore: campaignStore,
		PostStore:     postStore,
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang","startups"]`))

	if report.PostsProcessed != 3 {
		t.Fatalf("every classified post must persist, got %d", report.PostsProcessed)
	}
	if len(postStore.ingested) != 3 {
		t.Fatalf("expected 3 stored posts, got %d", len(postStore.ingested))
	}
	// Low scores are stored, not discarded.
	scores := map[string]int{}
	for _, record := range postStore.ingested {
		scores[record.RedditID] = record.RelevanceScore
	}
	if scores["b"] != 10 {
		t.Fatalf("low-scoring post must still be stored, got %d", scores["b"])
	}
	if !report.WatermarkAdvanced {
		t.Fatalf("watermark should advance after a productive sweep")
	}
	if campaignStore.watermarks["campaign-1"] != "t3_a" {
		t.Fatalf("watermark must be the first result of the first subreddit, got %q", campaignStore.watermarks["campaign-1"])
	}
}

func TestSweepPassesWatermarkAsCursor(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{}}
	campaignStore := &fakeCampaignStore{}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    &fakeClassifier{},
		CampaignStore: campaignStore,
		PostStore:     &fakePostStore{},
	})

	campaign := testCampaign(`["golang","startups"]`)
	campaign.LastScannedFullname = "t3_prev"
	orchestrator.SweepCampaign(context.Background(), campaign)

	if source.lastCursors["golang"] != "t3_prev" || source.lastCursors["startups"] != "t3_prev" {
		t.Fatalf("every subreddit fetch must use the stored watermark, got %v", source.lastCursors)
	}
}

func TestSweepWithoutResultsKeepsWatermark(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{}}
	campaignStore := &fakeCampaignStore{}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    &fakeClassifier{},
		CampaignStore: campaignStore,
		PostStore:     &fakePostStore{},
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang"]`))

	if report.WatermarkAdvanced {
		t.Fatalf("empty sweep must not advance the watermark")
	}
	if len(campaignStore.watermarks) != 0 {
		t.Fatalf("no watermark write expected, got %v", campaignStore.watermarks)
	}
}

func TestSweepSkipsAlreadyProcessedSubmissions(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{
		"golang": {submission("old", "golang"), submission("new", "golang")},
	}}
	classifier := &fakeClassifier{scores: map[string]int{"new": 50}}
	postStore := &fakePostStore{seen: map[string]bool{"old": true}}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    classifier,
		CampaignStore: &fakeCampaignStore{},
		PostStore:     postStore,
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang"]`))

	if report.PostsProcessed != 1 || report.PostsSkipped != 1 {
		t.Fatalf("unexpected counts: processed=%d skipped=%d", report.PostsProcessed, report.PostsSkipped)
	}
	if len(classifier.calls) != 1 || classifier.calls[0] != "new" {
		t.Fatalf("seen submissions must not be classified, got %v", classifier.calls)
	}
}

func TestSweepIsolatesSubredditFailures(t *testing.T) {
	source := &fakeSource{
		listings: map[string][]reddit.Submission{
			"startups": {submission("c", "startups")},
		},
		failing: map[string]error{"golang": errors.New("listing unavailable")},
	}
	classifier := &fakeClassifier{scores: map[string]int{"c": 70}}
	campaignStore := &fakeCampaignStore{}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    classifier,
		CampaignStore: campaignStore,
		PostStore:     &fakePostStore{},
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang","startups"]`))

	if report.SubredditsFailed != 1 || report.SubredditsScanned != 1 {
		t.Fatalf("unexpected counts: failed=%d scanned=%d", report.SubredditsFailed, report.SubredditsScanned)
	}
	if report.PostsProcessed != 1 {
		t.Fatalf("healthy subreddits must still be processed, got %d", report.PostsProcessed)
	}
	if campaignStore.watermarks["campaign-1"] != "t3_c" {
		t.Fatalf("watermark should come from the surviving subreddit, got %q", campaignStore.watermarks["campaign-1"])
	}
}

func TestSweepPersistenceFailureAbortsOnlyThatSubreddit(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{
		"golang":   {submission("a", "golang"), submission("b", "golang")},
		"startups": {submission("c", "startups")},
	}}
	classifier := &fakeClassifier{scores: map[string]int{"a": 80, "b": 60, "c": 40}}
	postStore := &fakePostStore{ingestErr: map[string]error{"a": errors.New("disk full")}}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    classifier,
		CampaignStore: &fakeCampaignStore{},
		PostStore:     postStore,
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang","startups"]`))

	ids := map[string]bool{}
	for _, record := range postStore.ingested {
		ids[record.RedditID] = true
	}
	if ids["b"] {
		t.Fatalf("remaining posts of the failed subreddit must be aborted")
	}
	if !ids["c"] {
		t.Fatalf("other subreddits must continue after a persistence failure")
	}
	if report.PostsProcessed != 1 {
		t.Fatalf("unexpected processed count: %d", report.PostsProcessed)
	}
}

func TestSweepAllContinuesPastCampaigns(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{
		"golang": {submission("a", "golang")},
	}}
	first := testCampaign(`["missing"]`)
	second := testCampaign(`["golang"]`)
	second.CampaignID = "campaign-2"
	campaignStore := &fakeCampaignStore{campaigns: []campaigns.Campaign{first, second}}
	campaignStore.updateErr = nil
	source.failing = map[string]error{"missing": errors.New("listing unavailable")}

	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    &fakeClassifier{scores: map[string]int{"a": 88}},
		CampaignStore: campaignStore,
		PostStore:     &fakePostStore{},
	})

	report, err := orchestrator.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CampaignsScanned != 2 {
		t.Fatalf("expected both campaigns swept, got %d", report.CampaignsScanned)
	}
	if report.PostsProcessed != 1 {
		t.Fatalf("unexpected processed count: %d", report.PostsProcessed)
	}
	if campaignStore.watermarks["campaign-2"] != "t3_a" {
		t.Fatalf("second campaign's watermark should advance, got %v", campaignStore.watermarks)
	}
}

func TestSweepWatermarkUpdateFailureIsReported(t *testing.T) {
	source := &fakeSource{listings: map[string][]reddit.Submission{
		"golang": {submission("a", "golang")},
	}}
	campaignStore := &fakeCampaignStore{updateErr: errors.New("write failed")}
	orchestrator := mustOrchestrator(t, OrchestratorConfig{
		Source:        source,
		Classifier:    &fakeClassifier{scores: map[string]int{"a": 30}},
		CampaignStore: campaignStore,
		PostStore:     &fakePostStore{},
	})

	report := orchestrator.SweepCampaign(context.Background(), testCampaign(`["golang"]`))
	if report.WatermarkAdvanced {
		t.Fatalf("failed watermark write must not be reported as advanced")
	}
	if report.PostsProcessed != 1 {
		t.Fatalf("posts persist even when the watermark write fails, got %d", report.PostsProcessed)
	}
}
