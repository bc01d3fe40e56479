package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/pnp-exchange/mentions-bot/internal/notifications"
	"github.com/pnp-exchange/mentions-bot/internal/sources"
	"github.com/pnp-exchange/mentions-bot/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	// BackfillWindow is the recent-search lookback.
	BackfillWindow = 7 * 24 * time.Hour
	// lookbackMargin keeps start_time inside the lookback by the time the request lands.
	lookbackMargin = time.Minute
	primeResults   = sources.MinResults
)

// Service runs the mention ingestion pipeline: search, filter, persist and
// watermark bookkeeping.
type Service struct {
	config    *config.Config
	client    sources.SearchClient
	sink      storage.Sink
	watermark Watermark
	notifier  notifications.NotificationInterface
	metrics   *Metrics
	now       func() time.Time

	pollMu sync.Mutex
	mu     sync.RWMutex
	status *Status
}

// Status is the JSON view served on /status.
type Status struct {
	TargetAccount    string    `json:"target_account"`
	Watermark        string    `json:"watermark"`
	Primed           bool      `json:"primed"`
	LastPoll         time.Time `json:"last_poll"`
	LastPollDuration string    `json:"last_poll_duration"`
	LastPollMentions int       `json:"last_poll_mentions"`
	LastSnapshot     time.Time `json:"last_snapshot"`
	TotalIngested    int       `json:"total_ingested"`
	ErrorCount       int       `json:"error_count"`
}

// SearchOptions bounds one orchestrated search. StartTime/EndTime are used
// by backfills, SinceID by incremental polls.
type SearchOptions struct {
	Account      string
	StartTime    *time.Time
	EndTime      *time.Time
	SinceID      string
	RequireLinks bool
}

// SearchResult holds the qualifying mentions in platform order (newest
// first) and the highest identifier among all raw results.
type SearchResult struct {
	Mentions  []models.Mention
	MaxSeenID string
	Seen      int
}

// NewService creates a new monitoring service. notifier may be nil.
func NewService(cfg *config.Config, client sources.SearchClient, sink storage.Sink, watermark Watermark, notifier notifications.NotificationInterface, metrics *Metrics) *Service {
	return &Service{
		config:    cfg,
		client:    client,
		sink:      sink,
		watermark: watermark,
		notifier:  notifier,
		metrics:   metrics,
		now:       time.Now,
		status:    &Status{TargetAccount: cfg.TargetAccount},
	}
}

// Search runs one bounded search and never fails: API errors are logged and
// produce an empty result.
func (s *Service) Search(ctx context.Context, opts SearchOptions) SearchResult {
	result, err := s.search(ctx, opts)
	if err != nil {
		s.logSearchFailure(err)
		return SearchResult{Mentions: []models.Mention{}}
	}
	return result
}

func (s *Service) search(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	req := sources.SearchRequest{
		Query:      sources.BuildMentionQuery(opts.Account, opts.RequireLinks),
		StartTime:  opts.StartTime,
		EndTime:    opts.EndTime,
		SinceID:    opts.SinceID,
		MaxResults: sources.MaxResults,
	}

	result := SearchResult{Mentions: []models.Mention{}}
	var seen []string

	for page := 0; page < s.config.MaxSearchPages; page++ {
		resp, err := s.client.Search(ctx, req)
		if err != nil {
			// partial pagination cannot be resumed, drop what we have
			return SearchResult{Mentions: []models.Mention{}}, err
		}

		for _, tweet := range resp.Tweets {
			seen = append(seen, tweet.ID)
			if sources.IsRetweet(tweet) {
				continue
			}
			if mention, ok := toMention(tweet); ok {
				result.Mentions = append(result.Mentions, mention)
			}
		}

		if resp.NextToken == "" {
			break
		}
		req.NextToken = resp.NextToken
	}

	result.MaxSeenID = MaxID(seen)
	result.Seen = len(seen)
	s.metrics.PostsSeenTotal.Add(float64(len(seen)))

	logrus.Debugf("Search %q returned %d posts, %d qualifying, max id %q",
		req.Query, result.Seen, len(result.Mentions), result.MaxSeenID)
	return result, nil
}

func (s *Service) logSearchFailure(err error) {
	var apiErr *sources.APIError
	switch {
	case errors.Is(err, sources.ErrRateLimited):
		s.metrics.SearchFailuresTotal.WithLabelValues("rate_limited").Inc()
		reset := ""
		if errors.As(err, &apiErr) {
			reset = apiErr.ResetAt
		}
		logrus.WithField("rate_limit_reset", reset).Warn("Twitter API rate limit hit, returning no mentions for this search")
	case errors.Is(err, sources.ErrInvalidRequest):
		s.metrics.SearchFailuresTotal.WithLabelValues("invalid_request").Inc()
		logrus.Errorf("Twitter API rejected the search, check that the time window is inside the 7-day lookback: %v", err)
	default:
		s.metrics.SearchFailuresTotal.WithLabelValues("other").Inc()
		logrus.Errorf("Twitter search failed: %v", err)
	}
}

// Prime seeds the watermark with the newest mention of the account,
// qualifying or not. Failures leave the watermark unprimed.
func (s *Service) Prime(ctx context.Context) (string, bool) {
	page, err := s.client.Search(ctx, sources.SearchRequest{
		Query:      sources.BuildMentionQuery(s.config.TargetAccount, false),
		MaxResults: primeResults,
	})
	if err != nil {
		s.logSearchFailure(err)
		logrus.Warn("Watermark priming failed, the first poll will run without a lower bound")
		return "", false
	}
	if len(page.Tweets) == 0 {
		logrus.Infof("No recent mentions of @%s, watermark stays unprimed", s.config.TargetAccount)
		return "", false
	}

	top := page.Tweets[0].ID
	if _, err := s.watermark.Advance(ctx, top); err != nil {
		logrus.Warnf("Failed to store primed watermark %s: %v", top, err)
		return "", false
	}

	s.mu.Lock()
	s.status.Primed = true
	s.status.Watermark = top
	s.mu.Unlock()

	logrus.Infof("Watermark primed at %s", top)
	return top, true
}

// RunPoll fetches mentions newer than the watermark, appends the qualifying
// ones oldest first and advances the watermark to the highest id seen. The
// watermark is untouched when persisting fails.
func (s *Service) RunPoll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	start := time.Now()
	account := s.config.TargetAccount

	since, err := s.watermark.Current(ctx)
	if err != nil {
		s.recordPoll(ctx, "error", start, 0)
		return fmt.Errorf("reading watermark: %w", err)
	}

	result, err := s.search(ctx, SearchOptions{Account: account, SinceID: since})
	if err != nil {
		s.logSearchFailure(err)
		s.recordPoll(ctx, "search_failed", start, 0)
		return nil
	}

	if len(result.Mentions) > 0 {
		chronological := reverseMentions(result.Mentions)

		if err := s.sink.Append(ctx, chronological, storage.AppendOptions{Account: &account}); err != nil {
			s.recordPoll(ctx, "error", start, 0)
			return fmt.Errorf("persisting %d mentions: %w", len(chronological), err)
		}

		for _, m := range chronological {
			logrus.WithFields(logrus.Fields{
				"tweet_id":  m.ID,
				"author_id": m.AuthorID,
				"linked_id": m.LinkedIDValue(),
			}).Info("Ingested mention")
		}
		s.metrics.MentionsIngestedTotal.Add(float64(len(chronological)))
		s.notify(chronological)
	}

	if result.MaxSeenID != "" {
		advanced, err := s.watermark.Advance(ctx, result.MaxSeenID)
		if err != nil {
			s.recordPoll(ctx, "error", start, len(result.Mentions))
			return fmt.Errorf("advancing watermark to %s: %w", result.MaxSeenID, err)
		}
		if advanced {
			logrus.Debugf("Watermark advanced to %s", result.MaxSeenID)
		}
	}

	s.recordPoll(ctx, "ok", start, len(result.Mentions))
	return nil
}

// Backfill searches the last seven days for qualifying mentions. On a search
// failure the returned document is empty and the error is returned as well.
func (s *Service) Backfill(ctx context.Context) (*models.OutputDocument, error) {
	start := s.now().UTC().Add(-BackfillWindow).Add(lookbackMargin)
	startDate := start.Format(time.RFC3339)
	params := models.QueryParameters{
		TargetAccount: s.config.TargetAccount,
		StartDate:     &startDate,
		Last7Days:     true,
	}

	result, err := s.search(ctx, SearchOptions{
		Account:      s.config.TargetAccount,
		StartTime:    &start,
		RequireLinks: true,
	})
	if err != nil {
		s.logSearchFailure(err)
		return models.NewOutputDocument(nil, params), err
	}

	logrus.Infof("Backfill found %d qualifying mentions of @%s in the last 7 days", len(result.Mentions), s.config.TargetAccount)
	return models.NewOutputDocument(result.Mentions, params), nil
}

// FetchRecentMentions runs a backfill and, when save is set and the search
// succeeded, writes it as a snapshot. The document is always returned.
func (s *Service) FetchRecentMentions(ctx context.Context, save bool) *models.OutputDocument {
	doc, err := s.Backfill(ctx)
	if err != nil || !save {
		return doc
	}

	if err := s.sink.WriteSnapshot(ctx, doc); err != nil {
		s.metrics.SnapshotsTotal.WithLabelValues("manual", "error").Inc()
		logrus.Errorf("Failed to save backfill snapshot: %v", err)
		return doc
	}

	s.metrics.SnapshotsTotal.WithLabelValues("manual", "ok").Inc()
	s.markSnapshot()
	return doc
}

// RunSnapshot persists a full backfill snapshot. A failed search does not
// overwrite the previous snapshot.
func (s *Service) RunSnapshot(ctx context.Context) error {
	doc, err := s.Backfill(ctx)
	if err != nil {
		s.metrics.SnapshotsTotal.WithLabelValues("scheduled", "search_failed").Inc()
		return fmt.Errorf("backfill search: %w", err)
	}

	if err := s.sink.WriteSnapshot(ctx, doc); err != nil {
		s.metrics.SnapshotsTotal.WithLabelValues("scheduled", "error").Inc()
		return fmt.Errorf("writing snapshot: %w", err)
	}

	s.metrics.SnapshotsTotal.WithLabelValues("scheduled", "ok").Inc()
	s.markSnapshot()
	return nil
}

func (s *Service) notify(mentions []models.Mention) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyMentions(s.config.TargetAccount, mentions); err != nil {
		logrus.Errorf("Failed to send mention notification: %v", err)
	}
}

func (s *Service) recordPoll(ctx context.Context, result string, start time.Time, ingested int) {
	s.metrics.PollCyclesTotal.WithLabelValues(result).Inc()
	s.metrics.LastPollTimestamp.SetToCurrentTime()

	watermark, err := s.watermark.Current(ctx)
	if err != nil {
		logrus.Warnf("Failed to read watermark for status: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastPoll = time.Now()
	s.status.LastPollDuration = time.Since(start).String()
	s.status.LastPollMentions = ingested
	if err == nil {
		s.status.Watermark = watermark
	}
	if result == "ok" {
		s.status.TotalIngested += ingested
	} else {
		s.status.ErrorCount++
	}
}

func (s *Service) markSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSnapshot = time.Now()
}

// GetStatus returns current status as JSON
func (s *Service) GetStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.status, "", "  ")
	return string(data)
}

func reverseMentions(mentions []models.Mention) []models.Mention {
	reversed := make([]models.Mention, len(mentions))
	for i, m := range mentions {
		reversed[len(mentions)-1-i] = m
	}
	return reversed
}
