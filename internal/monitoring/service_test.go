package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/pnp-exchange/mentions-bot/internal/notifications"
	"github.com/pnp-exchange/mentions-bot/internal/sources"
	"github.com/pnp-exchange/mentions-bot/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSearchClient is a mock implementation of the search capability
type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) Search(ctx context.Context, req sources.SearchRequest) (*sources.SearchPage, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*sources.SearchPage)
	return page, args.Error(1)
}

// MockSink is a mock implementation of the persistence sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Append(ctx context.Context, mentions []models.Mention, opts storage.AppendOptions) error {
	args := m.Called(ctx, mentions, opts)
	return args.Error(0)
}

func (m *MockSink) WriteSnapshot(ctx context.Context, doc *models.OutputDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) NotifyMentions(account string, mentions []models.Mention) error {
	args := m.Called(account, mentions)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		TargetAccount:  "pnpexchange",
		MaxSearchPages: 5,
	}
}

func newTestService(client sources.SearchClient, sink storage.Sink, watermark Watermark, notifier *MockNotificationService) *Service {
	var n notifications.NotificationInterface
	if notifier != nil {
		n = notifier
	}
	return NewService(testConfig(), client, sink, watermark, n, NewMetrics(prometheus.NewRegistry()))
}

func linkedTweet(id, marketID string) sources.Tweet {
	return sources.Tweet{
		ID:   id,
		Text: "@pnpexchange look https://t.co/abc",
		Entities: &sources.TweetEntities{URLs: []models.URLEntity{
			{URL: "https://t.co/abc", ExpandedURL: "https://pnp.exchange/" + marketID, DisplayURL: "pnp.exchange/" + marketID},
		}},
	}
}

func plainTweet(id string) sources.Tweet {
	return sources.Tweet{ID: id, Text: "@pnpexchange gm"}
}

func byToken(token string) interface{} {
	return mock.MatchedBy(func(req sources.SearchRequest) bool { return req.NextToken == token })
}

func mentionIDs(mentions []models.Mention) []string {
	var out []string
	for _, m := range mentions {
		out = append(out, m.ID)
	}
	return out
}

func TestToMention(t *testing.T) {
	tests := []struct {
		name     string
		tweet    sources.Tweet
		ok       bool
		linkedID string
	}{
		{
			name: "display url only",
			tweet: sources.Tweet{ID: "1", Text: "gm @pnpexchange", Entities: &sources.TweetEntities{
				URLs: []models.URLEntity{{DisplayURL: "pnp.exchange/M1"}},
			}},
			ok:       true,
			linkedID: "M1",
		},
		{
			name:     "expanded url wins",
			tweet:    linkedTweet("2", "Abc123-Def"),
			ok:       true,
			linkedID: "Abc123-Def",
		},
		{
			name: "expanded form preferred over display form",
			tweet: sources.Tweet{ID: "3", Text: "x", Entities: &sources.TweetEntities{
				URLs: []models.URLEntity{{ExpandedURL: "https://example.com/a", DisplayURL: "pnp.exchange/M1"}},
			}},
			ok: false,
		},
		{
			name:  "text only",
			tweet: sources.Tweet{ID: "4", Text: "bet on pnp.exchange/xyz"},
			ok:    true,
		},
		{
			name: "unrelated link",
			tweet: sources.Tweet{ID: "5", Text: "hello", Entities: &sources.TweetEntities{
				URLs: []models.URLEntity{{ExpandedURL: "https://example.com/a"}},
			}},
			ok: false,
		},
		{
			name:  "no links",
			tweet: plainTweet("6"),
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mention, ok := toMention(tt.tweet)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.tweet.ID, mention.ID)
			assert.True(t, mention.IsMention)
			assert.Equal(t, models.SourceTwitter, mention.Source)
			assert.Equal(t, tt.linkedID, mention.LinkedIDValue())
		})
	}
}

func TestToMention_AugmentsOnlyMatchingEntities(t *testing.T) {
	tweet := sources.Tweet{ID: "1", Text: "two links", Entities: &sources.TweetEntities{
		URLs: []models.URLEntity{
			{ExpandedURL: "https://example.com/a"},
			{ExpandedURL: "https://www.pnp.exchange/M2?ref=1"},
		},
	}}

	mention, ok := toMention(tweet)
	require.True(t, ok)
	require.Len(t, mention.URLs, 2)
	assert.Equal(t, "", mention.URLs[0].LinkedID)
	assert.Equal(t, "M2", mention.URLs[1].LinkedID)
	assert.Equal(t, "M2", mention.LinkedIDValue())
	assert.Equal(t, "", tweet.Entities.URLs[1].LinkedID, "raw entities are not modified")
}

func TestService_SearchPagesAndTracksMaxSeen(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, byToken("")).Return(&sources.SearchPage{
		Tweets:    []sources.Tweet{plainTweet("1000"), linkedTweet("999", "A")},
		NextToken: "p2",
	}, nil).Once()
	client.On("Search", mock.Anything, byToken("p2")).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{linkedTweet("998", "B")},
	}, nil).Once()

	service := newTestService(client, &MockSink{}, NewMemoryWatermark(), nil)
	result := service.Search(context.Background(), SearchOptions{Account: "pnpexchange"})

	assert.Equal(t, []string{"999", "998"}, mentionIDs(result.Mentions))
	assert.Equal(t, "1000", result.MaxSeenID)
	assert.Equal(t, 3, result.Seen)
	client.AssertExpectations(t)
}

func TestService_SearchStopsAtPageCap(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
		Tweets:    []sources.Tweet{plainTweet("5")},
		NextToken: "more",
	}, nil)

	service := newTestService(client, &MockSink{}, NewMemoryWatermark(), nil)
	service.Search(context.Background(), SearchOptions{Account: "pnpexchange"})

	client.AssertNumberOfCalls(t, "Search", 5)
}

func TestService_SearchRateLimitedMidPage(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, byToken("")).Return(&sources.SearchPage{
		Tweets:    []sources.Tweet{linkedTweet("200", "A")},
		NextToken: "p2",
	}, nil)
	client.On("Search", mock.Anything, byToken("p2")).Return(nil, &sources.APIError{StatusCode: 429})

	sink := &MockSink{}
	watermark := NewMemoryWatermark()
	_, err := watermark.Advance(context.Background(), "150")
	require.NoError(t, err)

	service := newTestService(client, sink, watermark, nil)
	result := service.Search(context.Background(), SearchOptions{Account: "pnpexchange", SinceID: "150"})

	assert.Empty(t, result.Mentions)
	assert.Equal(t, "", result.MaxSeenID)
	assert.Equal(t, 1.0, testutil.ToFloat64(service.metrics.SearchFailuresTotal.WithLabelValues("rate_limited")))

	require.NoError(t, service.RunPoll(context.Background()))
	current, _ := watermark.Current(context.Background())
	assert.Equal(t, "150", current)
	sink.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SearchFailureCategories(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"invalid request", &sources.APIError{StatusCode: 400}, "invalid_request"},
		{"server error", &sources.APIError{StatusCode: 503}, "other"},
		{"transport", errors.New("connection reset"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockSearchClient{}
			client.On("Search", mock.Anything, mock.Anything).Return(nil, tt.err)

			service := newTestService(client, &MockSink{}, NewMemoryWatermark(), nil)
			result := service.Search(context.Background(), SearchOptions{Account: "pnpexchange"})

			assert.NotNil(t, result.Mentions)
			assert.Empty(t, result.Mentions)
			assert.Equal(t, 1.0, testutil.ToFloat64(service.metrics.SearchFailuresTotal.WithLabelValues(tt.reason)))
		})
	}
}

func TestService_RunPollPersistsChronologicallyAndAdvances(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.MatchedBy(func(req sources.SearchRequest) bool {
		return req.SinceID == "" && req.Query == "@pnpexchange -is:retweet"
	})).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{plainTweet("1003"), linkedTweet("1002", "B"), linkedTweet("1001", "A")},
	}, nil).Once()

	sink := &MockSink{}
	sink.On("Append", mock.Anything, mock.MatchedBy(func(ms []models.Mention) bool {
		return assert.ObjectsAreEqual([]string{"1001", "1002"}, mentionIDs(ms))
	}), mock.MatchedBy(func(opts storage.AppendOptions) bool {
		return opts.Account != nil && *opts.Account == "pnpexchange" && opts.Last7Days == nil
	})).Return(nil).Once()

	notifier := &MockNotificationService{}
	notifier.On("NotifyMentions", "pnpexchange", mock.Anything).Return(nil).Once()

	watermark := NewMemoryWatermark()
	service := newTestService(client, sink, watermark, notifier)

	require.NoError(t, service.RunPoll(ctx))

	current, _ := watermark.Current(ctx)
	assert.Equal(t, "1003", current)
	assert.Equal(t, 2.0, testutil.ToFloat64(service.metrics.MentionsIngestedTotal))
	sink.AssertExpectations(t)
	notifier.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestService_RunPollAdvancesWithoutQualifyingMentions(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{plainTweet("500")},
	}, nil).Once()

	sink := &MockSink{}
	watermark := NewMemoryWatermark()
	service := newTestService(client, sink, watermark, nil)

	require.NoError(t, service.RunPoll(ctx))

	current, _ := watermark.Current(ctx)
	assert.Equal(t, "500", current)
	sink.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunPollWatermarkNeverRegresses(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.MatchedBy(func(req sources.SearchRequest) bool { return req.SinceID == "" })).
		Return(&sources.SearchPage{Tweets: []sources.Tweet{plainTweet("100")}}, nil).Once()
	client.On("Search", mock.Anything, mock.MatchedBy(func(req sources.SearchRequest) bool { return req.SinceID == "100" })).
		Return(&sources.SearchPage{Tweets: []sources.Tweet{plainTweet("99")}}, nil).Once()

	watermark := NewMemoryWatermark()
	service := newTestService(client, &MockSink{}, watermark, nil)

	require.NoError(t, service.RunPoll(ctx))
	require.NoError(t, service.RunPoll(ctx))

	current, _ := watermark.Current(ctx)
	assert.Equal(t, "100", current)
	client.AssertExpectations(t)
}

func TestService_RunPollSinkFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{linkedTweet("300", "A")},
	}, nil).Once()

	sink := &MockSink{}
	sink.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	watermark := NewMemoryWatermark()
	_, _ = watermark.Advance(ctx, "250")
	service := newTestService(client, sink, watermark, nil)

	err := service.RunPoll(ctx)
	assert.ErrorContains(t, err, "disk full")

	current, _ := watermark.Current(ctx)
	assert.Equal(t, "250", current)
}

func TestService_RunPollNotificationFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{linkedTweet("300", "A")},
	}, nil).Once()

	sink := &MockSink{}
	sink.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	notifier := &MockNotificationService{}
	notifier.On("NotifyMentions", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()

	watermark := NewMemoryWatermark()
	service := newTestService(client, sink, watermark, notifier)

	require.NoError(t, service.RunPoll(ctx))
	current, _ := watermark.Current(ctx)
	assert.Equal(t, "300", current)
}

func TestService_Prime(t *testing.T) {
	ctx := context.Background()
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.MatchedBy(func(req sources.SearchRequest) bool {
		return req.MaxResults == sources.MinResults && req.StartTime == nil && req.SinceID == ""
	})).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{plainTweet("777"), plainTweet("776")},
	}, nil).Once()

	watermark := NewMemoryWatermark()
	service := newTestService(client, &MockSink{}, watermark, nil)

	id, ok := service.Prime(ctx)
	assert.True(t, ok)
	assert.Equal(t, "777", id)
	current, _ := watermark.Current(ctx)
	assert.Equal(t, "777", current)
	assert.Contains(t, service.GetStatus(), `"primed": true`)
}

func TestService_PrimeFailures(t *testing.T) {
	tests := []struct {
		name string
		page *sources.SearchPage
		err  error
	}{
		{"search error", nil, &sources.APIError{StatusCode: 401}},
		{"no results", &sources.SearchPage{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockSearchClient{}
			client.On("Search", mock.Anything, mock.Anything).Return(tt.page, tt.err).Once()

			watermark := NewMemoryWatermark()
			service := newTestService(client, &MockSink{}, watermark, nil)

			id, ok := service.Prime(context.Background())
			assert.False(t, ok)
			assert.Equal(t, "", id)
			current, _ := watermark.Current(context.Background())
			assert.Equal(t, "", current)
		})
	}
}

func TestService_Backfill(t *testing.T) {
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.MatchedBy(func(req sources.SearchRequest) bool {
		return req.Query == "@pnpexchange -is:retweet has:links" &&
			req.StartTime != nil &&
			req.StartTime.After(fixed.Add(-BackfillWindow)) &&
			req.SinceID == ""
	})).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{linkedTweet("20", "B"), plainTweet("19"), linkedTweet("18", "A")},
	}, nil).Once()

	service := newTestService(client, &MockSink{}, NewMemoryWatermark(), nil)
	service.now = func() time.Time { return fixed }

	doc, err := service.Backfill(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"20", "18"}, mentionIDs(doc.Tweets))
	assert.Equal(t, 2, doc.Metadata.Count)
	assert.True(t, doc.Metadata.QueryParameters.Last7Days)
	assert.Equal(t, "pnpexchange", doc.Metadata.QueryParameters.TargetAccount)
	require.NotNil(t, doc.Metadata.QueryParameters.StartDate)
	assert.Nil(t, doc.Metadata.QueryParameters.EndDate)
	client.AssertExpectations(t)
}

func TestService_BackfillDoesNotMoveWatermark(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
		Tweets: []sources.Tweet{linkedTweet("900", "A")},
	}, nil).Once()

	watermark := NewMemoryWatermark()
	service := newTestService(client, &MockSink{}, watermark, nil)

	_, err := service.Backfill(context.Background())
	require.NoError(t, err)
	current, _ := watermark.Current(context.Background())
	assert.Equal(t, "", current)
}

func TestService_FetchRecentMentions(t *testing.T) {
	t.Run("save writes snapshot", func(t *testing.T) {
		client := &MockSearchClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
			Tweets: []sources.Tweet{linkedTweet("20", "B")},
		}, nil).Once()
		sink := &MockSink{}
		sink.On("WriteSnapshot", mock.Anything, mock.MatchedBy(func(doc *models.OutputDocument) bool {
			return doc.Metadata.Count == 1
		})).Return(nil).Once()

		service := newTestService(client, sink, NewMemoryWatermark(), nil)
		doc := service.FetchRecentMentions(context.Background(), true)

		assert.Equal(t, 1, doc.Metadata.Count)
		sink.AssertExpectations(t)
	})

	t.Run("no save", func(t *testing.T) {
		client := &MockSearchClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{}, nil).Once()
		sink := &MockSink{}

		service := newTestService(client, sink, NewMemoryWatermark(), nil)
		doc := service.FetchRecentMentions(context.Background(), false)

		assert.Equal(t, 0, doc.Metadata.Count)
		assert.NotNil(t, doc.Tweets)
		sink.AssertNotCalled(t, "WriteSnapshot", mock.Anything, mock.Anything)
	})

	t.Run("failed search degrades to empty document", func(t *testing.T) {
		client := &MockSearchClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(nil, &sources.APIError{StatusCode: 400}).Once()
		sink := &MockSink{}

		service := newTestService(client, sink, NewMemoryWatermark(), nil)
		doc := service.FetchRecentMentions(context.Background(), true)

		assert.Equal(t, 0, doc.Metadata.Count)
		assert.Empty(t, doc.Tweets)
		sink.AssertNotCalled(t, "WriteSnapshot", mock.Anything, mock.Anything)
	})
}

func TestService_RunSnapshot(t *testing.T) {
	t.Run("writes snapshot", func(t *testing.T) {
		client := &MockSearchClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(&sources.SearchPage{
			Tweets: []sources.Tweet{linkedTweet("20", "B")},
		}, nil).Once()
		sink := &MockSink{}
		sink.On("WriteSnapshot", mock.Anything, mock.Anything).Return(nil).Once()

		service := newTestService(client, sink, NewMemoryWatermark(), nil)
		require.NoError(t, service.RunSnapshot(context.Background()))
		sink.AssertExpectations(t)
	})

	t.Run("search failure keeps previous snapshot", func(t *testing.T) {
		client := &MockSearchClient{}
		client.On("Search", mock.Anything, mock.Anything).Return(nil, &sources.APIError{StatusCode: 429}).Once()
		sink := &MockSink{}

		service := newTestService(client, sink, NewMemoryWatermark(), nil)
		assert.ErrorIs(t, service.RunSnapshot(context.Background()), sources.ErrRateLimited)
		sink.AssertNotCalled(t, "WriteSnapshot", mock.Anything, mock.Anything)
	})
}

type pollCtxKey struct{}

// recordingWatermark wraps MemoryWatermark, records the contexts it is read
// with and can fail every read after the first.
type recordingWatermark struct {
	*MemoryWatermark
	ctxs           []context.Context
	failAfterFirst bool
}

func (w *recordingWatermark) Current(ctx context.Context) (string, error) {
	w.ctxs = append(w.ctxs, ctx)
	if w.failAfterFirst && len(w.ctxs) > 1 {
		return "", errors.New("redis: i/o timeout")
	}
	return w.MemoryWatermark.Current(ctx)
}

func TestService_RunPollReadsWatermarkWithCycleContext(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).
		Return(&sources.SearchPage{Tweets: []sources.Tweet{plainTweet("150")}}, nil)
	watermark := &recordingWatermark{MemoryWatermark: NewMemoryWatermark()}
	service := newTestService(client, &MockSink{}, watermark, nil)

	ctx := context.WithValue(context.Background(), pollCtxKey{}, "cycle")
	require.NoError(t, service.RunPoll(ctx))

	require.Len(t, watermark.ctxs, 2)
	for _, got := range watermark.ctxs {
		assert.Equal(t, "cycle", got.Value(pollCtxKey{}))
	}
}

func TestService_RunPollStatusKeepsWatermarkOnReadFailure(t *testing.T) {
	client := &MockSearchClient{}
	client.On("Search", mock.Anything, mock.Anything).
		Return(&sources.SearchPage{Tweets: []sources.Tweet{plainTweet("150")}}, nil)
	watermark := &recordingWatermark{MemoryWatermark: NewMemoryWatermark(), failAfterFirst: true}
	service := newTestService(client, &MockSink{}, watermark, nil)

	require.NoError(t, service.RunPoll(context.Background()))

	var status Status
	require.NoError(t, json.Unmarshal([]byte(service.GetStatus()), &status))
	assert.Equal(t, "", status.Watermark)
	assert.Equal(t, 0, status.ErrorCount)

	current, err := watermark.MemoryWatermark.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "150", current)
}
