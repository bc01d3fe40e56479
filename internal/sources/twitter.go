package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the X/Twitter v2 API root.
	DefaultBaseURL = "https://api.twitter.com"

	recentSearchPath = "/2/tweets/search/recent"
	tweetFields      = "created_at,author_id,conversation_id,public_metrics,entities,lang,in_reply_to_user_id,referenced_tweets"

	// MinResults and MaxResults bound max_results on recent search.
	MinResults = 10
	MaxResults = 100
)

// TwitterClient implements SearchClient against the v2 recent search endpoint
type TwitterClient struct {
	bearerToken string
	client      *resty.Client
}

type twitterSearchResponse struct {
	Data []Tweet `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// NewTwitterClient creates a client authenticated with an app bearer token.
func NewTwitterClient(bearerToken string) *TwitterClient {
	return NewTwitterClientWithBaseURL(bearerToken, DefaultBaseURL)
}

// NewTwitterClientWithBaseURL points the client at another API root.
func NewTwitterClientWithBaseURL(bearerToken, baseURL string) *TwitterClient {
	return &TwitterClient{
		bearerToken: bearerToken,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "PNP-Mentions-Bot/1.0"),
	}
}

func (t *TwitterClient) IsEnabled() bool {
	return t.bearerToken != ""
}

// Search fetches a single page of results.
func (t *TwitterClient) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	if !t.IsEnabled() {
		return nil, fmt.Errorf("twitter bearer token is not configured")
	}

	params := map[string]string{
		"query":        req.Query,
		"max_results":  strconv.Itoa(clampResults(req.MaxResults)),
		"tweet.fields": tweetFields,
	}
	if req.StartTime != nil {
		params["start_time"] = req.StartTime.UTC().Format(time.RFC3339)
	}
	if req.EndTime != nil {
		params["end_time"] = req.EndTime.UTC().Format(time.RFC3339)
	}
	if req.SinceID != "" {
		params["since_id"] = req.SinceID
	}
	if req.NextToken != "" {
		params["next_token"] = req.NextToken
	}

	logrus.Debugf("Twitter recent search: %v", params)

	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.bearerToken).
		SetQueryParams(params).
		Get(recentSearchPath)
	if err != nil {
		return nil, fmt.Errorf("twitter search request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
			ResetAt:    resp.Header().Get("x-rate-limit-reset"),
		}
	}

	var searchResp twitterSearchResponse
	if err := json.Unmarshal(resp.Body(), &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse Twitter response: %w", err)
	}

	return &SearchPage{
		Tweets:    searchResp.Data,
		NextToken: searchResp.Meta.NextToken,
	}, nil
}

// BuildMentionQuery builds the recent-search query for an account. Retweets
// are always excluded; requireLinks adds has:links.
func BuildMentionQuery(account string, requireLinks bool) string {
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	query := fmt.Sprintf("@%s -is:retweet", account)
	if requireLinks {
		query += " has:links"
	}
	return query
}

// IsRetweet reports whether the tweet is a plain re-share.
func IsRetweet(tweet Tweet) bool {
	for _, ref := range tweet.ReferencedTweets {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}

func clampResults(n int) int {
	switch {
	case n <= 0:
		return MaxResults
	case n < MinResults:
		return MinResults
	case n > MaxResults:
		return MaxResults
	default:
		return n
	}
}
