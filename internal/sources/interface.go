package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pnp-exchange/mentions-bot/internal/models"
)

var (
	// ErrRateLimited is returned when the API answers 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRequest is returned when the API answers 400, most often
	// because start_time lies outside the recent-search lookback.
	ErrInvalidRequest = errors.New("invalid request")
)

// SearchClient is the capability the orchestrator needs from the platform.
type SearchClient interface {
	Search(ctx context.Context, req SearchRequest) (*SearchPage, error)
}

// SearchRequest describes one page of a recent search.
type SearchRequest struct {
	Query      string
	StartTime  *time.Time
	EndTime    *time.Time
	SinceID    string
	MaxResults int
	NextToken  string
}

// SearchPage is one page of results, newest first.
type SearchPage struct {
	Tweets    []Tweet
	NextToken string
}

// Tweet is the raw search result. Only attributes the bot consumes are modelled.
type Tweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	AuthorID         string            `json:"author_id"`
	CreatedAt        string            `json:"created_at"`
	ConversationID   string            `json:"conversation_id"`
	Lang             string            `json:"lang"`
	InReplyToUserID  string            `json:"in_reply_to_user_id"`
	PublicMetrics    json.RawMessage   `json:"public_metrics"`
	Entities         *TweetEntities    `json:"entities"`
	ReferencedTweets []ReferencedTweet `json:"referenced_tweets"`
}

// TweetEntities holds the structured link metadata of a tweet.
type TweetEntities struct {
	URLs []models.URLEntity `json:"urls"`
}

// ReferencedTweet links a tweet to the one it retweets, quotes or replies to.
type ReferencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// URLs returns the tweet's link entities or nil.
func (t Tweet) URLs() []models.URLEntity {
	if t.Entities == nil {
		return nil
	}
	return t.Entities.URLs
}

// APIError carries a non-200 response from the search API.
type APIError struct {
	StatusCode int
	Body       string
	ResetAt    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter API returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps status codes onto the sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 429:
		return ErrRateLimited
	case 400:
		return ErrInvalidRequest
	default:
		return nil
	}
}
