package models

import (
	"encoding/json"
	"time"
)

// SourceTwitter labels mentions fetched from the X/Twitter recent search API.
const SourceTwitter = "twitter"

// URLEntity is one link descriptor attached to a post by the platform.
type URLEntity struct {
	Start       int    `json:"start,omitempty"`
	End         int    `json:"end,omitempty"`
	URL         string `json:"url,omitempty"`          // canonical (t.co) form
	ExpandedURL string `json:"expanded_url,omitempty"` // fully expanded form
	DisplayURL  string `json:"display_url,omitempty"`  // truncated display form, usually without scheme
	LinkedID    string `json:"linked_id,omitempty"`    // set when the link points into the exchange
}

// Mention is a qualifying post that referenced the target account and linked into the exchange.
type Mention struct {
	ID              string          `json:"id"`
	Text            string          `json:"text"`
	CreatedAt       string          `json:"created_at"`
	AuthorID        string          `json:"author_id"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	PublicMetrics   json.RawMessage `json:"public_metrics,omitempty"` // passed through untouched
	URLs            []URLEntity     `json:"urls"`
	LinkedID        *string         `json:"linked_id"`
	Lang            string          `json:"lang,omitempty"`
	Source          string          `json:"source"`
	InReplyToUserID string          `json:"in_reply_to_user_id,omitempty"`
	IsMention       bool            `json:"is_mention"`
}

// LinkedIDValue returns the derived identifier or "" when the mention has none.
func (m Mention) LinkedIDValue() string {
	if m.LinkedID == nil {
		return ""
	}
	return *m.LinkedID
}

// QueryParameters echoes the parameters a document was generated with.
type QueryParameters struct {
	TargetAccount string  `json:"target_account"`
	StartDate     *string `json:"start_date"`
	EndDate       *string `json:"end_date"`
	Last7Days     bool    `json:"last_7_days"`
}

// Metadata describes the mentions held by an OutputDocument.
type Metadata struct {
	Count           int             `json:"count"`
	GeneratedAt     time.Time       `json:"generated_at"`
	QueryParameters QueryParameters `json:"query_parameters"`
}

// OutputDocument is the JSON document written by the file sink and returned by the backfill endpoint.
type OutputDocument struct {
	Metadata Metadata  `json:"metadata"`
	Tweets   []Mention `json:"tweets"`
}

// NewOutputDocument builds a document whose count matches its mentions.
func NewOutputDocument(mentions []Mention, params QueryParameters) *OutputDocument {
	if mentions == nil {
		mentions = []Mention{}
	}
	return &OutputDocument{
		Metadata: Metadata{
			Count:           len(mentions),
			GeneratedAt:     time.Now().UTC(),
			QueryParameters: params,
		},
		Tweets: mentions,
	}
}

// StoredRow is one mention persisted in the relational store.
type StoredRow struct {
	ID         int64           `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	LinkedID   *string         `json:"linked_id"`
	InsertedAt time.Time       `json:"inserted_at"`
}
