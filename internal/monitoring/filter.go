package monitoring

import (
	"github.com/pnp-exchange/mentions-bot/internal/links"
	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/pnp-exchange/mentions-bot/internal/sources"
)

// toMention turns a raw search result into a Mention when it links into the
// exchange through a link entity or its text. Entities whose URL carries an
// exchange identifier get LinkedID set; the others pass through unchanged.
func toMention(tweet sources.Tweet) (models.Mention, bool) {
	raw := tweet.URLs()
	entities := make([]models.URLEntity, len(raw))
	copy(entities, raw)

	var linkedID *string
	for i := range entities {
		id, ok := links.ExtractID(links.ResolveURL(entities[i]))
		if !ok {
			continue
		}
		entities[i].LinkedID = id
		if linkedID == nil {
			linked := id
			linkedID = &linked
		}
	}

	if linkedID == nil && !links.MatchesText(tweet.Text) {
		return models.Mention{}, false
	}

	return models.Mention{
		ID:              tweet.ID,
		Text:            tweet.Text,
		CreatedAt:       tweet.CreatedAt,
		AuthorID:        tweet.AuthorID,
		ConversationID:  tweet.ConversationID,
		PublicMetrics:   tweet.PublicMetrics,
		URLs:            entities,
		LinkedID:        linkedID,
		Lang:            tweet.Lang,
		Source:          models.SourceTwitter,
		InReplyToUserID: tweet.InReplyToUserID,
		IsMention:       true,
	}, true
}
