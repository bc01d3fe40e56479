package notifications

import "github.com/pnp-exchange/mentions-bot/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	NotifyMentions(account string, mentions []models.Mention) error
}
