package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const maxListedMentions = 10

// Service sends new-mention notifications to Teams and/or email
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type     string         `json:"@type"`
	Context  string         `json:"@context"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Sections []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// IsEnabled reports whether any channel is configured.
func (s *Service) IsEnabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// NotifyMentions announces newly ingested mentions on every configured channel
func (s *Service) NotifyMentions(account string, mentions []models.Mention) error {
	if len(mentions) == 0 {
		return nil
	}

	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(account, mentions); err != nil {
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Sent %d new mentions to Teams", len(mentions))
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(account, mentions); err != nil {
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Sent %d new mentions via email", len(mentions))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// TweetURL links to a post by id.
func TweetURL(id string) string {
	return "https://x.com/i/status/" + id
}

func (s *Service) sendToTeams(account string, mentions []models.Mention) error {
	message := buildTeamsMessage(account, mentions)

	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func buildTeamsMessage(account string, mentions []models.Mention) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("New @%s mentions", account),
		Text:    fmt.Sprintf("%d new mentions linking to pnp.exchange", len(mentions)),
	}

	linked := 0
	for _, m := range mentions {
		if m.LinkedID != nil {
			linked++
		}
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts: []TeamsFact{
			{Name: "Mentions", Value: fmt.Sprintf("%d", len(mentions))},
			{Name: "With market id", Value: fmt.Sprintf("%d", linked)},
		},
		Markdown: true,
	})

	var lines []string
	for i, m := range mentions {
		if i >= maxListedMentions {
			break
		}
		line := fmt.Sprintf("**[%s](%s)**", m.ID, TweetURL(m.ID))
		if id := m.LinkedIDValue(); id != "" {
			line += " → " + id
		}
		lines = append(lines, line+" - "+truncate(m.Text, 140))
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Mentions",
		ActivityText:  strings.Join(lines, "\n\n"),
		Markdown:      true,
	})

	return message
}

func (s *Service) sendEmail(account string, mentions []models.Mention) error {
	subject := fmt.Sprintf("%d new @%s mentions", len(mentions), account)

	htmlBody, err := buildEmailHTML(account, mentions)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", buildEmailText(account, mentions))
	m.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"tweetURL": TweetURL,
	"truncate": truncate,
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>New mentions</title></head>
<body style="font-family: Arial, sans-serif;">
  <h2>{{len .Mentions}} new mentions of @{{.Account}}</h2>
  {{range $i, $m := .Mentions}}{{if lt $i 10}}
  <div style="border-left: 4px solid #0078d4; padding: 8px; margin: 8px 0;">
    <a href="{{tweetURL $m.ID}}">{{$m.ID}}</a>{{with $m.LinkedID}} &rarr; {{.}}{{end}}
    <p>{{truncate $m.Text 280}}</p>
  </div>
  {{end}}{{end}}
</body>
</html>
`))

func buildEmailHTML(account string, mentions []models.Mention) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Account  string
		Mentions []models.Mention
	}{account, mentions})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(account string, mentions []models.Mention) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%d new mentions of @%s\n\n", len(mentions), account))
	for i, m := range mentions {
		if i >= maxListedMentions {
			text.WriteString(fmt.Sprintf("... and %d more\n", len(mentions)-maxListedMentions))
			break
		}
		text.WriteString(fmt.Sprintf("%d. %s\n", i+1, TweetURL(m.ID)))
		if id := m.LinkedIDValue(); id != "" {
			text.WriteString(fmt.Sprintf("   Market: %s\n", id))
		}
		text.WriteString(fmt.Sprintf("   %s\n", truncate(m.Text, 280)))
	}

	return text.String()
}

func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length]) + "..."
}
