package webhook

import (
	"time"

	"medtrack/internal/types"
)

// Platform identifies a webhook destination platform.
type Platform string

const (
	// PlatformGeneric is the default platform for unknown webhook URLs.
	PlatformGeneric Platform = "generic"

	// PlatformSlack represents Slack incoming webhooks.
	PlatformSlack Platform = "slack"

	// PlatformDiscord represents Discord webhook endpoints.
	PlatformDiscord Platform = "discord"
)

// AlertKind separates dead-letter alerts from server-error alerts; they are
// rendered with different colours.
type AlertKind string

const (
	KindDeadLetter  AlertKind = "dead_letter"
	KindServerError AlertKind = "server_error"
)

// Alert is the platform-neutral operator alert.
type Alert struct {
	Kind        AlertKind
	Title       string
	Description string
	Severity    types.Severity
	Fields      []Field
	Footer      string
	At          time.Time
}

// Field is one labelled value shown in an alert.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// PlatformFormatter transforms an Alert into a platform-specific payload.
type PlatformFormatter interface {
	Format(a Alert) any

	// Platform returns the enum identifier for metrics.
	Platform() Platform

	// ValidateResponse interprets the HTTP response body to catch "soft failures"
	// (e.g., Slack returning HTTP 200 with a non-"ok" body).
	ValidateResponse(statusCode int, body []byte) error
}

// --- Slack Payload Types (Block Kit) ---

// SlackPayload is the top-level structure for Slack Block Kit messages.
type SlackPayload struct {
	Text   string       `json:"text"`   // Fallback text for push notifications
	Blocks []SlackBlock `json:"blocks"` // Rich layout
}

// SlackBlock represents a single block in a Slack Block Kit message.
type SlackBlock struct {
	Type     string       `json:"type"`
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []*SlackText `json:"fields,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

// SlackText is a text composition object for Slack Block Kit.
type SlackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// --- Discord Payload Types (Embeds) ---

// DiscordPayload is the top-level structure for Discord webhook messages.
type DiscordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents an embed in a Discord webhook message.
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"` // Decimal color code
	Fields      []DiscordField `json:"fields"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// DiscordField is a field within a Discord embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter is the footer of a Discord embed.
type DiscordFooter struct {
	Text string `json:"text"`
}

// --- Generic Payload ---

// GenericPayload is the stable envelope for endpoints of unknown platforms.
type GenericPayload struct {
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Severity    string            `json:"severity"`
	Fields      map[string]string `json:"fields"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
