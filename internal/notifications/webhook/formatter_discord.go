package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"medtrack/internal/types"
)

// Discord embed colours (decimal).
const (
	colorCritical   = 15158332 // Red
	colorHigh       = 15105570 // Orange
	colorMedium     = 16776960 // Yellow
	colorLow        = 3447003  // Blue
	colorDeadLetter = 10181046 // Purple
)

// DiscordFormatter formats alerts as Discord webhook JSON with one embed.
type DiscordFormatter struct{}

// Platform returns the platform identifier.
func (f *DiscordFormatter) Platform() Platform {
	return PlatformDiscord
}

// Format transforms an Alert into a DiscordPayload.
func (f *DiscordFormatter) Format(a Alert) any {
	fields := make([]DiscordField, 0, len(a.Fields))
	for _, fl := range a.Fields {
		fields = append(fields, DiscordField{Name: fl.Name, Value: orDash(fl.Value), Inline: fl.Inline})
	}

	embed := DiscordEmbed{
		Title:       a.Title,
		Description: a.Description,
		Color:       alertColor(a),
		Fields:      fields,
	}
	if a.Footer != "" {
		embed.Footer = &DiscordFooter{Text: a.Footer}
	}
	if !a.At.IsZero() {
		embed.Timestamp = a.At.UTC().Format(time.RFC3339)
	}

	return DiscordPayload{
		Username: "Medtrack Alerts",
		Embeds:   []DiscordEmbed{embed},
	}
}

// ValidateResponse checks the Discord webhook response. Discord returns 204
// No Content on success for webhook messages.
func (f *DiscordFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err == nil {
		if msg, ok := resp["message"].(string); ok {
			return fmt.Errorf("discord: API error: %s", msg)
		}
	}
	return fmt.Errorf("discord: unexpected status %d: %s", statusCode, truncateBody(body))
}

func alertColor(a Alert) int {
	if a.Kind == KindDeadLetter {
		return colorDeadLetter
	}
	switch a.Severity {
	case types.SeverityCritical:
		return colorCritical
	case types.SeverityHigh:
		return colorHigh
	case types.SeverityMedium:
		return colorMedium
	default:
		return colorLow
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateBody shortens a response body for error messages.
func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
