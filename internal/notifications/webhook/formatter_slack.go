package webhook

import (
	"fmt"
	"strings"
)

// maxSlackFields is the Block Kit limit of fields per section.
const maxSlackFields = 10

// SlackFormatter formats alerts as Slack Block Kit JSON.
type SlackFormatter struct{}

// Platform returns the platform identifier.
func (f *SlackFormatter) Platform() Platform {
	return PlatformSlack
}

// Format transforms an Alert into a SlackPayload.
func (f *SlackFormatter) Format(a Alert) any {
	payload := SlackPayload{
		Text: fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: a.Title}},
		},
	}
	if a.Description != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: a.Description},
		})
	}

	// Block Kit caps a section at ten fields; overflow goes into further sections.
	for start := 0; start < len(a.Fields); start += maxSlackFields {
		end := min(start+maxSlackFields, len(a.Fields))
		var texts []*SlackText
		for _, fl := range a.Fields[start:end] {
			texts = append(texts, &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", fl.Name, orDash(fl.Value))})
		}
		payload.Blocks = append(payload.Blocks, SlackBlock{Type: "section", Fields: texts})
	}

	if a.Footer != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type:     "context",
			Elements: []*SlackText{{Type: "mrkdwn", Text: a.Footer}},
		})
	}
	return payload
}

// ValidateResponse catches Slack's soft failures: a 200 whose body is not "ok".
func (f *SlackFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d: %s", statusCode, truncateBody(body))
	}
	if b := strings.TrimSpace(string(body)); b != "" && b != "ok" {
		return fmt.Errorf("slack: webhook rejected message: %s", truncateBody(body))
	}
	return nil
}
