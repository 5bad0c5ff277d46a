package webhook

import "fmt"

// GenericFormatter emits the stable GenericPayload envelope for webhook URLs
// that do not match a known platform.
type GenericFormatter struct{}

// Platform returns the platform identifier.
func (f *GenericFormatter) Platform() Platform {
	return PlatformGeneric
}

// Format transforms an Alert into a GenericPayload.
func (f *GenericFormatter) Format(a Alert) any {
	fields := make(map[string]string, len(a.Fields))
	for _, fl := range a.Fields {
		fields[fl.Name] = fl.Value
	}
	return GenericPayload{
		Kind:        string(a.Kind),
		Title:       a.Title,
		Description: a.Description,
		Severity:    a.Severity.String(),
		Fields:      fields,
		OccurredAt:  a.At.UTC(),
	}
}

// ValidateResponse for generic webhooks simply checks the HTTP status code.
func (f *GenericFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("generic webhook: unexpected status %d: %s", statusCode, truncateBody(body))
}
