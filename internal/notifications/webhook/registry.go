package webhook

import (
	"net/url"
	"strings"
)

// hostRule matches a webhook URL to a platform by host suffix and path prefix.
type hostRule struct {
	hostSuffix string
	pathPrefix string
	platform   Platform
}

var detectionRules = []hostRule{
	{hostSuffix: "hooks.slack.com", platform: PlatformSlack},
	{hostSuffix: "discord.com", pathPrefix: "/api/webhooks", platform: PlatformDiscord},
	{hostSuffix: "discordapp.com", pathPrefix: "/api/webhooks", platform: PlatformDiscord},
}

// PlatformRegistry picks the alert formatter for a webhook URL.
type PlatformRegistry struct {
	formatters map[Platform]PlatformFormatter
}

// NewPlatformRegistry registers the Slack, Discord and generic formatters.
func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{formatters: map[Platform]PlatformFormatter{
		PlatformSlack:   &SlackFormatter{},
		PlatformDiscord: &DiscordFormatter{},
		PlatformGeneric: &GenericFormatter{},
	}}
}

// Detect returns the platform serving rawURL. Unparseable or unknown URLs
// are generic.
func (r *PlatformRegistry) Detect(rawURL string) Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return PlatformGeneric
	}
	host := strings.ToLower(u.Hostname())
	for _, rule := range detectionRules {
		if host != rule.hostSuffix && !strings.HasSuffix(host, "."+rule.hostSuffix) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(u.Path), rule.pathPrefix) {
			return rule.platform
		}
	}
	return PlatformGeneric
}

// For returns the formatter for rawURL.
func (r *PlatformRegistry) For(rawURL string) PlatformFormatter {
	if f, ok := r.formatters[r.Detect(rawURL)]; ok {
		return f
	}
	return r.formatters[PlatformGeneric]
}
