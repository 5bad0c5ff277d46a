package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"medtrack/internal/external"
	"medtrack/internal/types"
)

// Poster implements types.Webhook over the shared resilient HTTP client.
type Poster struct {
	client   *external.BaseClient
	registry *PlatformRegistry
	signer   *Signer
	clock    types.Clock
}

// NewPoster creates a Poster. signer may be nil.
func NewPoster(client *external.BaseClient, registry *PlatformRegistry, signer *Signer, clock types.Clock) *Poster {
	return &Poster{client: client, registry: registry, signer: signer, clock: clock}
}

// Post sends payload as JSON to url. Failures carry delivery error codes.
func (p *Poster) Post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewPermanentDeliveryError("webhook payload is not serializable", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewPermanentDeliveryError("invalid webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	formatter := p.registry.For(url)
	if p.signer != nil && formatter.Platform() == PlatformGeneric {
		req.Header.Set(SignatureHeader, p.signer.Sign(body, p.clock.Now()))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.NewTransientDeliveryError("webhook unavailable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if verr := formatter.ValidateResponse(resp.StatusCode, raw); verr != nil {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return types.NewPermanentDeliveryError(fmt.Sprintf("webhook rejected alert (%d)", resp.StatusCode), verr)
		}
		return types.NewTransientDeliveryError("webhook soft failure", verr)
	}
	return nil
}

// Notifier formats alerts for one destination and posts them.
type Notifier struct {
	hook     types.Webhook
	registry *PlatformRegistry
	url      string
}

// NewNotifier creates a Notifier. An empty url yields a disabled Notifier.
func NewNotifier(hook types.Webhook, registry *PlatformRegistry, url string) *Notifier {
	return &Notifier{hook: hook, registry: registry, url: url}
}

// Enabled reports whether a destination is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Send posts a, retrying once immediately on failure.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	payload, err := toMap(n.registry.For(n.url).Format(a))
	if err != nil {
		return types.NewPermanentDeliveryError("alert payload is not serializable", err)
	}
	if err = n.hook.Post(ctx, n.url, payload); err == nil || ctx.Err() != nil {
		return err
	}
	return n.hook.Post(ctx, n.url, payload)
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
