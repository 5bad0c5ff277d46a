// Package push delivers notification payloads to devices through an
// FCM-style HTTP gateway.
package push

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

// Gateway error codes that mean the token will never work again.
const (
	errUnregistered    = "UNREGISTERED"
	errInvalidArgument = "INVALID_ARGUMENT"
)

// GatewaySender implements types.PushSender against the gateway's send endpoint.
type GatewaySender struct {
	client    *external.BaseClient
	endpoint  string
	serverKey types.SecretString
}

// NewGatewaySender creates a sender. The client should carry MaxRetries 0:
// retries are owned by the job log.
func NewGatewaySender(client *external.BaseClient, endpoint string, serverKey types.SecretString) *GatewaySender {
	return &GatewaySender{client: client, endpoint: endpoint, serverKey: serverKey}
}

type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token        string            `json:"token"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Send posts one message. The returned error carries a delivery error code:
// invalid token, permanent or transient.
func (s *GatewaySender) Send(ctx context.Context, deviceToken string, payload map[string]any) error {
	body, err := json.Marshal(sendRequest{Message: buildMessage(deviceToken, payload)})
	if err != nil {
		return types.NewPermanentDeliveryError("payload is not serializable", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewPermanentDeliveryError("invalid gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.serverKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+s.serverKey.Unmask())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewTransientDeliveryError("push gateway unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classify(resp)
}

func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	codes := []string{er.Error.Status}
	for _, d := range er.Error.Details {
		codes = append(codes, d.ErrorCode)
	}
	for _, c := range codes {
		if c == errUnregistered || c == errInvalidArgument {
			return types.NewAppError(types.ErrCodeDeliveryInvalidToken, "device token rejected: "+c, nil).
				WithDetails(map[string]any{"status": resp.StatusCode})
		}
	}

	msg := fmt.Sprintf("push gateway returned %d", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return types.NewAppError(types.ErrCodeDeliveryInvalidToken, msg, nil)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout:
		// Credential rotation and gateway timeouts recover on their own.
		return types.NewTransientDeliveryError(msg, nil)
	}
	return types.NewPermanentDeliveryError(msg, nil)
}

func buildMessage(token string, payload map[string]any) message {
	m := message{Token: token}
	m.Notification.Title, _ = payload[types.PayloadTitle].(string)
	m.Notification.Body, _ = payload[types.PayloadBody].(string)

	switch data := payload[types.PayloadData].(type) {
	case map[string]string:
		m.Data = data
	case map[string]any:
		m.Data = make(map[string]string, len(data))
		for k, v := range data {
			m.Data[k] = fmt.Sprint(v)
		}
	}
	return m
}
