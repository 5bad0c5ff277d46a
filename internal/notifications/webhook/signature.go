// Package webhook posts operator alerts to chat webhooks.
//
// It detects the platform (Slack, Discord, generic) from the URL, formats the
// alert with that platform's JSON schema, and signs generic payloads with
// HMAC-SHA256 when a secret is configured.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the payload signature on generic webhooks.
const SignatureHeader = "X-Medtrack-Signature"

// Signer produces "t=<unix>,v1=<hex>" signature headers over
// "<unix>.<payload>".
type Signer struct {
	secret string
}

// NewSigner returns nil when secret is empty, which disables signing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: secret}
}

// Sign returns the header value for payload at now.
func (s *Signer) Sign(payload []byte, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(fmt.Sprintf("%d.%s", ts, payload), s.secret))
}

// Verify checks header against payload and rejects timestamps further than
// tolerance from now.
func (s *Signer) Verify(payload []byte, header string, now time.Time, tolerance time.Duration) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}
	ts, err := strconv.ParseInt(parts.timestamp, 10, 64)
	if err != nil {
		return false
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > tolerance || skew < -tolerance {
		return false
	}
	expected := computeHMAC(fmt.Sprintf("%s.%s", parts.timestamp, payload), s.secret)
	return hmac.Equal([]byte(parts.v1), []byte(expected))
}

type signatureParts struct {
	timestamp string
	v1        string
}

func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parts.timestamp = strings.TrimSpace(kv[1])
		case "v1":
			parts.v1 = strings.TrimSpace(kv[1])
		}
	}
	return parts
}

func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
