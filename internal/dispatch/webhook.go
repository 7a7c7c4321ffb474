package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SignatureHeader is the provider's webhook signature header. The exact name
// is provider-specific; confirm against provider docs before enabling in
// production.
const SignatureHeader = "X-Mail-Signature"

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw body against
// the shared secret using a constant-time compare.
func VerifySignature(secret string, body []byte, signatureHex string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}
	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

// WebhookEvent is the mail provider's notification payload.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		GrantID string `json:"grant_id"`
	} `json:"data"`
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// TriggersDelta reports whether the event type should enqueue a delta sync.
func (e *WebhookEvent) TriggersDelta() bool {
	return e.Type == "message.created" || e.Type == "message.updated"
}
