package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Headers set on signed webhook deliveries.
const (
	SignatureHeader = "X-Cuemeter-Signature"
	TimestampHeader = "X-Cuemeter-Timestamp"
)

// WebhookNotifier posts alerts as flat JSON documents to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. With a secret, every
// delivery carries a timestamp and an HMAC-SHA256 over "timestamp.body".
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: []byte(secret),
		client: newHTTPClient(),
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	sentAt := time.Now().UTC()
	body, err := marshal(webhookPayload{
		Event:   alert.Event,
		Level:   alert.Level,
		TableID: alert.TableID,
		Pending: alert.Pending,
		Summary: alert.Summary(),
		Message: alert.Message,
		SentAt:  sentAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	header := http.Header{}
	if len(w.secret) > 0 {
		ts := strconv.FormatInt(sentAt.Unix(), 10)
		header.Set(TimestampHeader, ts)
		header.Set(SignatureHeader, "sha256="+Sign(w.secret, ts, body))
	}

	if err := postJSON(ctx, w.client, w.url, body, header); err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	return nil
}

type webhookPayload struct {
	Event   Event      `json:"event"`
	Level   AlertLevel `json:"level"`
	TableID string     `json:"table_id,omitempty"`
	Pending int        `json:"pending,omitempty"`
	Summary string     `json:"summary"`
	Message string     `json:"message"`
	SentAt  string     `json:"sent_at"`
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body" under secret.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery signature header value in constant time.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	want := "sha256=" + Sign(secret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(signature))
}
