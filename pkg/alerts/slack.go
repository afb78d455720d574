package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

var slackColors = map[AlertLevel]string{
	AlertWarning:  "warning",
	AlertCritical: "danger",
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack notifier. An empty channel uses the
// webhook's default.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     newHTTPClient(),
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := marshal(s.message(alert))
	if err != nil {
		return err
	}
	if err := postJSON(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	return nil
}

func (s *SlackNotifier) message(alert Alert) slackMessage {
	fields := []slackField{{Title: "Level", Value: string(alert.Level), Short: true}}
	if alert.TableID != "" {
		fields = append(fields, slackField{Title: "Table", Value: alert.TableID, Short: true})
	}
	if alert.Pending > 0 {
		fields = append(fields, slackField{Title: "Unsaved sessions", Value: strconv.Itoa(alert.Pending), Short: true})
	}

	color, ok := slackColors[alert.Level]
	if !ok {
		color = "warning"
	}
	return slackMessage{
		Channel: s.channel,
		Text:    "cuemeter: " + alert.Summary(),
		Attachments: []slackAttachment{{
			Fallback: alert.Message,
			Color:    color,
			Text:     alert.Message,
			Fields:   fields,
		}},
	}
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Text     string       `json:"text,omitempty"`
	Fields   []slackField `json:"fields"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
