package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const (
	colorDanger = "#d93f0b"
	colorGood   = "#2eb67d"
	colorWarn   = "#fbca04"
)

// SlackNotifier posts integration health changes and cost anomalies to an
// incoming webhook. Repeats of the same alert inside Cooldown are dropped.
type SlackNotifier struct {
	WebhookURL string
	Cooldown   time.Duration
	Logger     *slog.Logger
	Now        func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewSlackNotifier(webhookURL string, cooldown time.Duration, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Cooldown:   cooldown,
		Logger:     logger,
		Now:        time.Now,
		last:       map[string]time.Time{},
	}
}

// WithinCooldown reports whether last is less than cooldown before now.
func WithinCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	return !last.IsZero() && now.Sub(last) < cooldown
}

func (n *SlackNotifier) StatusChanged(ctx context.Context, integrationName, from, to, errMsg string) error {
	color := colorGood
	title := fmt.Sprintf("%s recovered", integrationName)
	if to == "error" {
		color = colorDanger
		title = fmt.Sprintf("%s sync failing", integrationName)
	}
	fields := []slack.AttachmentField{
		{Title: "Integration", Value: integrationName, Short: true},
		{Title: "Status", Value: fmt.Sprintf("%s → %s", from, to), Short: true},
	}
	if errMsg != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: errMsg})
	}
	return n.post(ctx, "status:"+integrationName+":"+to, slack.Attachment{
		Color:  color,
		Title:  title,
		Fields: fields,
	})
}

func (n *SlackNotifier) Anomaly(ctx context.Context, environment string, date time.Time, total, threshold float64) error {
	day := date.Format("2006-01-02")
	return n.post(ctx, "anomaly:"+environment+":"+day, slack.Attachment{
		Color: colorWarn,
		Title: fmt.Sprintf("Cost anomaly in %s", environment),
		Fields: []slack.AttachmentField{
			{Title: "Date", Value: day, Short: true},
			{Title: "Total", Value: fmt.Sprintf("$%.2f", total), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("$%.2f", threshold), Short: true},
		},
	})
}

func (n *SlackNotifier) post(ctx context.Context, key string, attachment slack.Attachment) error {
	if n.WebhookURL == "" {
		return nil
	}
	now := n.now()
	n.mu.Lock()
	if WithinCooldown(n.last[key], n.Cooldown, now) {
		n.mu.Unlock()
		n.Logger.Debug("notification suppressed by cooldown", slog.String("key", key))
		return nil
	}
	n.last[key] = now
	n.mu.Unlock()

	attachment.Footer = "opsync"
	attachment.Ts = json.Number(strconv.FormatInt(now.Unix(), 10))
	msg := &slack.WebhookMessage{Text: attachment.Title, Attachments: []slack.Attachment{attachment}}
	if err := slack.PostWebhookContext(ctx, n.WebhookURL, msg); err != nil {
		n.mu.Lock()
		delete(n.last, key)
		n.mu.Unlock()
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func (n *SlackNotifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}
