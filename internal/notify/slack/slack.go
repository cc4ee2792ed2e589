// Package slack posts pipeline run reports to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

const (
	maxListedEvents = 10
	maxEventTextLen = 2800
	httpTimeout     = 10 * time.Second
)

// Notifier sends run reports to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a run report to the configured Slack webhook.
func (n *Notifier) Notify(ctx context.Context, r *pipeline.Report) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "run report sent", "notifier", "slack", "run_id", r.ID)
	return nil
}

func buildMessage(r *pipeline.Report) map[string]any {
	return map[string]any{
		"text": r.Summary(),
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			eventsBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *pipeline.Report) map[string]any {
	text := fmt.Sprintf("%s Lead watch: %d trigger events", statusEmoji(r), len(r.Events))
	if r.Error != "" {
		text = fmt.Sprintf("%s Lead watch run failed", statusEmoji(r))
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *pipeline.Report) map[string]any {
	saved := "_disabled_"
	if r.PersistenceEnabled {
		saved = fmt.Sprintf("%d new / %d dup / %d failed", r.Persist.Inserted, r.Persist.Duplicates, r.Persist.Failed)
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Sources:* %d", len(r.Sources))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Failed sources:* %d", r.FailedSources())},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Events:* %d", len(r.Events))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Saved:* %s", saved)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", r.Duration().Seconds())},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func eventsBlock(r *pipeline.Report) map[string]any {
	var b strings.Builder
	for i, ev := range r.Events {
		if i == maxListedEvents {
			fmt.Fprintf(&b, "_and %d more_\n", len(r.Events)-maxListedEvents)
			break
		}
		fmt.Fprintf(&b, "%s *%s* (%s): <%s|%s>\n",
			categoryEmoji(ev.Category), escape(ev.Company), ev.Category, ev.Article.Link, escape(ev.Article.Title))
	}

	text := truncate(b.String(), maxEventTextLen)
	if text == "" {
		text = "_No trigger events found._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Events*\n\n%s", text),
		},
	}
}

func contextBlock(r *pipeline.Report) map[string]any {
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = r.StartedAt
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("leadwatch • run %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(r *pipeline.Report) string {
	switch {
	case r.Error != "":
		return "\U0001f534" // red circle
	case r.FailedSources() > 0 || r.Persist.Failed > 0:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func categoryEmoji(c lead.Category) string {
	switch c {
	case lead.CategoryFunding:
		return "\U0001f4b0" // money bag
	case lead.CategoryNewHires:
		return "\U0001f464" // bust in silhouette
	case lead.CategoryExpansion:
		return "\U0001f30d" // globe
	case lead.CategoryProductLaunch:
		return "\U0001f680" // rocket
	case lead.CategoryPartnership:
		return "\U0001f91d" // handshake
	default:
		return "•"
	}
}

// escape neutralises the three characters Slack mrkdwn treats as control.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return escaper.Replace(s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
