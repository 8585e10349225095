package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/cticollector/internal/core/ports"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      slackPostMessageURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL overrides the chat.postMessage endpoint.
func (s *SlackNotifier) WithAPIURL(u string) *SlackNotifier {
	s.apiURL = u
	return s
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

// NotifyHighThreatIOC sends alert for a newly inserted high-threat IOC
func (s *SlackNotifier) NotifyHighThreatIOC(ctx context.Context, ioc ports.IOCNotification) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildHighThreatIOCBlocks(ioc),
		Text:    fmt.Sprintf("🚨 New %s-threat IOC: %s", ioc.ThreatLevel, ioc.Value),
	}
	return s.sendMessage(ctx, payload)
}

// NotifyRunSummary posts the per-source outcome of a collection run
func (s *SlackNotifier) NotifyRunSummary(ctx context.Context, run ports.RunNotification) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildRunSummaryBlocks(run),
		Text:    fmt.Sprintf("%s Collection run %s finished: %s", statusEmoji(run.Status), run.RunID, run.Status),
	}
	return s.sendMessage(ctx, payload)
}

func (s *SlackNotifier) buildHighThreatIOCBlocks(ioc ports.IOCNotification) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "🚨 High-Threat IOC Collected",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Value*\n`%s`", ioc.Value)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Type*\n%s", ioc.Type)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Threat Level*\n%s", ioc.ThreatLevel)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence*\n%d/100", ioc.Confidence)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Sources*\n%s", strings.Join(ioc.Sources, ", "))},
			},
		},
	}

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "context",
			Elements: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("Run `%s` | cc: %s", ioc.RunID, s.mentionTeam)},
			},
		})
	}
	return blocks
}

func (s *SlackNotifier) buildRunSummaryBlocks(run ports.RunNotification) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("%s Collection Run %s", statusEmoji(run.Status), strings.ToUpper(run.Status)),
			},
		},
		{
			Type: "context",
			Elements: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("Run `%s` at %s", run.RunID, run.RunTime)},
			},
		},
		{Type: "divider"},
	}

	for _, src := range run.Sources {
		text := fmt.Sprintf("%s *%s*: %d processed, %d new, %d updated, %d skipped, %d failed",
			statusEmoji(src.Status), src.Source, src.Processed, src.New, src.Updated, src.Skipped, src.Failed)
		if src.Error != "" {
			text += fmt.Sprintf("\n> %s", src.Error)
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: text},
		})
	}
	return blocks
}

func statusEmoji(status string) string {
	switch status {
	case "success":
		return "✅"
	case "partial":
		return "⚠️"
	default:
		return "❌"
	}
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(ctx context.Context, msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// Slack reports most failures as 200 with ok=false
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode Slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
