package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	if event.Reasons == nil {
		event.Reasons = []string{}
	}
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	reasons := strings.Join(event.Reasons, "; ")
	if reasons == "" {
		reasons = "none"
	}
	fields := []any{
		mrkdwn("*Kind:* %s", event.Kind),
		mrkdwn("*Network:* %s", event.Network),
		mrkdwn("*Intent:* `%s`", event.IntentHash),
		mrkdwn("*Reasons:* %s", reasons),
	}
	if event.Recipient != "" {
		fields = append(fields, mrkdwn("*Recipient:* `%s`", event.Recipient))
	}
	if event.ExplorerURL != "" {
		fields = append(fields, mrkdwn("*Receipt:* <%s|explorer>", event.ExplorerURL))
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("intentgate: %s", event.Decision),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func mrkdwn(format string, args ...any) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, args...)}
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "info"
	if event.Decision == "REJECT" {
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.IntentHash,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("intentgate %s: %s intent %s", event.Decision, event.Kind, event.IntentHash),
			"severity": severity,
			"source":   "intentgate",
			"custom_details": map[string]any{
				"kind":                event.Kind,
				"network":             event.Network,
				"recipient":           event.Recipient,
				"reasons":             event.Reasons,
				"recording_signature": event.RecordingSignature,
			},
		},
	}
	return json.Marshal(payload)
}
