package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const rule = "──────────────────────────────────────────────────────────────────"

// FormatTable renders entries as an aligned text table with a summary line.
func FormatTable(entries []Entry) string {
	if len(entries) == 0 {
		return "No journal entries.\n"
	}

	var b strings.Builder
	approved := 0
	fmt.Fprintf(&b, "%-19s %-8s %-15s %-14s %s\n", "TIME (UTC)", "DECISION", "KIND", "INTENT", "REASONS")
	b.WriteString(rule + "\n")
	for _, e := range entries {
		if e.Decision == "APPROVE" {
			approved++
		}
		reasons := strings.Join(e.Reasons, "; ")
		if reasons == "" {
			reasons = "-"
		}
		fmt.Fprintf(&b, "%-19s %-8s %-15s %-14s %s\n",
			displayTime(e.Timestamp), e.Decision, e.Kind, shortHash(e.IntentHash), reasons)
	}
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%d entries: %d approved, %d rejected\n", len(entries), approved, len(entries)-approved)
	return b.String()
}

// FormatJSON renders entries as indented JSON.
func FormatJSON(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal entries: %w", err)
	}
	return string(data), nil
}

func displayTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + ".."
}
