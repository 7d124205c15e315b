// Package policydiff explains what changes between two policy files in
// terms of what gets approved.
package policydiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/intentgate/internal/policy"
	"github.com/ppiankov/intentgate/internal/redact"
)

// Change represents one field or list-entry change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath    string   `json:"old_path"`
	NewPath    string   `json:"new_path"`
	Changes    []Change `json:"changes"`
	HasChanges bool     `json:"has_changes"`
}

// Diff compares two PolicyConfigs and returns the differences.
func Diff(old, new *policy.PolicyConfig) *DiffResult {
	r := &DiffResult{Changes: []Change{}}

	if old.MaxLamportsPerTx != new.MaxLamportsPerTx {
		comment := "looser"
		if new.MaxLamportsPerTx < old.MaxLamportsPerTx {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "max_lamports_per_tx",
			Old:     fmt.Sprintf("%d", old.MaxLamportsPerTx),
			New:     fmt.Sprintf("%d", new.MaxLamportsPerTx),
			Comment: comment,
		})
	}

	if old.RequireAllowlist != new.RequireAllowlist {
		comment := "looser"
		if new.RequireAllowlist {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "require_allowlist",
			Old:     fmt.Sprintf("%t", old.RequireAllowlist),
			New:     fmt.Sprintf("%t", new.RequireAllowlist),
			Comment: comment,
		})
	}

	diffSet(r, "allow_recipients", old.AllowRecipients, new.AllowRecipients)
	if len(old.AllowRecipients) > 0 && len(new.AllowRecipients) == 0 {
		c := Change{
			Field: "allow_recipients",
			Old:   fmt.Sprintf("%d entries", len(old.AllowRecipients)),
			New:   "empty",
		}
		if new.RequireAllowlist {
			c.Comment = "stricter: every transfer rejected"
		} else {
			c.Comment = "looser: any recipient allowed"
		}
		r.Changes = append(r.Changes, c)
	}

	diffSet(r, "alerts", alertKeys(old), alertKeys(new))

	r.HasChanges = len(r.Changes) > 0
	return r
}

func diffSet(r *DiffResult, section string, oldKeys, newKeys []string) {
	oldSet := make(map[string]bool)
	for _, k := range oldKeys {
		oldSet[k] = true
	}
	newSet := make(map[string]bool)
	for _, k := range newKeys {
		newSet[k] = true
	}

	for _, k := range sorted(newKeys) {
		if !oldSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, New: k, Comment: "added"})
		}
	}
	for _, k := range sorted(oldKeys) {
		if !newSet[k] {
			r.Changes = append(r.Changes, Change{Field: section, Old: k, Comment: "removed"})
		}
	}
}

// alertKeys identifies webhooks by masked URL and subscribed events.
func alertKeys(cfg *policy.PolicyConfig) []string {
	keys := make([]string, 0, len(cfg.Alerts))
	for _, a := range cfg.Alerts {
		events := append([]string(nil), a.Events...)
		sort.Strings(events)
		keys = append(keys, fmt.Sprintf("%s [%s]", redact.URL(a.URL), strings.Join(events, ",")))
	}
	return keys
}

func sorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}
