package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// TailFilter narrows the entries returned by Tail. Zero fields match all.
type TailFilter struct {
	Decision   string
	IntentHash string
	Limit      int
}

func (f TailFilter) match(e Entry) bool {
	if f.Decision != "" && !strings.EqualFold(f.Decision, e.Decision) {
		return false
	}
	if f.IntentHash != "" && !strings.HasPrefix(e.IntentHash, strings.ToLower(f.IntentHash)) {
		return false
	}
	return true
}

// Tail returns the most recent entries matching filter, oldest first.
// Unparseable lines are skipped; use Verify to find them.
func Tail(path string, filter TailFilter) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !filter.match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan journal: %w", err)
	}
	return out, nil
}
