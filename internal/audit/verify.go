package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

const maxLineBytes = 1024 * 1024

// VerifyResult is the outcome of walking a journal's hash chain.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Approved  int    `json:"approved"`
	Rejected  int    `json:"rejected"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify checks every link of the journal at path and stops at the first
// broken one.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var res VerifyResult
	want := GenesisHash
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		res.Lines++
		line := sc.Bytes()

		fail := func(format string, args ...any) VerifyResult {
			return VerifyResult{
				Lines:     res.Lines,
				Error:     fmt.Sprintf(format, args...),
				ErrorLine: res.Lines,
			}
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fail("parse error: %v", err)
		}
		if e.PrevHash != want {
			if res.Lines == 1 {
				return fail("first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return fail("hash mismatch: expected %s, got %s", want, e.PrevHash)
		}
		switch e.Decision {
		case "APPROVE":
			res.Approved++
		case "REJECT":
			res.Rejected++
		default:
			return fail("unknown decision %q", e.Decision)
		}

		want = HashLine(line)
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Lines: res.Lines, Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	return res
}
