package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash of the first entry in a journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Journal is an append-only local record of decisions. Each line carries the
// hash of the line before it, so edits, deletions and insertions are detectable.
// It is a convenience for operators; the on-chain receipt is authoritative.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	tail string
	now  func() time.Time
}

// Open opens or creates the journal at path and recovers the chain tail.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	tail, err := lastLineHash(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	return &Journal{file: f, tail: tail, now: time.Now}, nil
}

func lastLineHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read journal: %w", err)
	}
	defer f.Close()

	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			last = append(last[:0], sc.Bytes()...)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("audit: scan journal: %w", err)
	}
	if last == nil {
		return GenesisHash, nil
	}
	return HashLine(last), nil
}

// Record appends e, filling ID and Timestamp when empty and always setting
// PrevHash. The line is synced before Record returns.
func (j *Journal) Record(e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = j.now().UTC().Format(TimestampFormat)
	}
	if e.Reasons == nil {
		e.Reasons = []string{}
	}
	e.PrevHash = j.tail

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("audit: sync: %w", err)
	}

	j.tail = HashLine(line)
	return e, nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}
