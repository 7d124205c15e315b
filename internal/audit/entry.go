package audit

// TimestampFormat is the layout used in journal timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one decision in the hash-chained JSONL journal. Field order is
// fixed by the struct so a line always hashes the same.
type Entry struct {
	ID                 string   `json:"id"`
	Timestamp          string   `json:"ts"`
	IntentHash         string   `json:"intent_hash"`
	Kind               string   `json:"kind"`
	Network            string   `json:"network"`
	Recipient          string   `json:"recipient,omitempty"`
	Decision           string   `json:"decision"`
	Reasons            []string `json:"reasons"`
	PolicyHash         string   `json:"policy_hash"`
	RecordingSignature string   `json:"recording_signature,omitempty"`
	PrevHash           string   `json:"prev_hash"`
}
