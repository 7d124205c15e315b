package receipt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/intentgate/internal/policy"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))

func TestHashKnownValue(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Hash([]byte("abc")); got != want {
		t.Errorf("Hash(abc) = %s, want %s", got, want)
	}
}

func TestHashIsOverRawBytes(t *testing.T) {
	a := []byte(`{"kind":"memo_only"}`)
	b := []byte("{\"kind\":\"memo_only\"}\n")
	if Hash(a) != Hash(a) {
		t.Fatal("hash is not deterministic")
	}
	if Hash(a) == Hash(b) {
		t.Error("payloads differing by a trailing newline must hash differently")
	}
	if len(Hash(a)) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(Hash(a)))
	}
}

func TestAssemble(t *testing.T) {
	calls := 0
	clock := func() time.Time {
		calls++
		return fixed
	}
	d := policy.Decision{Approved: false, Reasons: []string{"intent expired"}}

	r := Assemble("deadbeef", d, clock)

	if calls != 1 {
		t.Errorf("clock read %d times, want 1", calls)
	}
	want := Receipt{
		Decision:   Reject,
		IntentHash: "deadbeef",
		Reasons:    []string{"intent expired"},
		Timestamp:  "2026-03-01T11:00:00.123Z",
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("receipt mismatch (-want +got):\n%s", diff)
	}

	d.Reasons[0] = "mutated"
	if r.Reasons[0] != "intent expired" {
		t.Error("receipt must not alias decision reasons")
	}
}

func TestMemoPayloadCanonical(t *testing.T) {
	r := Assemble("ab", policy.Decision{Approved: true, Reasons: []string{}}, func() time.Time { return fixed })
	r.RecordingSignature = "sig"

	got, err := r.MemoPayload()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"decision":"APPROVE","intentHash":"ab","reasons":[],"timestamp":"2026-03-01T11:00:00.123Z"}`
	if string(got) != want {
		t.Errorf("payload = %s\nwant      %s", got, want)
	}

	back, err := ParseMemo(got)
	if err != nil {
		t.Fatal(err)
	}
	r.RecordingSignature = ""
	if diff := cmp.Diff(r, back); diff != "" {
		t.Errorf("memo round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadDigestIgnoresSignature(t *testing.T) {
	r := Assemble("ab", policy.Decision{Approved: true}, func() time.Time { return fixed })
	d1, err := r.PayloadDigest()
	if err != nil {
		t.Fatal(err)
	}
	r.RecordingSignature = "5xyz"
	d2, _ := r.PayloadDigest()
	if d1 != d2 {
		t.Error("recording signature changed the payload digest")
	}
}

func TestParseMemoRejectsUnknownDecision(t *testing.T) {
	if _, err := ParseMemo([]byte(`{"decision":"MAYBE"}`)); err == nil {
		t.Error("expected error for unknown decision")
	}
}

func TestVerify(t *testing.T) {
	raw := []byte(`{"kind":"memo_only"}`)
	if err := Verify(raw, strings.ToUpper(Hash(raw))); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	err := Verify(append(raw, '\n'), Hash(raw))
	if !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}
