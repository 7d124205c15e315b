package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	valid := filepath.Join(f.TempDir(), "valid.jsonl")
	j, err := Open(valid)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := j.Record(testEntry("APPROVE")); err != nil {
			f.Fatal(err)
		}
	}
	j.Close()
	data, _ := os.ReadFile(valid)
	f.Add(data)
	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		// Must not panic, and a valid chain must account for every line.
		res := Verify(path)
		if res.Valid && res.Approved+res.Rejected != res.Lines {
			t.Fatalf("valid result with inconsistent counts: %+v", res)
		}
	})
}
