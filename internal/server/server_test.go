package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	testFrom  = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testTo    = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testOther = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// testServer spins up an in-process gRPC server on a random port and returns a client.
func testServer(t *testing.T, policyPath string) (*Server, *Client) {
	t.Helper()

	srv, err := New(Config{PolicyPath: policyPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return srv, NewClient(conn)
}

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func solIntent(to string, lamports, maxLamports uint64) string {
	return fmt.Sprintf(`{"kind":"sol_transfer","network":"devnet","from":%q,"to":%q,"lamports":%d,"maxLamports":%d,"expiresAt":%q}`,
		testFrom, to, lamports, maxLamports, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func reasons(resp *structpb.Struct) []string {
	var out []string
	for _, v := range resp.GetFields()["reasons"].GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func TestAuthorizeApproves(t *testing.T) {
	path := writePolicy(t, fmt.Sprintf("max_lamports_per_tx: 2000000\nallow_recipients: [%s]\n", testTo))
	_, client := testServer(t, path)

	resp, err := client.Authorize(context.Background(), request(t, map[string]any{
		"intent": solIntent(testTo, 1_000_000, 1_500_000),
	}))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	f := resp.GetFields()
	if got := f["decision"].GetStringValue(); got != "APPROVE" {
		t.Fatalf("decision = %q, reasons = %v", got, reasons(resp))
	}
	if len(reasons(resp)) != 0 {
		t.Errorf("unexpected reasons: %v", reasons(resp))
	}
	if len(f["intentHash"].GetStringValue()) != 64 {
		t.Errorf("intentHash = %q", f["intentHash"].GetStringValue())
	}
	if f["kind"].GetStringValue() != "sol_transfer" {
		t.Errorf("kind = %q", f["kind"].GetStringValue())
	}
	if f["requestId"].GetStringValue() == "" {
		t.Error("missing requestId")
	}
	if _, ok := f["recordingSignature"]; ok {
		t.Error("recordingSignature present without a recorder")
	}
}

func TestAuthorizeRejectsOverCapAndAllowlist(t *testing.T) {
	path := writePolicy(t, fmt.Sprintf("max_lamports_per_tx: 2000000\nallow_recipients: [%s]\n", testTo))
	_, client := testServer(t, path)

	resp, err := client.Authorize(context.Background(), request(t, map[string]any{
		"intent": solIntent(testOther, 1_000_000, 5_000_000),
	}))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got := resp.GetFields()["decision"].GetStringValue(); got != "REJECT" {
		t.Fatalf("decision = %q, want REJECT", got)
	}
	got := reasons(resp)
	want := []string{"maxLamports (5000000) exceeds policy cap (2000000)", "recipient not allowlisted"}
	if len(got) != len(want) {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAuthorizeRequestOverrides(t *testing.T) {
	_, client := testServer(t, writePolicy(t, "max_lamports_per_tx: 2000000\n"))

	resp, err := client.Authorize(context.Background(), request(t, map[string]any{
		"intent":          solIntent(testTo, 1_000_000, 1_500_000),
		"maxLamports":     1_000_000,
		"allowRecipients": []any{testOther},
	}))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got := resp.GetFields()["decision"].GetStringValue(); got != "REJECT" {
		t.Fatalf("decision = %q, want REJECT", got)
	}
	if n := len(reasons(resp)); n != 2 {
		t.Errorf("reasons = %v, want cap and allowlist", reasons(resp))
	}

	_, err = client.Authorize(context.Background(), request(t, map[string]any{
		"intent":      solIntent(testTo, 1, 1),
		"maxLamports": -1,
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("negative override: code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestAuthorizeInvalidInput(t *testing.T) {
	_, client := testServer(t, writePolicy(t, ""))

	cases := map[string]map[string]any{
		"missing intent":  {},
		"non-string":      {"intent": 42},
		"malformed json":  {"intent": "{not json"},
		"schema violated": {"intent": `{"kind":"sol_transfer"}`},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.Authorize(context.Background(), request(t, fields))
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("code = %v, want InvalidArgument (err %v)", status.Code(err), err)
			}
		})
	}
}

func TestAuthorizeBuildWithoutChain(t *testing.T) {
	_, client := testServer(t, writePolicy(t, ""))

	_, err := client.Authorize(context.Background(), request(t, map[string]any{
		"intent": solIntent(testTo, 1_000, 1_000),
		"build":  true,
	}))
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal without a chain client", status.Code(err))
	}
}

func TestValidateReportsFieldErrors(t *testing.T) {
	_, client := testServer(t, writePolicy(t, ""))

	resp, err := client.Validate(context.Background(), request(t, map[string]any{
		"intent": fmt.Sprintf(`{"kind":"memo_only","network":"devnet","from":%q,"memo":"","expiresAt":"2030-01-01T00:00:00Z"}`, testFrom),
	}))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	f := resp.GetFields()
	if f["valid"].GetBoolValue() {
		t.Fatal("expected invalid")
	}
	errs := f["errors"].GetListValue().GetValues()
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if p := errs[0].GetStructValue().GetFields()["path"].GetStringValue(); p != "/memo" {
		t.Errorf("path = %q, want /memo", p)
	}

	resp, err = client.Validate(context.Background(), request(t, map[string]any{
		"intent": solIntent(testTo, 1, 1),
	}))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !resp.GetFields()["valid"].GetBoolValue() || resp.GetFields()["kind"].GetStringValue() != "sol_transfer" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestHashMatchesAuthorize(t *testing.T) {
	_, client := testServer(t, writePolicy(t, ""))
	payload := solIntent(testTo, 1, 1)

	h, err := client.Hash(context.Background(), request(t, map[string]any{"intent": payload}))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	a, err := client.Authorize(context.Background(), request(t, map[string]any{"intent": payload}))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if h.GetFields()["intentHash"].GetStringValue() != a.GetFields()["intentHash"].GetStringValue() {
		t.Error("hash differs between Hash and Authorize")
	}
}

func TestConcurrentAuthorize(t *testing.T) {
	_, client := testServer(t, writePolicy(t, ""))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.Authorize(context.Background(), request(t, map[string]any{
				"intent": solIntent(testTo, uint64(i+1), uint64(i+1)),
			}))
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Authorize: %v", err)
	}
}

func TestHotReloadPolicyChange(t *testing.T) {
	path := writePolicy(t, "max_lamports_per_tx: 2000000\n")
	srv, client := testServer(t, path)
	req := request(t, map[string]any{"intent": solIntent(testTo, 1_000_000, 1_500_000)})

	resp, err := client.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	before := resp.GetFields()["policyHash"].GetStringValue()
	if resp.GetFields()["decision"].GetStringValue() != "APPROVE" {
		t.Fatalf("expected APPROVE before reload, got %v", reasons(resp))
	}

	if err := os.WriteFile(path, []byte("max_lamports_per_tx: 1000000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}

	resp, err = client.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if resp.GetFields()["decision"].GetStringValue() != "REJECT" {
		t.Fatal("expected REJECT after lowering the cap")
	}
	if resp.GetFields()["policyHash"].GetStringValue() == before {
		t.Error("policyHash unchanged after reload")
	}

	// A broken file keeps the previous policy.
	if err := os.WriteFile(path, []byte("max_lamports_per_tx: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := srv.ReloadPolicy(); err == nil {
		t.Fatal("expected reload error for invalid YAML")
	}
	resp, err = client.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if resp.GetFields()["decision"].GetStringValue() != "REJECT" {
		t.Error("previous policy not kept after failed reload")
	}
}

func TestReloadRetiresReplacedPipelines(t *testing.T) {
	path := writePolicy(t, "max_lamports_per_tx: 2000000\n")
	srv, client := testServer(t, path)
	req := request(t, map[string]any{"intent": solIntent(testTo, 1_000_000, 1_500_000)})

	for i := 0; i < 20; i++ {
		if err := srv.ReloadPolicy(); err != nil {
			t.Fatalf("ReloadPolicy: %v", err)
		}
		if _, err := client.Authorize(context.Background(), req); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for srv.pipelines.Retiring() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d replaced pipelines still held after reloads", srv.pipelines.Retiring())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type countingTarget struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTarget) ReloadPolicy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingTarget) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestReloaderDebouncesWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	old := DebounceInterval
	DebounceInterval = 50 * time.Millisecond
	defer func() { DebounceInterval = old }()

	path := writePolicy(t, "max_lamports_per_tx: 1\n")
	target := &countingTarget{}
	r, err := NewReloader(target, path, nil)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("max_lamports_per_tx: %d\n", i+2)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for target.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if target.count() == 0 {
		t.Fatal("policy was never reloaded")
	}

	// Unrelated files in the same directory are ignored.
	seen := target.count()
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * DebounceInterval)
	if target.count() != seen {
		t.Errorf("reload triggered by unrelated file")
	}
}

func TestNewReloaderRequiresPath(t *testing.T) {
	if _, err := NewReloader(&countingTarget{}, "", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
