package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/intentgate/internal/intent"
)

// fakeRPC answers JSON-RPC calls from a per-method handler.
type fakeRPC struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(n int) (status int, result string)
}

func newFakeRPC(t *testing.T) (*fakeRPC, *httptest.Server) {
	t.Helper()
	f := &fakeRPC{calls: make(map[string]int), handlers: make(map[string]func(int) (int, string))}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRPC) on(method string, h func(n int) (int, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeRPC) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRPC) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.calls[req.Method]++
	n := f.calls[req.Method]
	h := f.handlers[req.Method]
	f.mu.Unlock()

	if h == nil {
		http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		return
	}
	status, result := h(n)
	if status != http.StatusOK {
		http.Error(w, result, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
}

var memoProgram = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

func ok(result string) func(int) (int, string) {
	return func(int) (int, string) { return http.StatusOK, result }
}

func randomKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func randomSignature(t *testing.T) solana.Signature {
	t.Helper()
	sig, err := randomKey(t).Sign([]byte("intentgate"))
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func testClient(t *testing.T, url string) *RPCClient {
	return NewRPCClient(url, Options{
		RequestsPerSecond:    1000,
		Burst:                100,
		ConfirmTimeout:       2 * time.Second,
		PollInterval:         10 * time.Millisecond,
		AirdropTries:         3,
		RetryInitialInterval: time.Millisecond,
		Logger:               zaptest.NewLogger(t),
	})
}

func TestLatestBlockhash(t *testing.T) {
	f, srv := newFakeRPC(t)
	want := solana.Hash(randomKey(t).PublicKey())
	f.on("getLatestBlockhash", ok(`{"context":{"slot":1},"value":{"blockhash":"`+want.String()+`","lastValidBlockHeight":100}}`))

	got, err := testClient(t, srv.URL).LatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockhash: %v", err)
	}
	if got != want {
		t.Errorf("blockhash = %s, want %s", got, want)
	}
}

func TestAccountExists(t *testing.T) {
	f, srv := newFakeRPC(t)
	owner := randomKey(t).PublicKey()
	f.on("getAccountInfo", func(n int) (int, string) {
		if n == 1 {
			return http.StatusOK, `{"context":{"slot":1},"value":null}`
		}
		return http.StatusOK, `{"context":{"slot":1},"value":{"data":["","base64"],"executable":false,"lamports":2039280,"owner":"` + owner.String() + `","rentEpoch":0,"space":0}}`
	})
	c := testClient(t, srv.URL)

	exists, err := c.AccountExists(context.Background(), owner)
	if err != nil || exists {
		t.Fatalf("expected missing account, got exists=%v err=%v", exists, err)
	}
	exists, err = c.AccountExists(context.Background(), owner)
	if err != nil || !exists {
		t.Fatalf("expected existing account, got exists=%v err=%v", exists, err)
	}
}

func TestConfirmPollsUntilConfirmed(t *testing.T) {
	f, srv := newFakeRPC(t)
	f.on("getSignatureStatuses", func(n int) (int, string) {
		if n < 3 {
			return http.StatusOK, `{"context":{"slot":1},"value":[null]}`
		}
		return http.StatusOK, `{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}`
	})

	if err := testClient(t, srv.URL).Confirm(context.Background(), randomSignature(t)); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got := f.count("getSignatureStatuses"); got != 3 {
		t.Errorf("polled %d times, want 3", got)
	}
}

func TestConfirmReportsFailedTransaction(t *testing.T) {
	f, srv := newFakeRPC(t)
	f.on("getSignatureStatuses", ok(`{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}]}`))

	err := testClient(t, srv.URL).Confirm(context.Background(), randomSignature(t))
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if got := f.count("getSignatureStatuses"); got != 1 {
		t.Errorf("failed transaction must not be re-polled, polled %d times", got)
	}
}

func TestAirdropRetriesTransientFailures(t *testing.T) {
	f, srv := newFakeRPC(t)
	sig := randomSignature(t)
	f.on("requestAirdrop", func(n int) (int, string) {
		if n < 3 {
			return http.StatusInternalServerError, "upstream unavailable"
		}
		return http.StatusOK, `"` + sig.String() + `"`
	})

	got, err := testClient(t, srv.URL).RequestAirdrop(context.Background(), randomKey(t).PublicKey(), 1_000_000_000)
	if err != nil {
		t.Fatalf("RequestAirdrop: %v", err)
	}
	if got != sig {
		t.Errorf("signature = %s, want %s", got, sig)
	}
	if n := f.count("requestAirdrop"); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestAirdropRateLimitIsTerminal(t *testing.T) {
	f, srv := newFakeRPC(t)
	f.on("requestAirdrop", func(int) (int, string) {
		return http.StatusTooManyRequests, "Too Many Requests"
	})

	_, err := testClient(t, srv.URL).RequestAirdrop(context.Background(), randomKey(t).PublicKey(), 1)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Op != "airdrop" {
		t.Errorf("expected *Error with op airdrop, got %#v", err)
	}
	if n := f.count("requestAirdrop"); n != 1 {
		t.Errorf("rate-limited airdrop retried: %d attempts", n)
	}
}

func TestAirdropGivesUpAfterMaxTries(t *testing.T) {
	f, srv := newFakeRPC(t)
	f.on("requestAirdrop", func(int) (int, string) {
		return http.StatusInternalServerError, "upstream unavailable"
	})

	if _, err := testClient(t, srv.URL).RequestAirdrop(context.Background(), randomKey(t).PublicKey(), 1); err == nil {
		t.Fatal("expected error")
	}
	if n := f.count("requestAirdrop"); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestSubmit(t *testing.T) {
	f, srv := newFakeRPC(t)
	want := randomSignature(t)
	f.on("sendTransaction", ok(`"`+want.String()+`"`))

	payer := randomKey(t)
	tx := signedMemo(t, payer)
	got, err := testClient(t, srv.URL).Submit(context.Background(), tx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func signedMemo(t *testing.T, payer solana.PrivateKey) *solana.Transaction {
	t.Helper()
	ix := solana.NewInstruction(memoProgram, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer.PublicKey(), false, true),
	}, []byte("hello"))
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash(randomKey(t).PublicKey()), solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestExplorerURL(t *testing.T) {
	if got := ExplorerURL("abc", intent.Devnet); got != "https://solscan.io/tx/abc?cluster=devnet" {
		t.Errorf("devnet url = %s", got)
	}
	if got := ExplorerURL("abc", intent.Mainnet); got != "https://solscan.io/tx/abc" {
		t.Errorf("mainnet url = %s", got)
	}
}

func TestEndpoint(t *testing.T) {
	if Endpoint(intent.Devnet) == Endpoint(intent.Mainnet) {
		t.Error("devnet and mainnet must use different endpoints")
	}
}
