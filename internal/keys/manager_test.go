package keys

import (
	"context"
	"testing"

	"github.com/ironclaw/ironclaw/internal/keys/policy"
	"github.com/ironclaw/ironclaw/internal/keys/spend"
	"github.com/ironclaw/ironclaw/internal/secrets"
)

// newFakeSecretReader builds a real secrets.Store rooted in a fresh temp
// directory, which satisfies the narrow SecretReader interface Manager
// needs without reimplementing encryption in the test.
func newFakeSecretReader(t *testing.T) *secrets.Store {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return secrets.NewStore(t.TempDir(), key)
}

// fakeRPC is a stub NEAR RPC client for Sign/Broadcast tests.
type fakeRPC struct {
	nonce      uint64
	blockHash  BlockHash
	broadcastErr error
	lastSigned SignedTransaction
}

func (r *fakeRPC) ViewAccessKey(ctx context.Context, accountID, publicKey string) (uint64, BlockHash, error) {
	return r.nonce, r.blockHash, nil
}

func (r *fakeRPC) BroadcastTx(ctx context.Context, signed SignedTransaction) (string, error) {
	r.lastSigned = signed
	if r.broadcastErr != nil {
		return "", r.broadcastErr
	}
	return "fake-tx-hash", nil
}

func testBlockHash(t *testing.T) BlockHash {
	t.Helper()
	var bh BlockHash
	for i := range bh {
		bh[i] = byte(i)
	}
	return bh
}

func TestManagerGenerateKey(t *testing.T) {
	m := NewManager(newFakeSecretReader(t), &fakeRPC{}, nil, nil, "alice")
	meta, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if meta.Label != "bot" || meta.AccountID != "alice.near" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err == nil {
		t.Fatal("expected duplicate label error")
	}
}

func TestManagerSignAutoApprovesZeroDeposit(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 5, blockHash: testBlockHash(t)}
	m := NewManager(secretStore, rpc, nil, nil, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	actions := []Action{NewFunctionCall("ping", nil, OneTGas, ZeroYocto())}

	signed, decision, err := m.Sign(context.Background(), "bot", receiver, actions)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if decision.Kind != policy.DecisionAutoApprove {
		t.Fatalf("expected auto-approve, got %v", decision.Kind)
	}
	if signed.Nonce != 6 {
		t.Fatalf("expected nonce to be rpc nonce+1, got %d", signed.Nonce)
	}
}

func TestManagerSignRequiresApprovalForLargeTransfer(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	m := NewManager(secretStore, rpc, nil, nil, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	big := NewYocto(0).Add(OneNear).Add(OneNear).Add(OneNear)
	actions := []Action{NewTransfer(big)}

	_, decision, err := m.Sign(context.Background(), "bot", receiver, actions)
	if decision.Kind != policy.DecisionRequireApproval {
		t.Fatalf("expected require-approval, got %v (err=%v)", decision.Kind, err)
	}
	if err == nil {
		t.Fatal("expected an error surfacing the approval requirement")
	}
}

func TestManagerSignDeniesFullAccessOperationsWhenPolicyForbidsThem(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	policyCfg := policy.DefaultPolicy()
	policyCfg.DenyFullAccessOperations = true
	m := NewManager(secretStore, rpc, nil, policyCfg, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	actions := []Action{NewDeployContract([]byte{0x00, 0x61, 0x73, 0x6d})}

	_, decision, err := m.Sign(context.Background(), "bot", receiver, actions)
	if decision.Kind != policy.DecisionDeny {
		t.Fatalf("expected deny, got %v", decision.Kind)
	}
	if err == nil || !IsKind(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
}

func TestManagerSignRequiresApprovalForDeployContract(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	m := NewManager(secretStore, rpc, nil, nil, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	actions := []Action{NewDeployContract([]byte{0x00, 0x61, 0x73, 0x6d})}

	_, decision, err := m.Sign(context.Background(), "bot", receiver, actions)
	if decision.Kind != policy.DecisionRequireApproval {
		t.Fatalf("expected require-approval, got %v", decision.Kind)
	}
	if err == nil || !IsKind(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
}

func TestManagerSignRecordsSpendOnAutoApprovedTransfer(t *testing.T) {
	dir := t.TempDir()
	tracker := spend.New(dir + "/ledger.json")
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	policyCfg := policy.DefaultPolicy()
	policyCfg.TransferWhitelist = []string{"bob.near"}
	policyCfg.TransferWhitelistMaxYocto = OneNear
	m := NewManager(secretStore, rpc, tracker, policyCfg, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	small := NewYocto(500)
	actions := []Action{NewTransfer(small)}

	_, decision, err := m.Sign(context.Background(), "bot", receiver, actions)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if decision.Kind != policy.DecisionAutoApprove {
		t.Fatalf("expected auto-approve, got %v", decision.Kind)
	}
	spent, err := tracker.GetDailySpend()
	if err != nil {
		t.Fatalf("GetDailySpend: %v", err)
	}
	if spent.Cmp(small) != 0 {
		t.Fatalf("expected recorded spend of %s, got %s", FormatYocto(small), FormatYocto(spent))
	}
}

func TestManagerBackupRestoreRoundTrip(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	m := NewManager(secretStore, rpc, nil, nil, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	envelope, err := m.Backup("hunter2")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	fresh := NewManager(newFakeSecretReader(t), rpc, nil, nil, "alice")
	added, err := fresh.Restore(envelope, "hunter2")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(added) != 1 || added[0] != "bot" {
		t.Fatalf("expected bot restored, got %+v", added)
	}
	if _, err := fresh.Sign(context.Background(), "bot", mustNearAccountID(t, "bob.near"), []Action{NewFunctionCall("ping", nil, OneTGas, ZeroYocto())}); err != nil {
		t.Fatalf("restored key should be signable: %v", err)
	}
}

func TestManagerBroadcastReturnsTxHash(t *testing.T) {
	secretStore := newFakeSecretReader(t)
	rpc := &fakeRPC{nonce: 1, blockHash: testBlockHash(t)}
	m := NewManager(secretStore, rpc, nil, nil, "alice")

	if _, err := m.GenerateKey("bot", "alice.near", FullAccessPermission(), NetworkMainnet); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver, err := NewNearAccountId("bob.near")
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	signed, _, err := m.Sign(context.Background(), "bot", receiver, []Action{NewFunctionCall("ping", nil, OneTGas, ZeroYocto())})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	txHash, err := m.Broadcast(context.Background(), signed)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if txHash != "fake-tx-hash" {
		t.Fatalf("unexpected tx hash %q", txHash)
	}
}

func mustNearAccountID(t *testing.T, s string) NearAccountId {
	t.Helper()
	id, err := NewNearAccountId(s)
	if err != nil {
		t.Fatalf("NewNearAccountId: %v", err)
	}
	return id
}
