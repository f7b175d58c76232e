package policy

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ironclaw/ironclaw/internal/keys"
)

func testSigner() keys.NearAccountId   { return keys.MustNearAccountId("alice.near") }
func testReceiver() keys.NearAccountId { return keys.MustNearAccountId("bob.near") }

func txWith(actions ...keys.Action) keys.Transaction {
	return keys.Transaction{
		SignerID:   testSigner(),
		ReceiverID: testReceiver(),
		Nonce:      1,
		Actions:    actions,
	}
}

// nearScale returns n whole NEAR expressed in yoctoNEAR.
func nearScale(n int64) keys.Yocto {
	total := keys.ZeroYocto()
	for i := int64(0); i < n; i++ {
		total = total.Add(keys.OneNear)
	}
	return total
}

func TestTransferBelowAutoApprove(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferAutoApproveMaxYocto = keys.OneNear
	tx := txWith(keys.NewTransfer(keys.NewYocto(1)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve, got %+v", decision)
	}
}

func TestTransferAboveThresholdRequiresApproval(t *testing.T) {
	cfg := DefaultPolicy()
	tx := txWith(keys.NewTransfer(nearScale(100)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval, got %+v", decision)
	}
	// The user-facing reason names both the transfer and the auto-approve
	// threshold it missed.
	found := false
	for _, reason := range decision.Reasons {
		if strings.Contains(reason, "transfer") && strings.Contains(reason, "auto-approve") {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons should mention transfer and auto-approve: %v", decision.Reasons)
	}
}

func TestTransferToWhitelistedAccount(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferWhitelist = []string{"bob.near"}
	cfg.TransferWhitelistMaxYocto = keys.OneNear
	tx := txWith(keys.NewTransfer(keys.NewYocto(1)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve for whitelisted receiver, got %+v", decision)
	}
}

func TestTransferToWhitelistedAboveWhitelistLimit(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferWhitelist = []string{"bob.near"}
	cfg.TransferWhitelistMaxYocto = keys.OneNear
	tx := txWith(keys.NewTransfer(nearScale(2)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval above whitelist limit, got %+v", decision)
	}
}

func TestFunctionCallMatchingRuleAutoApprove(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.FunctionCallRules = []FunctionCallRule{{
		ReceiverID:      "bob.near",
		AllowedMethods:  []string{"ft_transfer"},
		MaxDepositYocto: keys.OneNear,
		AutoApprove:     true,
	}}
	tx := txWith(keys.NewFunctionCall("ft_transfer", nil, keys.OneTGas, keys.ZeroYocto()))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve for matching function call rule, got %+v", decision)
	}
}

func TestFunctionCallScopedKeyAutoApprove(t *testing.T) {
	cfg := DefaultPolicy()
	perm := keys.FunctionCallPermission("bob.near", []string{"ft_transfer"})
	tx := txWith(keys.NewFunctionCall("ft_transfer", nil, keys.OneTGas, keys.ZeroYocto()))
	analysis := AnalyzeTransaction(tx, perm, cfg)
	decision := cfg.Evaluate(tx, perm, analysis, keys.ZeroYocto())
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve for matching scoped key, got %+v", decision)
	}
}

func TestFunctionCallNoRuleRequiresApproval(t *testing.T) {
	cfg := DefaultPolicy()
	tx := txWith(keys.NewFunctionCall("withdraw_all", nil, keys.OneTGas, keys.ZeroYocto()))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval with no matching rule, got %+v", decision)
	}
}

func TestDenyFullAccessOperations(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.DenyFullAccessOperations = true
	tx := txWith(keys.NewTransfer(keys.ZeroYocto()))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionDeny {
		t.Fatalf("expected deny for full-access signer, got %+v", decision)
	}
}

func TestDenyDeleteAccount(t *testing.T) {
	cfg := DefaultPolicy()
	tx := txWith(keys.NewDeleteAccount(keys.MustNearAccountId("carol.near")))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionDeny {
		t.Fatalf("expected deny for delete account, got %+v", decision)
	}
}

func TestDailySpendLimitUnder(t *testing.T) {
	cfg := DefaultPolicy()
	limit := nearScale(50)
	cfg.DailySpendLimitYocto = &limit
	cfg.TransferAutoApproveMaxYocto = nearScale(50)
	tx := txWith(keys.NewTransfer(keys.OneNear))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, nearScale(10))
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve under daily limit, got %+v", decision)
	}
}

func TestDailySpendLimitExceeded(t *testing.T) {
	cfg := DefaultPolicy()
	limit := nearScale(50)
	cfg.DailySpendLimitYocto = &limit
	cfg.TransferAutoApproveMaxYocto = nearScale(50)
	tx := txWith(keys.NewTransfer(nearScale(10)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, nearScale(45))
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval over daily limit, got %+v", decision)
	}
}

func TestPerTxLimit(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferAutoApproveMaxYocto = nearScale(1000)
	cfg.PerTxAutoApproveMaxYocto = nearScale(5)
	tx := txWith(keys.NewTransfer(nearScale(10)))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval over per-tx limit, got %+v", decision)
	}
}

func TestMixedActionsMostRestrictiveWins(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferAutoApproveMaxYocto = keys.OneNear
	tx := txWith(
		keys.NewTransfer(keys.NewYocto(1)),
		keys.NewAddKey("ed25519:abc", keys.FullAccessPermission()),
	)
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	decision := cfg.Evaluate(tx, keys.FullAccessPermission(), analysis, keys.ZeroYocto())
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval when any action needs approval, got %+v", decision)
	}
	if len(decision.Reasons) == 0 {
		t.Fatal("expected at least one reason")
	}
}

func TestAnalysisTotalValue(t *testing.T) {
	tx := txWith(
		keys.NewTransfer(keys.NewYocto(5)),
		keys.NewTransfer(keys.NewYocto(7)),
	)
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), nil)
	if analysis.TotalValueYocto.Cmp(keys.NewYocto(12)) != 0 {
		t.Fatalf("expected total 12, got %s", analysis.TotalValueYocto.String())
	}
}

func TestAnalysisRiskLevels(t *testing.T) {
	tx := txWith(keys.NewDeleteAccount(keys.MustNearAccountId("carol.near")))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), nil)
	if len(analysis.Actions) != 1 || analysis.Actions[0].RiskLevel != RiskCritical {
		t.Fatalf("expected critical risk for delete account, got %+v", analysis.Actions)
	}
}

func TestAnalysisWhitelistedSubOneNearTransferIsLow(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.TransferWhitelist = []string{"bob.near"}
	cfg.TransferWhitelistMaxYocto = nearScale(2)

	// Half a NEAR, well under both 1 NEAR and the whitelist max: the
	// sub-1-NEAR whitelisted case wins over the generic whitelist-max case.
	half := keys.Yocto{Int: new(big.Int).Div(keys.OneNear.Int, big.NewInt(2))}
	tx := txWith(keys.NewTransfer(half))
	analysis := AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	if analysis.Actions[0].RiskLevel != RiskLow {
		t.Fatalf("whitelisted sub-1-NEAR transfer risk = %v, want low", analysis.Actions[0].RiskLevel)
	}

	// Between 1 NEAR and the whitelist max it drops to Medium.
	tx = txWith(keys.NewTransfer(nearScale(2)))
	analysis = AnalyzeTransaction(tx, keys.FullAccessPermission(), cfg)
	if analysis.Actions[0].RiskLevel != RiskMedium {
		t.Fatalf("whitelisted above-1-NEAR transfer risk = %v, want medium", analysis.Actions[0].RiskLevel)
	}
}

func TestChainSigNoRuleRequiresApproval(t *testing.T) {
	cfg := DefaultPolicy()
	analysis := ChainSigAnalysis{DerivationPath: "ethereum-1", Domain: DomainSecp256k1, PayloadSize: 32}
	decision := cfg.EvaluateChainSig(analysis)
	if decision.Kind != DecisionRequireApproval {
		t.Fatalf("expected require-approval with no chain sig rule, got %+v", decision)
	}
}

func TestChainSigMatchingRuleAutoApprove(t *testing.T) {
	cfg := DefaultPolicy()
	cfg.ChainSigRules = []ChainSigRule{{
		AllowedPaths:    []string{"ethereum-*"},
		AllowedDomains:  []SignatureDomain{DomainSecp256k1},
		MaxPayloadBytes: 64,
		AutoApprove:     true,
	}}
	analysis := ChainSigAnalysis{DerivationPath: "ethereum-1", Domain: DomainSecp256k1, PayloadSize: 32}
	decision := cfg.EvaluateChainSig(analysis)
	if decision.Kind != DecisionAutoApprove {
		t.Fatalf("expected auto-approve for matching chain sig rule, got %+v", decision)
	}
}

func TestGlobMatches(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"ethereum-*", "ethereum-1", true},
		{"ethereum-*", "bitcoin-1", false},
		{"ethereum-1", "ethereum-1", true},
		{"ethereum-1", "ethereum-2", false},
		{"*", "anything", true},
	}
	for _, c := range cases {
		if got := GlobMatches(c.pattern, c.value); got != c.want {
			t.Errorf("GlobMatches(%q,%q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestInferTargetChain(t *testing.T) {
	if chain := InferTargetChain("ethereum-1"); chain == nil || *chain != ChainEthereum {
		t.Fatalf("expected ethereum, got %v", chain)
	}
	if chain := InferTargetChain("btc-0"); chain == nil || *chain != ChainBitcoin {
		t.Fatalf("expected bitcoin, got %v", chain)
	}
	if chain := InferTargetChain("near-1"); chain == nil || *chain != ChainNEAR {
		t.Fatalf("expected near, got %v", chain)
	}
	if chain := InferTargetChain("solana-1"); chain != nil {
		t.Fatalf("expected nil for unrecognized chain, got %v", chain)
	}
}
