// Package policy analyzes NEAR transactions for risk and decides whether
// they can be auto-approved, need explicit user approval, or must be
// denied outright. It is pure with respect to the rest of the agent: it
// never touches the network, the secrets store, or disk, so its
// decisions are trivial to unit test and to reason about in isolation
// from signing.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ironclaw/ironclaw/internal/keys"
)

// RiskLevel ranks how consequential an action is, lowest to highest.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ActionAnalysis is the risk assessment of a single action within a
// transaction.
type ActionAnalysis struct {
	Category    keys.ActionKind
	ValueYocto  keys.Yocto
	Receiver    string
	Method      string
	Description string
	RiskLevel   RiskLevel
}

// TransactionAnalysis is the aggregate risk assessment produced by
// AnalyzeTransaction.
type TransactionAnalysis struct {
	Actions           []ActionAnalysis
	TotalValueYocto   keys.Yocto
	Receivers         []string
	UsesFullAccessKey bool
	Summary           string
}

// AnalyzeTransaction inspects every action in tx and produces a
// TransactionAnalysis. cfg (which may be nil) is read only to grade risk:
// transfer whitelists, function-call rules and stake whitelists lower an
// action's risk level. It describes what the transaction does, not
// whether it is allowed.
func AnalyzeTransaction(tx keys.Transaction, signerPermission keys.AccessKeyPermission, cfg *PolicyConfig) TransactionAnalysis {
	analysis := TransactionAnalysis{
		TotalValueYocto:   keys.ZeroYocto(),
		UsesFullAccessKey: signerPermission.IsFullAccess(),
	}
	receivers := make(map[string]struct{})
	for _, action := range tx.Actions {
		aa := analyzeAction(action, tx.ReceiverID.String(), cfg)
		analysis.Actions = append(analysis.Actions, aa)
		analysis.TotalValueYocto = analysis.TotalValueYocto.Add(aa.ValueYocto)
		if aa.Receiver != "" {
			receivers[aa.Receiver] = struct{}{}
		}
	}
	for r := range receivers {
		analysis.Receivers = append(analysis.Receivers, r)
	}
	sort.Strings(analysis.Receivers)
	analysis.Summary = buildSummary(analysis)
	return analysis
}

func analyzeAction(action keys.Action, receiverID string, cfg *PolicyConfig) ActionAnalysis {
	switch action.Kind {
	case keys.ActionTransfer:
		deposit := action.Transfer.Deposit
		risk := RiskHigh
		switch {
		case deposit.IsZero():
			risk = RiskLow
		case deposit.Cmp(keys.OneNear) < 0 && cfg != nil && isWhitelisted(cfg.TransferWhitelist, receiverID):
			risk = RiskLow
		case cfg != nil && isWhitelisted(cfg.TransferWhitelist, receiverID) && deposit.Cmp(cfg.TransferWhitelistMaxYocto) <= 0:
			risk = RiskMedium
		case deposit.Cmp(keys.OneNear) < 0:
			risk = RiskLow
		}
		return ActionAnalysis{
			Category:    keys.ActionTransfer,
			ValueYocto:  deposit,
			Receiver:    receiverID,
			Description: fmt.Sprintf("Transfer %s to %s", keys.FormatYocto(deposit), receiverID),
			RiskLevel:   risk,
		}
	case keys.ActionFunctionCall:
		fc := action.FunctionCall
		hasRule := cfg != nil && matchingFunctionCallRule(cfg.FunctionCallRules, receiverID, fc.MethodName, fc.Deposit) != nil
		risk := RiskHigh
		switch {
		case fc.Deposit.IsZero() && hasRule:
			risk = RiskLow
		case fc.Deposit.IsZero() || hasRule:
			risk = RiskMedium
		}
		return ActionAnalysis{
			Category:    keys.ActionFunctionCall,
			ValueYocto:  fc.Deposit,
			Receiver:    receiverID,
			Method:      fc.MethodName,
			Description: fmt.Sprintf("Call %s.%s (deposit %s)", receiverID, fc.MethodName, keys.FormatYocto(fc.Deposit)),
			RiskLevel:   risk,
		}
	case keys.ActionStake:
		st := action.Stake
		risk := RiskHigh
		if cfg != nil && isWhitelisted(cfg.StakeValidatorWhitelist, receiverID) && st.Stake.Cmp(cfg.StakeAutoApproveMaxYocto) <= 0 {
			risk = RiskMedium
		}
		return ActionAnalysis{
			Category:    keys.ActionStake,
			ValueYocto:  st.Stake,
			Receiver:    receiverID,
			Description: fmt.Sprintf("Stake %s with %s", keys.FormatYocto(st.Stake), receiverID),
			RiskLevel:   risk,
		}
	case keys.ActionAddKey:
		ak := action.AddKey
		risk := RiskHigh
		desc := fmt.Sprintf("Add scoped access key %s to %s", ak.PublicKey, receiverID)
		if ak.IsFullAccess() {
			risk = RiskCritical
			desc = fmt.Sprintf("Add FULL ACCESS key %s to %s", ak.PublicKey, receiverID)
		}
		return ActionAnalysis{
			Category:    keys.ActionAddKey,
			ValueYocto:  keys.ZeroYocto(),
			Receiver:    receiverID,
			Description: desc,
			RiskLevel:   risk,
		}
	case keys.ActionDeleteKey:
		return ActionAnalysis{
			Category:    keys.ActionDeleteKey,
			ValueYocto:  keys.ZeroYocto(),
			Receiver:    receiverID,
			Description: fmt.Sprintf("Delete access key %s from %s", action.DeleteKey.PublicKey, receiverID),
			RiskLevel:   RiskHigh,
		}
	case keys.ActionDeployContract:
		return ActionAnalysis{
			Category:    keys.ActionDeployContract,
			ValueYocto:  keys.ZeroYocto(),
			Receiver:    receiverID,
			Description: fmt.Sprintf("Deploy contract code to %s", receiverID),
			RiskLevel:   RiskCritical,
		}
	case keys.ActionCreateAccount:
		return ActionAnalysis{
			Category:    keys.ActionCreateAccount,
			ValueYocto:  keys.ZeroYocto(),
			Receiver:    receiverID,
			Description: fmt.Sprintf("Create account %s", receiverID),
			RiskLevel:   RiskMedium,
		}
	case keys.ActionDeleteAccount:
		return ActionAnalysis{
			Category:    keys.ActionDeleteAccount,
			ValueYocto:  keys.ZeroYocto(),
			Receiver:    receiverID,
			Description: fmt.Sprintf("Delete account %s, sending remainder to %s", receiverID, action.DeleteAccount.BeneficiaryID.String()),
			RiskLevel:   RiskCritical,
		}
	default:
		return ActionAnalysis{Category: action.Kind, ValueYocto: keys.ZeroYocto(), RiskLevel: RiskCritical, Description: "unrecognized action"}
	}
}

func buildSummary(a TransactionAnalysis) string {
	var b strings.Builder
	for i, action := range a.Actions {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, strings.ToUpper(action.RiskLevel.String()), action.Description)
	}
	fmt.Fprintf(&b, "Total value: %s", keys.FormatYocto(a.TotalValueYocto))
	return b.String()
}

// PolicyDecisionKind tags PolicyDecision's variant.
type PolicyDecisionKind string

const (
	DecisionAutoApprove     PolicyDecisionKind = "auto_approve"
	DecisionRequireApproval PolicyDecisionKind = "require_approval"
	DecisionDeny            PolicyDecisionKind = "deny"
)

// PolicyDecision is the outcome of evaluating a transaction or chain
// signature request against a PolicyConfig.
type PolicyDecision struct {
	Kind    PolicyDecisionKind
	Reasons []string // RequireApproval
	Reason  string   // Deny
}

func autoApprove() PolicyDecision { return PolicyDecision{Kind: DecisionAutoApprove} }
func requireApproval(reasons []string) PolicyDecision {
	return PolicyDecision{Kind: DecisionRequireApproval, Reasons: reasons}
}
func deny(reason string) PolicyDecision { return PolicyDecision{Kind: DecisionDeny, Reason: reason} }

// FunctionCallRule whitelists deposit-bearing calls to a contract.
type FunctionCallRule struct {
	ReceiverID      string
	AllowedMethods  []string
	MaxDepositYocto keys.Yocto
	MaxGas          uint64
	AutoApprove     bool
}

// SignatureDomain is the signature scheme requested of a chain-signature
// MPC contract.
type SignatureDomain int

const (
	DomainSecp256k1 SignatureDomain = iota
	DomainEd25519
)

// ChainSigRule whitelists a class of chain-signature request by
// derivation path and destination domain.
type ChainSigRule struct {
	AllowedPaths    []string
	AllowedDomains  []SignatureDomain
	MaxPayloadBytes int
	AutoApprove     bool
}

// TargetChain is a coarse guess at which external chain a derivation
// path targets, used only for display.
type TargetChain string

const (
	ChainEthereum TargetChain = "ethereum"
	ChainBitcoin  TargetChain = "bitcoin"
	ChainNEAR     TargetChain = "near"
)

// ChainSigAnalysis describes a requested cross-chain signature.
type ChainSigAnalysis struct {
	DerivationPath string
	Domain         SignatureDomain
	TargetChain    *TargetChain
	PayloadSize    int
	RiskLevel      RiskLevel
}

// PolicyConfig is the full set of rules IronClaw evaluates key
// operations against. In the zero value only zero-value transfers and
// scoped-key calls auto-approve and account deletion needs approval;
// DefaultPolicy() below adds a 1 NEAR whitelist limit and denies account
// deletion outright.
type PolicyConfig struct {
	TransferAutoApproveMaxYocto keys.Yocto
	TransferWhitelistMaxYocto   keys.Yocto
	TransferWhitelist           []string

	FunctionCallRules []FunctionCallRule

	StakeValidatorWhitelist []string
	StakeAutoApproveMaxYocto keys.Yocto

	AllowAddScopedKeysTo []string

	ChainSigRules []ChainSigRule

	DailySpendLimitYocto    *keys.Yocto
	PerTxAutoApproveMaxYocto keys.Yocto

	DenyFullAccessOperations bool
	DenyDeleteAccount        bool
}

// DefaultPolicy returns IronClaw's out-of-the-box policy: transfers of up
// to 1 NEAR to a whitelisted address (the whitelist starts empty),
// zero-value transfers, and zero-deposit calls a scoped signing key
// already covers auto-approve; account deletion is always denied; and
// everything else requires explicit approval.
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{
		TransferAutoApproveMaxYocto: keys.ZeroYocto(),
		TransferWhitelistMaxYocto:   keys.OneNear,
		DenyDeleteAccount:           true,
	}
}

func isWhitelisted(list []string, receiver string) bool {
	for _, w := range list {
		if w == receiver {
			return true
		}
	}
	return false
}

func matchingFunctionCallRule(rules []FunctionCallRule, receiverID, method string, deposit keys.Yocto) *FunctionCallRule {
	for i := range rules {
		r := &rules[i]
		if r.ReceiverID != receiverID {
			continue
		}
		if len(r.AllowedMethods) > 0 && !containsString(r.AllowedMethods, method) {
			continue
		}
		if r.MaxDepositYocto.Int != nil && deposit.Cmp(r.MaxDepositYocto) > 0 {
			continue
		}
		return r
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Evaluate applies cfg to a previously computed TransactionAnalysis plus
// the raw transaction/signer permission it was derived from, and the
// account's spend so far today, returning the most restrictive decision
// that applies. Order mirrors the reference implementation exactly:
// blanket full-access deny, blanket delete-account deny, daily spend
// limit, per-transaction limit, then per-action evaluation.
func (cfg *PolicyConfig) Evaluate(tx keys.Transaction, signerPermission keys.AccessKeyPermission, analysis TransactionAnalysis, spentTodayYocto keys.Yocto) PolicyDecision {
	if cfg.DenyFullAccessOperations && signerPermission.IsFullAccess() {
		return deny("full-access key operations are denied by policy")
	}
	if cfg.DenyDeleteAccount {
		for _, a := range tx.Actions {
			if a.Kind == keys.ActionDeleteAccount {
				return deny("account deletion is denied by policy")
			}
		}
	}

	var reasons []string

	if cfg.DailySpendLimitYocto != nil {
		projected := spentTodayYocto.Add(analysis.TotalValueYocto)
		if projected.Cmp(*cfg.DailySpendLimitYocto) > 0 {
			reasons = append(reasons, fmt.Sprintf(
				"transaction would exceed daily spend limit (%s spent today, %s this tx, limit %s)",
				keys.FormatYocto(spentTodayYocto), keys.FormatYocto(analysis.TotalValueYocto), keys.FormatYocto(*cfg.DailySpendLimitYocto)))
		}
	}

	if cfg.PerTxAutoApproveMaxYocto.Int != nil && !cfg.PerTxAutoApproveMaxYocto.IsZero() &&
		analysis.TotalValueYocto.Cmp(cfg.PerTxAutoApproveMaxYocto) > 0 {
		reasons = append(reasons, fmt.Sprintf(
			"transaction value %s exceeds per-transaction auto-approve limit %s",
			keys.FormatYocto(analysis.TotalValueYocto), keys.FormatYocto(cfg.PerTxAutoApproveMaxYocto)))
	}

	for _, action := range tx.Actions {
		if r := cfg.evaluateAction(action, tx.ReceiverID.String(), signerPermission); r != "" {
			reasons = append(reasons, r)
		}
	}

	if len(reasons) == 0 {
		return autoApprove()
	}
	return requireApproval(reasons)
}

// evaluateAction returns a non-empty approval reason if the action does
// not clear an auto-approve path, or "" if it does.
func (cfg *PolicyConfig) evaluateAction(action keys.Action, receiverID string, signerPermission keys.AccessKeyPermission) string {
	switch action.Kind {
	case keys.ActionTransfer:
		deposit := action.Transfer.Deposit
		if isWhitelisted(cfg.TransferWhitelist, receiverID) && deposit.Cmp(cfg.TransferWhitelistMaxYocto) <= 0 {
			return ""
		}
		if deposit.Cmp(cfg.TransferAutoApproveMaxYocto) <= 0 {
			return ""
		}
		return fmt.Sprintf("transfer of %s to %s exceeds auto-approve threshold", keys.FormatYocto(deposit), receiverID)

	case keys.ActionFunctionCall:
		fc := action.FunctionCall
		if !signerPermission.IsFullAccess() && signerPermission.ReceiverId == receiverID && fc.Deposit.IsZero() &&
			(len(signerPermission.MethodNames) == 0 || containsString(signerPermission.MethodNames, fc.MethodName)) {
			return ""
		}
		if rule := matchingFunctionCallRule(cfg.FunctionCallRules, receiverID, fc.MethodName, fc.Deposit); rule != nil && rule.AutoApprove {
			return ""
		}
		return fmt.Sprintf("function call %s.%s requires approval", receiverID, fc.MethodName)

	case keys.ActionStake:
		st := action.Stake
		if isWhitelisted(cfg.StakeValidatorWhitelist, receiverID) && st.Stake.Cmp(cfg.StakeAutoApproveMaxYocto) <= 0 {
			return ""
		}
		return fmt.Sprintf("stake of %s with %s requires approval", keys.FormatYocto(st.Stake), receiverID)

	case keys.ActionAddKey:
		if action.AddKey.IsFullAccess() {
			return fmt.Sprintf("adding a FULL ACCESS key to %s requires approval", receiverID)
		}
		return fmt.Sprintf("adding a scoped access key to %s requires approval", receiverID)

	case keys.ActionDeleteKey:
		return fmt.Sprintf("deleting an access key from %s requires approval", receiverID)

	case keys.ActionDeployContract:
		return fmt.Sprintf("deploying contract code to %s requires approval", receiverID)

	case keys.ActionCreateAccount:
		return fmt.Sprintf("creating account %s requires approval", receiverID)

	case keys.ActionDeleteAccount:
		return fmt.Sprintf("deleting account %s requires approval", receiverID)

	default:
		return "unrecognized action requires approval"
	}
}

// EvaluateChainSig decides whether a cross-chain signature request
// auto-approves. The first rule matching domain, payload size and
// derivation-path glob decides. Unlike Evaluate, it never reads the daily
// spend limit, since chain-signature payloads carry no yoctoNEAR amount
// of their own.
func (cfg *PolicyConfig) EvaluateChainSig(analysis ChainSigAnalysis) PolicyDecision {
	for _, rule := range cfg.ChainSigRules {
		if !containsDomain(rule.AllowedDomains, analysis.Domain) {
			continue
		}
		if analysis.PayloadSize > rule.MaxPayloadBytes {
			continue
		}
		if !anyGlobMatches(rule.AllowedPaths, analysis.DerivationPath) {
			continue
		}
		if rule.AutoApprove {
			return autoApprove()
		}
		return requireApproval([]string{fmt.Sprintf("chain signature request for path %s requires approval", analysis.DerivationPath)})
	}
	return requireApproval([]string{fmt.Sprintf("no chain signature rule matches path %s", analysis.DerivationPath)})
}

func containsDomain(domains []SignatureDomain, d SignatureDomain) bool {
	for _, v := range domains {
		if v == d {
			return true
		}
	}
	return false
}

func anyGlobMatches(patterns []string, value string) bool {
	for _, p := range patterns {
		if GlobMatches(p, value) {
			return true
		}
	}
	return false
}

// GlobMatches implements the narrow glob dialect policy rules use: a
// single trailing '*' means prefix match, anything else is an exact
// match.
func GlobMatches(pattern, value string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// InferTargetChain makes a best-effort guess at which external chain a
// derivation path targets, for display purposes only.
func InferTargetChain(derivationPath string) *TargetChain {
	lower := strings.ToLower(derivationPath)
	var chain TargetChain
	switch {
	case strings.HasPrefix(lower, "ethereum") || strings.HasPrefix(lower, "eth"):
		chain = ChainEthereum
	case strings.HasPrefix(lower, "bitcoin") || strings.HasPrefix(lower, "btc"):
		chain = ChainBitcoin
	case strings.HasPrefix(lower, "near"):
		chain = ChainNEAR
	default:
		return nil
	}
	return &chain
}
