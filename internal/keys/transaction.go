package keys

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// ActionKind tags the variant of an Action.
type ActionKind string

const (
	ActionTransfer        ActionKind = "transfer"
	ActionFunctionCall    ActionKind = "function_call"
	ActionStake           ActionKind = "stake"
	ActionAddKey          ActionKind = "add_key"
	ActionDeleteKey       ActionKind = "delete_key"
	ActionDeployContract  ActionKind = "deploy_contract"
	ActionCreateAccount   ActionKind = "create_account"
	ActionDeleteAccount   ActionKind = "delete_account"
)

// Action is a tagged union mirroring NEAR's eight action variants. At most
// one of the typed payload fields is populated, matching Kind;
// CreateAccount carries none.
type Action struct {
	Kind ActionKind

	Transfer        *TransferAction
	FunctionCall    *FunctionCallAction
	Stake           *StakeAction
	AddKey          *AddKeyAction
	DeleteKey       *DeleteKeyAction
	DeployContract  *DeployContractAction
	DeleteAccount   *DeleteAccountAction
}

// TransferAction moves NEAR to the receiver.
type TransferAction struct {
	Deposit Yocto
}

// NewTransfer builds a Transfer action.
func NewTransfer(deposit Yocto) Action {
	return Action{Kind: ActionTransfer, Transfer: &TransferAction{Deposit: deposit}}
}

// FunctionCallAction invokes a contract method.
type FunctionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    Yocto
}

// NewFunctionCall builds a FunctionCall action.
func NewFunctionCall(method string, args []byte, gas uint64, deposit Yocto) Action {
	return Action{Kind: ActionFunctionCall, FunctionCall: &FunctionCallAction{
		MethodName: method, Args: args, Gas: gas, Deposit: deposit,
	}}
}

// StakeAction delegates to a validator.
type StakeAction struct {
	Stake         Yocto
	PublicKey     string
}

// NewStake builds a Stake action.
func NewStake(stake Yocto, publicKey string) Action {
	return Action{Kind: ActionStake, Stake: &StakeAction{Stake: stake, PublicKey: publicKey}}
}

// AddKeyAction attaches an access key to the signer's account.
type AddKeyAction struct {
	PublicKey  string
	Permission AccessKeyPermission
}

// NewAddKey builds an AddKey action.
func NewAddKey(publicKey string, permission AccessKeyPermission) Action {
	return Action{Kind: ActionAddKey, AddKey: &AddKeyAction{PublicKey: publicKey, Permission: permission}}
}

// IsFullAccess reports whether this AddKey grants full access.
func (a *AddKeyAction) IsFullAccess() bool { return a.Permission.IsFullAccess() }

// DeleteKeyAction removes an access key from the signer's account.
type DeleteKeyAction struct {
	PublicKey string
}

// NewDeleteKey builds a DeleteKey action.
func NewDeleteKey(publicKey string) Action {
	return Action{Kind: ActionDeleteKey, DeleteKey: &DeleteKeyAction{PublicKey: publicKey}}
}

// DeployContractAction deploys WASM code to the receiver account.
type DeployContractAction struct {
	Code []byte
}

// NewDeployContract builds a DeployContract action.
func NewDeployContract(code []byte) Action {
	return Action{Kind: ActionDeployContract, DeployContract: &DeployContractAction{Code: code}}
}

// NewCreateAccount builds a CreateAccount action (no payload).
func NewCreateAccount() Action {
	return Action{Kind: ActionCreateAccount}
}

// DeleteAccountAction deletes the signer's account, sending remaining
// balance to BeneficiaryID.
type DeleteAccountAction struct {
	BeneficiaryID NearAccountId
}

// NewDeleteAccount builds a DeleteAccount action.
func NewDeleteAccount(beneficiary NearAccountId) Action {
	return Action{Kind: ActionDeleteAccount, DeleteAccount: &DeleteAccountAction{BeneficiaryID: beneficiary}}
}

// BlockHash is a 32-byte NEAR block hash.
type BlockHash [32]byte

// BlockHashFromBase58 decodes a base58-encoded block hash.
func BlockHashFromBase58(s string) (BlockHash, error) {
	raw, err := base58Decode(s)
	if err != nil {
		return BlockHash{}, fmt.Errorf("decode block hash: %w", err)
	}
	if len(raw) != 32 {
		return BlockHash{}, fmt.Errorf("block hash must be 32 bytes, got %d", len(raw))
	}
	var h BlockHash
	copy(h[:], raw)
	return h, nil
}

// Transaction is an unsigned NEAR transaction ready to be hashed and signed.
type Transaction struct {
	SignerID   NearAccountId
	PublicKey  NearPublicKey
	Nonce      uint64
	ReceiverID NearAccountId
	BlockHash  BlockHash
	Actions    []Action
}

// HashForSigning computes the digest the signer signs over. The original
// implementation Borsh-serializes the transaction and SHA-256es the
// result; full Borsh framing is out of scope here (this package's core is
// policy and signing sequencing, not wire-exact NEAR serialization), so a
// deterministic canonical JSON encoding
// stands in for Borsh while preserving the "hash-then-sign" shape callers
// depend on.
func (t Transaction) HashForSigning() ([]byte, error) {
	canonical := struct {
		SignerID   string   `json:"signer_id"`
		PublicKey  string   `json:"public_key"`
		Nonce      uint64   `json:"nonce"`
		ReceiverID string   `json:"receiver_id"`
		BlockHash  string   `json:"block_hash"`
		Actions    []string `json:"actions"`
	}{
		SignerID:   t.SignerID.String(),
		PublicKey:  t.PublicKey.ToNearFormat(),
		Nonce:      t.Nonce,
		ReceiverID: t.ReceiverID.String(),
		BlockHash:  base58Encode(t.BlockHash[:]),
	}
	for _, a := range t.Actions {
		canonical.Actions = append(canonical.Actions, describeActionForHash(a))
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("encode transaction for signing: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func describeActionForHash(a Action) string {
	switch a.Kind {
	case ActionTransfer:
		return fmt.Sprintf("transfer:%s", a.Transfer.Deposit.Int.String())
	case ActionFunctionCall:
		return fmt.Sprintf("function_call:%s:%d:%s:%s", a.FunctionCall.MethodName, a.FunctionCall.Gas, a.FunctionCall.Deposit.Int.String(), string(a.FunctionCall.Args))
	case ActionStake:
		return fmt.Sprintf("stake:%s:%s", a.Stake.Stake.Int.String(), a.Stake.PublicKey)
	case ActionAddKey:
		return fmt.Sprintf("add_key:%s:%v", a.AddKey.PublicKey, a.AddKey.Permission)
	case ActionDeleteKey:
		return fmt.Sprintf("delete_key:%s", a.DeleteKey.PublicKey)
	case ActionDeployContract:
		return fmt.Sprintf("deploy_contract:%d", len(a.DeployContract.Code))
	case ActionCreateAccount:
		return "create_account"
	case ActionDeleteAccount:
		return fmt.Sprintf("delete_account:%s", a.DeleteAccount.BeneficiaryID.String())
	default:
		return "unknown"
	}
}

// Signature is a signed transaction's detached signature.
type Signature struct {
	KeyType KeyType
	Data    []byte
}

// SignedTransaction bundles a Transaction with its Signature.
type SignedTransaction struct {
	Transaction Transaction
	Signature   Signature
}
