// Package keys manages NEAR Protocol blockchain keys so the agent can sign
// transactions and cross-chain signature requests. It follows a hybrid
// custody model: scoped function-call keys handle routine operations while
// high-value operations route through the policy engine in
// internal/keys/policy for explicit approval.
//
// Private key bytes never reach the LLM or any WASM boundary. They are
// loaded from the secrets store into a short-lived buffer only for the
// handful of lines required to sign a hash, then zeroed.
package keys

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// NearNetwork identifies which NEAR network a key or transaction targets.
type NearNetwork string

const (
	NetworkMainnet NearNetwork = "mainnet"
	NetworkTestnet NearNetwork = "testnet"
)

// KeyType is the cryptographic curve of a NEAR key. The protocol supports
// both, but IronClaw only ever generates Ed25519 keys.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "ed25519"
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

// NearAccountId is a validated NEAR account identifier.
type NearAccountId struct {
	value string
}

// NewNearAccountId validates and wraps a NEAR account id string. NEAR
// account ids are 2-64 characters, lowercase alphanumeric plus '.', '-',
// '_', and may not start or end with a separator.
func NewNearAccountId(s string) (NearAccountId, error) {
	if len(s) < 2 || len(s) > 64 {
		return NearAccountId{}, fmt.Errorf("account id %q must be 2-64 characters", s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return NearAccountId{}, fmt.Errorf("account id %q contains invalid character %q", s, r)
		}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") ||
		strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") ||
		strings.HasPrefix(s, "_") || strings.HasSuffix(s, "_") {
		return NearAccountId{}, fmt.Errorf("account id %q may not start or end with a separator", s)
	}
	return NearAccountId{value: s}, nil
}

// MustNearAccountId panics on an invalid account id; for tests and
// compile-time constants only.
func MustNearAccountId(s string) NearAccountId {
	id, err := NewNearAccountId(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (n NearAccountId) String() string { return n.value }

// NearPublicKey is a NEAR-format public key (curve tag + raw bytes).
type NearPublicKey struct {
	KeyType KeyType
	Data    []byte
}

// ToNearFormat renders the public key as "ed25519:<base58>".
func (k NearPublicKey) ToNearFormat() string {
	return fmt.Sprintf("%s:%s", k.KeyType, base58Encode(k.Data))
}

// NearPublicKeyFromNearFormat parses "ed25519:<base58>" / "secp256k1:<base58>".
func NearPublicKeyFromNearFormat(s string) (NearPublicKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return NearPublicKey{}, fmt.Errorf("malformed public key %q: missing curve prefix", s)
	}
	kt := KeyType(parts[0])
	if kt != KeyTypeEd25519 && kt != KeyTypeSecp256k1 {
		return NearPublicKey{}, fmt.Errorf("unsupported key type %q", parts[0])
	}
	data, err := base58Decode(parts[1])
	if err != nil {
		return NearPublicKey{}, fmt.Errorf("decode public key: %w", err)
	}
	return NearPublicKey{KeyType: kt, Data: data}, nil
}

// AccessKeyPermission is the scope granted to a NEAR access key.
type AccessKeyPermission struct {
	// FullAccess, when true, ignores the FunctionCall fields below.
	FullAccess bool `json:"full_access,omitempty"`

	// Allowance is the remaining yoctoNEAR the key may spend on gas and
	// deposits. Nil means unlimited.
	Allowance *Yocto `json:"allowance,omitempty"`
	// ReceiverId restricts FunctionCall actions to this contract.
	ReceiverId string `json:"receiver_id,omitempty"`
	// MethodNames restricts FunctionCall actions to these methods; empty
	// means all methods on ReceiverId are allowed.
	MethodNames []string `json:"method_names,omitempty"`
}

// IsFullAccess reports whether the permission is unrestricted.
func (p AccessKeyPermission) IsFullAccess() bool { return p.FullAccess }

// FunctionCallPermission constructs a scoped permission.
func FunctionCallPermission(receiverID string, methodNames []string) AccessKeyPermission {
	return AccessKeyPermission{ReceiverId: receiverID, MethodNames: methodNames}
}

// FullAccessPermission constructs an unrestricted permission.
func FullAccessPermission() AccessKeyPermission {
	return AccessKeyPermission{FullAccess: true}
}

// KeyMetadata is the non-secret record IronClaw keeps for a managed key.
// Private key material never appears here; it lives only in the
// SecretsStore, addressed by "near_key:<label>".
type KeyMetadata struct {
	Label       string              `json:"label"`
	AccountID   string              `json:"account_id"`
	PublicKey   string              `json:"public_key"`
	Permission  AccessKeyPermission `json:"permission"`
	Network     NearNetwork         `json:"network"`
	CreatedAt   time.Time           `json:"created_at"`
	CachedNonce *uint64             `json:"cached_nonce,omitempty"`
}

// KeyStore is the non-secret key metadata (label -> KeyMetadata) plus the
// time of the last Backup. Manager holds it in memory only; nothing in
// this package reads or writes it as a file.
type KeyStore struct {
	Keys         map[string]KeyMetadata `json:"keys"`
	LastBackupAt *time.Time             `json:"last_backup_at,omitempty"`
}

// NewKeyStore returns an empty store.
func NewKeyStore() KeyStore {
	return KeyStore{Keys: make(map[string]KeyMetadata)}
}

// Yocto is a yoctoNEAR amount (10^24 per NEAR). NEAR balances routinely
// exceed a 64-bit range, so amounts are carried as big.Int, mirroring the
// original's u128.
type Yocto struct{ *big.Int }

// NewYocto wraps an int64 amount of yoctoNEAR.
func NewYocto(v int64) Yocto { return Yocto{big.NewInt(v)} }

// ZeroYocto is the additive identity.
func ZeroYocto() Yocto { return NewYocto(0) }

// Add returns a + b without mutating either operand.
func (a Yocto) Add(b Yocto) Yocto {
	if a.Int == nil {
		a = ZeroYocto()
	}
	if b.Int == nil {
		b = ZeroYocto()
	}
	return Yocto{new(big.Int).Add(a.Int, b.Int)}
}

// Cmp compares a against b (-1, 0, 1).
func (a Yocto) Cmp(b Yocto) int {
	if a.Int == nil {
		a = ZeroYocto()
	}
	if b.Int == nil {
		b = ZeroYocto()
	}
	return a.Int.Cmp(b.Int)
}

// IsZero reports whether the amount is exactly zero.
func (a Yocto) IsZero() bool { return a.Int == nil || a.Int.Sign() == 0 }

// MarshalJSON renders the amount as a decimal string (u128 doesn't fit in
// a JSON number safely).
func (a Yocto) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + a.Int.String() + `"`), nil
}

// UnmarshalJSON parses a decimal-string yoctoNEAR amount.
func (a *Yocto) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" {
		s = "0"
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid yoctoNEAR amount %q", s)
	}
	a.Int = v
	return nil
}

// OneNear is 1 NEAR expressed in yoctoNEAR (10^24).
var OneNear = Yocto{mustPow10(24)}

// OneTGas is one "tera gas" unit (10^12), NEAR's gas accounting unit.
const OneTGas uint64 = 1_000_000_000_000

func mustPow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// FormatYocto renders a yoctoNEAR amount as a human-readable "<N> NEAR"
// string with up to 5 decimal places, trimming trailing zeros.
func FormatYocto(amount Yocto) string {
	if amount.Int == nil || amount.Int.Sign() == 0 {
		return "0 NEAR"
	}
	whole := new(big.Int)
	rem := new(big.Int)
	whole.QuoRem(amount.Int, OneNear.Int, rem)
	if rem.Sign() == 0 {
		return fmt.Sprintf("%s NEAR", whole.String())
	}
	// Render the first 5 decimal places of the remainder, truncated.
	scaled := new(big.Int).Mul(rem, big.NewInt(100000))
	scaled.Quo(scaled, OneNear.Int)
	frac := fmt.Sprintf("%05d", scaled.Int64())
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return fmt.Sprintf("%s NEAR", whole.String())
	}
	return fmt.Sprintf("%s.%s NEAR", whole.String(), frac)
}
