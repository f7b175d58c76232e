package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/keys/backup"
	"github.com/ironclaw/ironclaw/internal/keys/policy"
	"github.com/ironclaw/ironclaw/internal/keys/spend"
	"github.com/ironclaw/ironclaw/internal/secrets"
)

// RPCClient is the narrow surface KeyManager needs from a NEAR RPC node:
// enough to build and broadcast a transaction. Production wiring points
// this at a JSON-RPC client; tests supply a stub.
type RPCClient interface {
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (nonce uint64, blockHash BlockHash, err error)
	BroadcastTx(ctx context.Context, signed SignedTransaction) (txHash string, err error)
}

// SecretReader is the subset of secrets.Store KeyManager needs, addressed
// as "near_key:<label>".
type SecretReader interface {
	GetDecrypted(user, name string) (*secrets.SecretString, error)
	Create(user, name, value, provider string) error
}

const secretPrefix = "near_key:"

func secretName(label string) string { return secretPrefix + label }

// Manager owns the non-secret KeyStore, delegates secret key material to a
// SecretReader, and drives the generate/import/sign/backup/restore
// lifecycle. Sign loads private key bytes into a buffer only for the
// signing step and zeroes it right after; GenerateKey, Backup and Restore
// also hold key material in memory while they run and do not zero it.
type Manager struct {
	mu      sync.Mutex
	store   KeyStore
	secrets SecretReader
	rpc     RPCClient
	spend   *spend.Tracker
	policy  *policy.PolicyConfig
	user    string
}

// NewManager builds a Manager. policyCfg may be nil, in which case
// policy.DefaultPolicy() is used.
func NewManager(secretStore SecretReader, rpc RPCClient, spendTracker *spend.Tracker, policyCfg *policy.PolicyConfig, user string) *Manager {
	if policyCfg == nil {
		policyCfg = policy.DefaultPolicy()
	}
	return &Manager{
		store:   NewKeyStore(),
		secrets: secretStore,
		rpc:     rpc,
		spend:   spendTracker,
		policy:  policyCfg,
		user:    user,
	}
}

// GenerateKey creates a new Ed25519 key under label, stores the secret
// scalar in the secrets store, and records its metadata.
func (m *Manager) GenerateKey(label, accountID string, permission AccessKeyPermission, network NearNetwork) (KeyMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store.Keys[label]; exists {
		return KeyMetadata{}, ErrAlreadyExistsFor(label)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyMetadata{}, NewKeyError(ErrIO, "generate ed25519 key").WithCause(err)
	}
	nearPub := NearPublicKey{KeyType: KeyTypeEd25519, Data: pub}
	nearSecret := fmt.Sprintf("ed25519:%s", base58Encode(priv))

	if err := m.secrets.Create(m.user, secretName(label), nearSecret, "near"); err != nil {
		return KeyMetadata{}, NewKeyError(ErrIO, "persist secret key").WithCause(err)
	}

	meta := KeyMetadata{
		Label:      label,
		AccountID:  accountID,
		PublicKey:  nearPub.ToNearFormat(),
		Permission: permission,
		Network:    network,
		CreatedAt:  time.Now(),
	}
	m.store.Keys[label] = meta
	return meta, nil
}

// Sign builds, hashes, and signs tx using the key at label, following the
// spec's signing sequence: fetch nonce+block hash, build the transaction,
// hash it, briefly load the secret key, sign, clear the secret. On success
// with a nonzero total value it records spend via the tracker, and the
// tracker's own lock is never held while the policy engine runs (they are
// independent locks acquired in sequence, not nested).
func (m *Manager) Sign(ctx context.Context, label string, receiverID NearAccountId, actions []Action) (SignedTransaction, policy.PolicyDecision, error) {
	m.mu.Lock()
	meta, ok := m.store.Keys[label]
	m.mu.Unlock()
	if !ok {
		return SignedTransaction{}, policy.PolicyDecision{}, ErrNotFoundFor(label)
	}

	signerID, err := NewNearAccountId(meta.AccountID)
	if err != nil {
		return SignedTransaction{}, policy.PolicyDecision{}, NewKeyError(ErrInvalidKey, "stored account id is invalid").WithLabel(label).WithCause(err)
	}
	pub, err := NearPublicKeyFromNearFormat(meta.PublicKey)
	if err != nil {
		return SignedTransaction{}, policy.PolicyDecision{}, NewKeyError(ErrInvalidKey, "stored public key is invalid").WithLabel(label).WithCause(err)
	}

	nonce, blockHash, err := m.rpc.ViewAccessKey(ctx, meta.AccountID, meta.PublicKey)
	if err != nil {
		return SignedTransaction{}, policy.PolicyDecision{}, NewKeyError(ErrRPCFailed, "view_access_key failed").WithLabel(label).WithCause(err)
	}

	tx := Transaction{
		SignerID:   signerID,
		PublicKey:  pub,
		Nonce:      nonce + 1,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}

	analysis := policy.AnalyzeTransaction(tx, meta.Permission, m.policy)
	spentToday := ZeroYocto()
	if m.spend != nil {
		if total, err := m.spend.GetDailySpend(); err == nil {
			spentToday = total
		}
	}
	decision := m.policy.Evaluate(tx, meta.Permission, analysis, spentToday)
	if decision.Kind == policy.DecisionDeny {
		return SignedTransaction{}, decision, NewKeyError(ErrPolicyDenied, decision.Reason).WithLabel(label)
	}
	if decision.Kind == policy.DecisionRequireApproval {
		return SignedTransaction{}, decision, NewKeyError(ErrApprovalRequired, "transaction requires approval").WithLabel(label)
	}

	hash, err := tx.HashForSigning()
	if err != nil {
		return SignedTransaction{}, decision, NewKeyError(ErrSerializationFailed, "hash transaction").WithCause(err)
	}

	secret, err := m.secrets.GetDecrypted(m.user, secretName(label))
	if err != nil {
		return SignedTransaction{}, decision, NewKeyError(ErrNotFound, "secret key unavailable").WithLabel(label).WithCause(err)
	}
	priv, err := decodeNearSecret(secret.Expose())
	secret.Zero()
	if err != nil {
		return SignedTransaction{}, decision, NewKeyError(ErrInvalidKey, "decode secret key").WithLabel(label).WithCause(err)
	}

	sig := ed25519.Sign(priv, hash)
	for i := range priv {
		priv[i] = 0
	}

	signed := SignedTransaction{Transaction: tx, Signature: Signature{KeyType: KeyTypeEd25519, Data: sig}}

	if m.spend != nil && !analysis.TotalValueYocto.IsZero() {
		if err := m.spend.RecordSpend(analysis.TotalValueYocto, analysis.Summary, ""); err != nil {
			return signed, decision, NewKeyError(ErrIO, "record spend").WithCause(err)
		}
	}

	return signed, decision, nil
}

// Broadcast submits a signed transaction via the RPC client. The spend
// tracker already recorded the amount at Sign time, not here -- a
// transaction that fails to broadcast was still the "spent intent" the
// policy engine evaluated against.
func (m *Manager) Broadcast(ctx context.Context, signed SignedTransaction) (string, error) {
	txHash, err := m.rpc.BroadcastTx(ctx, signed)
	if err != nil {
		return "", NewKeyError(ErrRPCFailed, "broadcast_tx failed").WithCause(err)
	}
	return txHash, nil
}

func decodeNearSecret(nearFormat string) (ed25519.PrivateKey, error) {
	pub, err := NearPublicKeyFromNearFormat(nearFormat)
	if err != nil {
		return nil, err
	}
	if pub.KeyType != KeyTypeEd25519 {
		return nil, fmt.Errorf("unsupported key type %q for signing", pub.KeyType)
	}
	if len(pub.Data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("malformed ed25519 secret key: got %d bytes, want %d", len(pub.Data), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(pub.Data), nil
}

// Backup encrypts every managed key's secret material into a portable
// envelope and marks the store's LastBackupAt.
func (m *Manager) Backup(passphrase string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]backup.BackupEntry, 0, len(m.store.Keys))
	for label, meta := range m.store.Keys {
		secret, err := m.secrets.GetDecrypted(m.user, secretName(label))
		if err != nil {
			return nil, NewKeyError(ErrNotFound, "secret key unavailable").WithLabel(label).WithCause(err)
		}
		entries = append(entries, backup.BackupEntry{
			Label:               label,
			AccountID:           meta.AccountID,
			SecretKeyNearFormat: secret.Expose(),
			Permission:          meta.Permission,
			Network:             meta.Network,
		})
		secret.Zero()
	}

	envelope, err := backup.Create(entries, passphrase)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	m.store.LastBackupAt = &now
	return envelope, nil
}

// Restore decrypts envelope and adds any keys the store doesn't already
// hold under that label. Existing labels are left untouched.
func (m *Manager) Restore(envelope []byte, passphrase string) ([]string, error) {
	entries, err := backup.Restore(envelope, passphrase)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var added []string
	for _, e := range entries {
		if _, exists := m.store.Keys[e.Label]; exists {
			continue
		}
		priv, err := decodeNearSecret(e.SecretKeyNearFormat)
		if err != nil {
			continue
		}
		pub := priv.Public().(ed25519.PublicKey)
		nearPub := NearPublicKey{KeyType: KeyTypeEd25519, Data: pub}

		if err := m.secrets.Create(m.user, secretName(e.Label), e.SecretKeyNearFormat, "near"); err != nil {
			continue
		}
		m.store.Keys[e.Label] = KeyMetadata{
			Label:      e.Label,
			AccountID:  e.AccountID,
			PublicKey:  nearPub.ToNearFormat(),
			Permission: e.Permission,
			Network:    e.Network,
			CreatedAt:  time.Now(),
		}
		added = append(added, e.Label)
	}
	return added, nil
}

// Store returns a snapshot of the non-secret key metadata.
func (m *Manager) Store() KeyStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}
