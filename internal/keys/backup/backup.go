// Package backup implements the encrypted key backup/restore envelope:
// magic + version header, Argon2id-derived AES-256-GCM encryption of a
// JSON payload listing every managed key's secret material.
package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/ironclaw/ironclaw/internal/keys"
)

var magic = [4]byte{'I', 'C', 'L', 'K'}

const formatVersion uint32 = 1

const (
	saltSize  = 32
	nonceSize = 12
	keySize   = 32
)

// Argon2id parameters. Tuned for an interactive restore (under a second on
// commodity hardware) rather than maximum resistance; the backup file
// itself is expected to live somewhere already access-controlled (the
// user's own disk or a password manager attachment), so this is a second
// layer, not the only one.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// BackupEntry is one managed key as it appears inside the encrypted
// payload: everything needed to restore the key store entry plus the
// secret key material itself, in NEAR format.
type BackupEntry struct {
	Label               string                    `json:"label"`
	AccountID            string                    `json:"account_id"`
	SecretKeyNearFormat  string                    `json:"secret_key_near_format"`
	Permission           keys.AccessKeyPermission  `json:"permission"`
	Network              keys.NearNetwork          `json:"network"`
}

// payload is the plaintext JSON document that gets encrypted.
type payload struct {
	Version   uint32        `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Keys      []BackupEntry `json:"keys"`
}

// Create encrypts entries under passphrase and returns the full envelope:
// magic + version + salt + nonce + ciphertext.
func Create(entries []BackupEntry, passphrase string) ([]byte, error) {
	p := payload{Version: formatVersion, CreatedAt: time.Now(), Keys: entries}
	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, keys.NewKeyError(keys.ErrSerializationFailed, "encode backup payload").WithCause(err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, keys.NewKeyError(keys.ErrIO, "generate backup salt").WithCause(err)
	}
	key := deriveKey(passphrase, salt)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, keys.NewKeyError(keys.ErrIO, "init backup cipher").WithCause(err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, keys.NewKeyError(keys.ErrIO, "generate backup nonce").WithCause(err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	var buf bytes.Buffer
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, formatVersion)
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Restore decrypts an envelope produced by Create. Any failure -- wrong
// magic, unsupported version, wrong passphrase, truncated/corrupted file
// -- surfaces as the same generic backup error (keys.NewBackupError), so a
// caller (or an attacker watching error messages) cannot distinguish "bad
// passphrase" from "corrupted file" from "wrong file entirely".
func Restore(envelope []byte, passphrase string) ([]BackupEntry, error) {
	entries, _, err := restore(envelope, passphrase)
	return entries, err
}

func restore(envelope []byte, passphrase string) ([]BackupEntry, time.Time, error) {
	minLen := len(magic) + 4 + saltSize + nonceSize
	if len(envelope) < minLen {
		return nil, time.Time{}, keys.NewBackupError(fmt.Errorf("envelope too short"))
	}
	if !bytes.Equal(envelope[:4], magic[:]) {
		return nil, time.Time{}, keys.NewBackupError(fmt.Errorf("bad magic"))
	}
	version := binary.LittleEndian.Uint32(envelope[4:8])
	if version != formatVersion {
		return nil, time.Time{}, keys.NewBackupError(fmt.Errorf("unsupported version %d", version))
	}

	offset := 8
	salt := envelope[offset : offset+saltSize]
	offset += saltSize
	nonce := envelope[offset : offset+nonceSize]
	offset += nonceSize
	ciphertext := envelope[offset:]

	key := deriveKey(passphrase, salt)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, time.Time{}, keys.NewBackupError(err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, time.Time{}, keys.NewBackupError(err)
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, time.Time{}, keys.NewBackupError(err)
	}
	return p.Keys, p.CreatedAt, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// PendingLabels returns the labels in entries that store does not already
// hold -- the set Restore would actually add. A restore never clobbers a
// live key; the caller (KeyManager.Restore) derives each entry's public
// key from its secret scalar and writes KeyMetadata itself, since that
// derivation depends on the key's curve and belongs with the signing code,
// not the envelope format.
func PendingLabels(store *keys.KeyStore, entries []BackupEntry) []string {
	var pending []string
	for _, e := range entries {
		if _, exists := store.Keys[e.Label]; !exists {
			pending = append(pending, e.Label)
		}
	}
	return pending
}
