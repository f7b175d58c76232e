// Package spend tracks how much yoctoNEAR has moved out of managed keys
// today, so the policy engine in internal/keys/policy can enforce a
// daily spend limit across transactions instead of per-transaction
// limits alone.
package spend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ironclaw/ironclaw/internal/keys"
)

// Entry is one recorded spend event.
type Entry struct {
	Date        string     `json:"date"` // YYYY-MM-DD, tracker's local day
	AmountYocto keys.Yocto `json:"amount_yocto"`
	Description string     `json:"description"`
	TxHash      string     `json:"tx_hash,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

type ledger struct {
	Entries []Entry `json:"entries"`
}

// Tracker is a file-backed daily spend ledger. A single mutex guards the
// file; IronClaw runs one signing path per process so this is
// sufficient without a cross-process file lock.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// New returns a Tracker backed by the ledger file at path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// DefaultPath is ~/.ironclaw/spend.json, the tracker's default location
// when the caller does not configure one.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ironclaw", "spend.json")
}

// GetDailySpend sums every entry recorded today (tracker's local day).
func (t *Tracker) GetDailySpend() (keys.Yocto, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.load()
	if err != nil {
		return keys.ZeroYocto(), err
	}
	today := time.Now().Format("2006-01-02")
	total := keys.ZeroYocto()
	for _, e := range l.Entries {
		if e.Date == today {
			total = total.Add(e.AmountYocto)
		}
	}
	return total, nil
}

// RecordSpend appends a spend entry dated today. It records whatever amount
// it is given, zero included; keys.Manager.Sign calls it only for
// transactions with a nonzero total value, so zero-value signings leave no
// entry.
func (t *Tracker) RecordSpend(amount keys.Yocto, description string, txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.load()
	if err != nil {
		return err
	}
	l.Entries = append(l.Entries, Entry{
		Date:        time.Now().Format("2006-01-02"),
		AmountYocto: amount,
		Description: description,
		TxHash:      txHash,
		RecordedAt:  time.Now(),
	})
	return t.save(l)
}

// PruneOlderThan removes ledger entries dated before today minus retentionDays
// and returns how many were dropped. Call this on a daily rollover so the
// on-disk ledger does not grow without bound; today's entries are always
// kept regardless of retentionDays so GetDailySpend stays correct.
func (t *Tracker) PruneOlderThan(retentionDays int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.load()
	if err != nil {
		return 0, err
	}
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	kept := l.Entries[:0]
	dropped := 0
	for _, e := range l.Entries {
		if e.Date < cutoff {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	if dropped == 0 {
		return 0, nil
	}
	l.Entries = kept
	if err := t.save(l); err != nil {
		return 0, err
	}
	return dropped, nil
}

func (t *Tracker) load() (*ledger, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ledger{}, nil
		}
		return nil, fmt.Errorf("read spend ledger: %w", err)
	}
	var l ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse spend ledger: %w", err)
	}
	return &l, nil
}

func (t *Tracker) save(l *ledger) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return fmt.Errorf("create spend ledger directory: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spend ledger: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write spend ledger: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace spend ledger: %w", err)
	}
	return nil
}
