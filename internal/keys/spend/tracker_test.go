package spend

import (
	"path/filepath"
	"testing"

	"github.com/ironclaw/ironclaw/internal/keys"
)

func TestRecordAndGetDailySpend(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "spend.json"))

	got, err := tr.GetDailySpend()
	if err != nil {
		t.Fatalf("GetDailySpend on empty ledger: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero spend on empty ledger, got %s", got.Int.String())
	}

	if err := tr.RecordSpend(keys.NewYocto(5), "transfer to bob.near", "tx1"); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	if err := tr.RecordSpend(keys.NewYocto(7), "transfer to carol.near", "tx2"); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	got, err = tr.GetDailySpend()
	if err != nil {
		t.Fatalf("GetDailySpend: %v", err)
	}
	if got.Cmp(keys.NewYocto(12)) != 0 {
		t.Fatalf("expected daily spend 12, got %s", got.Int.String())
	}
}

func TestDailySpendPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spend.json")

	if err := New(path).RecordSpend(keys.NewYocto(3), "gas", ""); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	reopened := New(path)
	got, err := reopened.GetDailySpend()
	if err != nil {
		t.Fatalf("GetDailySpend: %v", err)
	}
	if got.Cmp(keys.NewYocto(3)) != 0 {
		t.Fatalf("expected spend 3 after reopen, got %s", got.Int.String())
	}
}
