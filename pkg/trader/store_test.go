package trader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "positions.json")
	store := NewStore(storePath, nil)

	positions := map[string]*Position{
		"MINT1": {
			Mint: "MINT1", AveragePrice: 0.002, Decimals: 6, TotalTokens: 1000, TotalCostSOL: 0.04,
			LeadHunter: "H1", LeadHunterScore: 85, EntryTime: 1000,
			Shares: map[string]VirtualShare{"H1": {Score: 85, TokenAmount: 1000}},
		},
	}
	if err := store.Save(positions); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, err := NewStore(storePath, nil).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pos, ok := restored["MINT1"]
	if !ok || pos.TotalTokens != 1000 || pos.LeadHunter != "H1" {
		t.Fatalf("expected MINT1 restored with total_tokens 1000, got %+v ok=%v", pos, ok)
	}
}

func TestStoreLoadDropsClosedPositions(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "positions.json")
	store := NewStore(storePath, nil)

	positions := map[string]*Position{
		"MINT1": {Mint: "MINT1", TotalTokens: 0},
		"MINT2": {Mint: "MINT2", TotalTokens: 500},
	}
	if err := store.Save(positions); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, err := NewStore(storePath, nil).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := restored["MINT1"]; ok {
		t.Fatal("expected a zeroed position to not survive reload")
	}
	if _, ok := restored["MINT2"]; !ok {
		t.Fatal("expected an open position to survive reload")
	}
}

func TestStoreBackupCreatedBeforeOverwrite(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "positions.json")
	store := NewStore(storePath, nil)

	store.Save(map[string]*Position{"MINT1": {Mint: "MINT1", TotalTokens: 100}})
	store.Save(map[string]*Position{"MINT1": {Mint: "MINT1", TotalTokens: 200}})

	if _, err := os.Stat(storePath + ".bak"); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestStoreLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "missing.json"), nil)

	positions, err := store.Load()
	if err != nil {
		t.Fatalf("expected a missing store file to not be an error, got %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected an empty map, got %+v", positions)
	}
}
