package eduapi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := store.Set("k1", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if v, err := store.Get("k1"); err != nil || v != "v1" {
		t.Errorf("Get(k1) = %q, %v", v, err)
	}

	if err := store.Set("k1", "v2"); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}
	if v, _ := store.Get("k1"); v != "v2" {
		t.Errorf("expected overwritten value, got %q", v)
	}

	if err := store.Remove("k1"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := store.Get("k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected key removed, got %v", err)
	}

	if err := store.Remove("never-existed"); err != nil {
		t.Errorf("removing absent key must not fail: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	runStoreContract(t, NewFileStore(path))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	if err := NewFileStore(path).Set("k1", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, err := NewFileStore(path).Get("k1")
	if err != nil || v != "v1" {
		t.Errorf("second instance Get(k1) = %q, %v", v, err)
	}
}

func TestFileStoreMissingFileReadsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "tokens.json"))
	if _, err := store.Get("k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file Get = %v, want ErrNotFound", err)
	}
}

func TestFileStoreToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	if _, err := store.Get("k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt file Get = %v, want ErrNotFound", err)
	}

	// Next write recovers the file.
	if err := store.Set("k1", "v1"); err != nil {
		t.Fatalf("Set() after corruption: %v", err)
	}
	if v, err := store.Get("k1"); err != nil || v != "v1" {
		t.Errorf("Get after recovery = %q, %v", v, err)
	}
}

func TestFileStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "tokens.json")
	if err := NewFileStore(path).Set("k1", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file created: %v", err)
	}
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	if err := NewFileStore(path).Set("k1", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tokens.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}
