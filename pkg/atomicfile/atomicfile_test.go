package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := WriteJSON(path, map[string]string{"name": "山田 <太郎>"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteJSON(path, map[string]int{"n": 2}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["n"] != 2 {
		t.Fatalf("unexpected content %v", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestWriteJSONKeepsNonASCII(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := WriteJSON(path, map[string]string{"name": "山田 <太郎>"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "{\n  \"name\": \"山田 <太郎>\"\n}\n" {
		t.Fatalf("unexpected encoding %q", b)
	}
}

func TestReadJSONCorruptLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"entries": [`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var v map[string]interface{}
	err := ReadJSON(path, &v)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != `{"entries": [` {
		t.Fatalf("corrupt file was modified: %q", b)
	}
}

func TestReadJSONMissing(t *testing.T) {
	var v map[string]interface{}
	if err := ReadJSON(filepath.Join(t.TempDir(), "none.json"), &v); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
