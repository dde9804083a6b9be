package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.log")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Digest(empty)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("empty digest = %s", got)
	}

	s := NewArtifactStore(dir)
	path, err := s.SaveLog("run-1", "apply", "dev", "Apply complete! Resources: 2 added.", 0)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	first, err := Digest(path)
	if err != nil {
		t.Fatalf("digest log: %v", err)
	}
	if first == got {
		t.Fatal("log digest equals empty digest")
	}
	if _, err := s.SaveLog("run-1", "apply", "dev", "Apply complete! Resources: 3 added.", 0); err != nil {
		t.Fatal(err)
	}
	if second, _ := Digest(path); second == first {
		t.Fatal("digest unchanged after the log changed")
	}

	if _, err := Digest(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
