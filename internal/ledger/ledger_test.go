package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"tfgate/internal/security"
)

func newTestLedger(t *testing.T) (*Ledger, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), priv)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l, pub
}

// resignWith rebuilds the whole chain under a different key so that every
// hash and link is internally consistent.
func resignWith(t *testing.T, records []Record) {
	t.Helper()
	pub, priv, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	prev := ""
	for i := range records {
		records[i].PrevHash = prev
		records[i].Hash, err = records[i].ComputeHash()
		if err != nil {
			t.Fatalf("hash %d: %v", i, err)
		}
		records[i].Signature = security.SignData(priv, []byte(records[i].Hash))
		records[i].PubKey = hex.EncodeToString(pub)
		prev = records[i].Hash
	}
}

func appendN(t *testing.T, l *Ledger, n int) {
	t.Helper()
	envs := []string{"dev", "sit", "uat", "preprod", "prod"}
	for i := 0; i < n; i++ {
		_, err := l.Append(Entry{
			RunID:        "run-1",
			Stage:        "plan",
			Environment:  envs[i%len(envs)],
			Status:       "succeeded",
			ArtifactHash: "abc123",
			AgentID:      "local",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestAppendLinksRecords(t *testing.T) {
	l, _ := newTestLedger(t)
	appendN(t, l, 3)

	records := l.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].PrevHash != "" {
		t.Fatalf("first record has prev hash %q", records[0].PrevHash)
	}
	for i := 1; i < len(records); i++ {
		if records[i].PrevHash != records[i-1].Hash {
			t.Fatalf("record %d not linked to %d", i, i-1)
		}
	}
	if l.LastHash() != records[2].Hash {
		t.Fatal("LastHash does not match the newest record")
	}
	if err := l.VerifyChain(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestReopenPreservesChain(t *testing.T) {
	l, pub := newTestLedger(t)
	appendN(t, l, 4)

	reopened, err := OpenVerifier(l.Path(), pub)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := len(reopened.Records()); got != 4 {
		t.Fatalf("reopened ledger has %d records", got)
	}
	if err := reopened.VerifyChain(); err != nil {
		t.Fatalf("verify reopened: %v", err)
	}
	if _, err := reopened.Append(Entry{RunID: "run-2"}); err == nil {
		t.Fatal("append without a private key should fail")
	}
}

func TestTamperingIsDetected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(records []Record)
		want   string
	}{
		{"artifact hash", func(r []Record) { r[1].ArtifactHash = "FAKE_HASH_TAMPERED" }, "hash mismatch at index 1"},
		{"status", func(r []Record) { r[2].Status = "failed" }, "hash mismatch at index 2"},
		{"broken link", func(r []Record) {
			r[1].PrevHash = strings.Repeat("0", 64)
			r[1].Hash, _ = r[1].ComputeHash()
		}, "prev hash mismatch at index 1"},
		{"forged signature", func(r []Record) { r[0].Signature = r[1].Signature }, "invalid signature at index 0"},
		{"re-signed with foreign key", func(r []Record) {
			r[1].Status = "succeeded-after-retry"
			resignWith(t, r)
		}, "untrusted signing key at index 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, pub := newTestLedger(t)
			appendN(t, l, 3)
			if err := l.VerifyChain(); err != nil {
				t.Fatalf("verify before tamper: %v", err)
			}

			records := l.Records()
			tt.mutate(records)
			if err := l.Rewrite(records); err != nil {
				t.Fatalf("rewrite: %v", err)
			}

			reopened, err := OpenVerifier(l.Path(), pub)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			err = reopened.VerifyChain()
			if err == nil {
				t.Fatal("expected verification failure after tampering")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q, want %q", err, tt.want)
			}
		})
	}
}

func TestVerifyRequiresTrustedKey(t *testing.T) {
	l, _ := newTestLedger(t)
	appendN(t, l, 2)

	if _, err := OpenVerifier(l.Path(), nil); err == nil {
		t.Fatal("opening a verifier without a key should fail")
	}

	other, _, err := security.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	stranger, err := OpenVerifier(l.Path(), other)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := stranger.VerifyChain(); err == nil || !strings.Contains(err.Error(), "untrusted signing key at index 0") {
		t.Fatalf("verify under another key = %v", err)
	}
}
