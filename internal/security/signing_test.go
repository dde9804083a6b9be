package security

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sig := SignData(priv, []byte("record-hash"))

	ok, err := VerifySignature(pub, []byte("record-hash"), sig)
	if err != nil || !ok {
		t.Fatalf("valid signature rejected: %v", err)
	}
	ok, err = VerifySignature(pub, []byte("other"), sig)
	if err != nil || ok {
		t.Fatalf("signature accepted for different data: %v", err)
	}
	if _, err := VerifySignature(pub, []byte("x"), "zz"); err == nil {
		t.Fatal("expected error for malformed signature")
	}
}

func TestEnsureKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	pub, priv, created, err := EnsureKeyPair(dir)
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("private key mode = %v", info.Mode().Perm())
	}

	pub2, priv2, created, err := EnsureKeyPair(dir)
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
	if !pub.Equal(pub2) || !priv.Equal(priv2) {
		t.Fatal("reloaded keys differ")
	}
}

func TestEnsureKeyPairMismatch(t *testing.T) {
	dir := t.TempDir()
	if _, _, _, err := EnsureKeyPair(dir); err != nil {
		t.Fatal(err)
	}
	other, _, _ := GenerateKeyPair()
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(hex.EncodeToString(other)), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := EnsureKeyPair(dir); err == nil {
		t.Fatal("expected error for mismatched key pair")
	}
}
