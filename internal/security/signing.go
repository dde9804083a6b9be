package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PublicKeyFile  = "ledger.pub"
	PrivateKeyFile = "ledger.key"
)

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SaveKeyPair writes both keys as hex files readable only by the owner.
func SaveKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, pubPath, privPath string) error {
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600)
}

// EnsureKeyPair loads the signing keys from dir, generating and saving a new
// pair on first use. created reports whether a pair was generated.
func EnsureKeyPair(dir string) (pub ed25519.PublicKey, priv ed25519.PrivateKey, created bool, err error) {
	pubPath := filepath.Join(dir, PublicKeyFile)
	privPath := filepath.Join(dir, PrivateKeyFile)

	if _, statErr := os.Stat(privPath); errors.Is(statErr, os.ErrNotExist) {
		pub, priv, err = GenerateKeyPair()
		if err != nil {
			return nil, nil, false, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, false, err
		}
		if err := SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
			return nil, nil, false, err
		}
		return pub, priv, true, nil
	}

	priv, err = LoadPrivateKey(privPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load private key: %w", err)
	}
	pub, err = LoadPublicKey(pubPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load public key: %w", err)
	}
	if !pub.Equal(priv.Public()) {
		return nil, nil, false, errors.New("public key does not match private key")
	}
	return pub, priv, false, nil
}

// LoadPrivateKey loads an ed25519 private key from a hex-encoded file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	keyBytes, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.PrivateKey(keyBytes), nil
}

// LoadPublicKey loads an ed25519 public key from a hex-encoded file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	keyBytes, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return ed25519.PublicKey(keyBytes), nil
}

func readHex(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(data)))
}

// SignData signs arbitrary data and returns the hex signature.
func SignData(priv ed25519.PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, data))
}

// VerifySignature verifies a hex signature of data.
func VerifySignature(pub ed25519.PublicKey, data []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}
