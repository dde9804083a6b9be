package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"tfgate/internal/security"
)

// VerifyChain re-computes each record hash, its link to the previous record
// and its signature under the ledger's trusted public key. The key embedded
// in a record is only compared against the trusted one, never used to verify.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pub) != ed25519.PublicKeySize {
		return errors.New("no trusted public key to verify against")
	}
	trusted := hex.EncodeToString(l.pub)

	for i, rec := range l.records {
		if rec.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, rec.Index)
		}

		h, err := rec.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", rec.Index, err)
		}
		if h != rec.Hash {
			return fmt.Errorf("hash mismatch at index %d", rec.Index)
		}

		if i > 0 && rec.PrevHash != l.records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", rec.Index)
		}
		if i == 0 && rec.PrevHash != "" {
			return fmt.Errorf("first record has prev hash %q", rec.PrevHash)
		}

		if rec.PubKey != trusted {
			return fmt.Errorf("untrusted signing key at index %d", rec.Index)
		}
		ok, err := security.VerifySignature(l.pub, []byte(rec.Hash), rec.Signature)
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", rec.Index, err)
		}
		if !ok {
			return fmt.Errorf("invalid signature at index %d", rec.Index)
		}
	}
	return nil
}
