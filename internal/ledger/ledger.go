package ledger

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tfgate/internal/security"
)

// Ledger is an append-only, hash-chained, signed log of task results.
// File format: JSON lines, one record per line.
type Ledger struct {
	mu      sync.Mutex
	records []*Record
	path    string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey

	now func() time.Time
}

// Open loads an existing ledger file or creates an empty one for appending.
// Records are signed with priv and verified against its public half.
func Open(path string, priv ed25519.PrivateKey) (*Ledger, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("ledger: invalid private key")
	}
	return load(path, priv, priv.Public().(ed25519.PublicKey))
}

// OpenVerifier loads a ledger for read-only use (inspect, verify). Records
// only verify if they were signed by the holder of pub; Append fails.
func OpenVerifier(path string, pub ed25519.PublicKey) (*Ledger, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("ledger: invalid public key")
	}
	return load(path, nil, pub)
}

func load(path string, priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Ledger, error) {
	l := &Ledger{path: path, priv: priv, pub: pub, now: time.Now}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create ledger: %w", err)
		}
		_ = f.Close()
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.records), err)
		}
		l.records = append(l.records, &rec)
	}
	return l, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Append links, signs and persists a record for e.
func (l *Ledger) Append(e Entry) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.priv) == 0 {
		return nil, fmt.Errorf("private key is empty, cannot sign record")
	}

	prev := ""
	if n := len(l.records); n > 0 {
		prev = l.records[n-1].Hash
	}
	rec, err := newRecord(len(l.records), e, prev, l.now())
	if err != nil {
		return nil, err
	}
	rec.Signature = security.SignData(l.priv, []byte(rec.Hash))
	rec.PubKey = hex.EncodeToString(l.pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.records = append(l.records, rec)
	return rec, nil
}

// Records returns copies of the loaded records.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = *r
	}
	return out
}

// LastHash returns the last record hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return ""
	}
	return l.records[len(l.records)-1].Hash
}

// Rewrite replaces the file content with records as given. It exists for the
// tamper drill in the CLI and for tests; it does not re-sign anything.
func (l *Ledger) Rewrite(records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	l.records = l.records[:0]
	for i := range records {
		rec := records[i]
		if err := enc.Encode(&rec); err != nil {
			return fmt.Errorf("rewrite ledger: %w", err)
		}
		l.records = append(l.records, &rec)
	}
	return nil
}
