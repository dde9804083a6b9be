package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record is a tamper-evident entry for one finished task.
type Record struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	RunID        string `json:"runId"`
	Stage        string `json:"stage"`
	Environment  string `json:"environment"`
	Status       string `json:"status"`
	ArtifactPath string `json:"artifactPath,omitempty"`
	ArtifactHash string `json:"artifactHash,omitempty"`
	AgentID      string `json:"agentId"`
	PrevHash     string `json:"prevHash"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	PubKey       string `json:"pubKey"`
}

// Entry is the caller-supplied part of a record; the ledger fills in the
// index, timestamp, chain link and signature.
type Entry struct {
	RunID        string
	Stage        string
	Environment  string
	Status       string
	ArtifactPath string
	ArtifactHash string
	AgentID      string
}

// canonicalData returns the JSON bytes used to compute the record hash.
// Hash, Signature and PubKey are excluded.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index        int    `json:"index"`
		Timestamp    string `json:"timestamp"`
		RunID        string `json:"runId"`
		Stage        string `json:"stage"`
		Environment  string `json:"environment"`
		Status       string `json:"status"`
		ArtifactPath string `json:"artifactPath"`
		ArtifactHash string `json:"artifactHash"`
		AgentID      string `json:"agentId"`
		PrevHash     string `json:"prevHash"`
	}{
		Index:        r.Index,
		Timestamp:    r.Timestamp,
		RunID:        r.RunID,
		Stage:        r.Stage,
		Environment:  r.Environment,
		Status:       r.Status,
		ArtifactPath: r.ArtifactPath,
		ArtifactHash: r.ArtifactHash,
		AgentID:      r.AgentID,
		PrevHash:     r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func newRecord(index int, e Entry, prevHash string, at time.Time) (*Record, error) {
	rec := &Record{
		Index:        index,
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
		RunID:        e.RunID,
		Stage:        e.Stage,
		Environment:  e.Environment,
		Status:       e.Status,
		ArtifactPath: e.ArtifactPath,
		ArtifactHash: e.ArtifactHash,
		AgentID:      e.AgentID,
		PrevHash:     prevHash,
	}
	h, err := rec.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}
	rec.Hash = h
	return rec, nil
}
