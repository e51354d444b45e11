// Package audit provides the escrow audit logger: a synchronous path
// that writes straight to the external ledger, an asynchronous queue
// drained by a single consumer, and a local hash-chained mirror for fast
// per-transaction reads.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

var (
	ErrChainBroken = errors.New("hash chain is broken")
)

// MirrorEntry wraps one mirrored event with chain metadata.
type MirrorEntry struct {
	Sequence     uint64                    `json:"sequence"`
	Event        contracts.BlockchainEvent `json:"event"`
	PayloadHash  string                    `json:"payload_hash"`
	PreviousHash string                    `json:"previous_hash"`
	EntryHash    string                    `json:"entry_hash"`
}

// MirrorStore is the append-only local copy of ledger events. It is a
// best-effort mirror: async events appear only after the queue drains.
// Entries are hash-chained so local tampering is detectable.
type MirrorStore struct {
	mu        sync.RWMutex
	entries   []*MirrorEntry
	byTx      map[string][]*MirrorEntry
	sequence  uint64
	chainHead string
}

// NewMirrorStore creates an empty mirror.
func NewMirrorStore() *MirrorStore {
	return &MirrorStore{
		byTx:      make(map[string][]*MirrorEntry),
		chainHead: "genesis",
	}
}

// Append records one event, linking it to the previous entry.
func (m *MirrorStore) Append(event contracts.BlockchainEvent) (*MirrorEntry, error) {
	payloadHash, err := hashCanonical(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	entry := &MirrorEntry{
		Sequence:     m.sequence,
		Event:        event,
		PayloadHash:  payloadHash,
		PreviousHash: m.chainHead,
	}
	entryHash, err := hashEntry(entry)
	if err != nil {
		m.sequence--
		return nil, fmt.Errorf("hash entry: %w", err)
	}
	entry.EntryHash = entryHash

	m.entries = append(m.entries, entry)
	m.byTx[event.TransactionID] = append(m.byTx[event.TransactionID], entry)
	m.chainHead = entryHash
	return entry, nil
}

// ByTransaction returns the mirrored events for one transaction in
// append order.
func (m *MirrorStore) ByTransaction(transactionID string) []contracts.BlockchainEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byTx[transactionID]
	out := make([]contracts.BlockchainEvent, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

// Len returns the number of mirrored events.
func (m *MirrorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// VerifyChain walks the chain and recomputes every hash.
func (m *MirrorStore) VerifyChain() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prev := "genesis"
	for i, entry := range m.entries {
		if entry.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrChainBroken, i)
		}
		stored := entry.EntryHash
		clone := *entry
		clone.EntryHash = ""
		recomputed, err := hashEntry(&clone)
		if err != nil {
			return fmt.Errorf("recompute hash at %d: %w", i, err)
		}
		if recomputed != stored {
			return fmt.Errorf("%w: entry %d content hash mismatch", ErrChainBroken, i)
		}
		prev = stored
	}
	return nil
}

func hashEntry(entry *MirrorEntry) (string, error) {
	return hashCanonical(map[string]any{
		"sequence":      entry.Sequence,
		"event_id":      entry.Event.ID,
		"event_type":    string(entry.Event.EventType),
		"tx_id":         entry.Event.TransactionID,
		"timestamp":     entry.Event.Timestamp,
		"payload_hash":  entry.PayloadHash,
		"previous_hash": entry.PreviousHash,
	})
}

func hashCanonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
