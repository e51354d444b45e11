package walletsec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// ActionEntry is one tamper-evident record of a wallet security action.
type ActionEntry struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	WalletID    string                 `json:"wallet_id"`
	OperationID string                 `json:"operation_id,omitempty"`
	Action      contracts.WalletAction `json:"action"`
	Actor       string                 `json:"actor"`
	Details     string                 `json:"details,omitempty"`

	// PreviousHash links this entry to the preceding one.
	PreviousHash string `json:"previous_hash"`
	// Hash is the SHA-256 digest of this entry (including PreviousHash).
	Hash string `json:"hash"`
}

// ActionLog is the engine's own append-only audit trail of wallet
// actions, hash-chained so any rewrite of history is detectable.
type ActionLog struct {
	mu      sync.RWMutex
	entries []ActionEntry
	clock   func() time.Time
}

// NewActionLog creates an empty log. clock may be nil (wall clock).
func NewActionLog(clock func() time.Time) *ActionLog {
	if clock == nil {
		clock = time.Now
	}
	return &ActionLog{clock: clock}
}

// Append adds a new entry, linking it to the previous one.
func (l *ActionLog) Append(walletID, operationID string, action contracts.WalletAction, actor, details string) (*ActionEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}

	now := l.clock()
	entry := ActionEntry{
		ID:           fmt.Sprintf("wact_%d", now.UnixNano()),
		Timestamp:    now.UTC(),
		WalletID:     walletID,
		OperationID:  operationID,
		Action:       action,
		Actor:        actor,
		Details:      details,
		PreviousHash: prevHash,
	}

	hash, err := computeEntryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	return &entry, nil
}

// Entries returns a copy of the log.
func (l *ActionLog) Entries() []ActionEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ActionEntry(nil), l.entries...)
}

// VerifyChain checks the integrity of the log: each entry's PreviousHash
// must match the preceding entry's hash, and each content hash must
// recompute to its stored value.
func (l *ActionLog) VerifyChain() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, entry := range l.entries {
		if i > 0 {
			if entry.PreviousHash != l.entries[i-1].Hash {
				return false, fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
			}
		} else if entry.PreviousHash != "" {
			return false, fmt.Errorf("genesis entry has non-empty previous hash")
		}

		computed, err := computeEntryHash(&entry)
		if err != nil {
			return false, fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computed != entry.Hash {
			return false, fmt.Errorf("integrity failure at index %d: computed %s, stored %s", i, computed, entry.Hash)
		}
	}
	return true, nil
}

// computeEntryHash calculates the SHA-256 of the entry fields over a
// canonical JSON rendering, excluding the Hash field itself.
func computeEntryHash(e *ActionEntry) (string, error) {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp,
		"wallet_id":     e.WalletID,
		"operation_id":  e.OperationID,
		"action":        string(e.Action),
		"actor":         e.Actor,
		"details":       e.Details,
		"previous_hash": e.PreviousHash,
	}
	raw, err := json.Marshal(data)
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
