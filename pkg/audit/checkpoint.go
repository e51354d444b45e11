package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain-separation prefixes for checkpoint hashing. Leaf and interior
// node inputs must never collide.
const (
	leafPrefix = "clearhold:audit:leaf:v1"
	nodePrefix = "clearhold:audit:node:v1"
)

// Checkpoint summarizes the mirror at a point in time: a Merkle root
// over every entry hash up to Size. Anchoring the root externally lets
// an auditor later prove any single entry was present without replaying
// the whole chain.
type Checkpoint struct {
	Size      int       `json:"size"`
	ChainHead string    `json:"chain_head"`
	Root      string    `json:"root"`
	TakenAt   time.Time `json:"taken_at"`
}

// ProofStep is one level of an inclusion proof. Side says which side
// the sibling hash sits on when recombining.
type ProofStep struct {
	Side    string `json:"side"` // "L" or "R"
	Sibling string `json:"sibling"`
}

// InclusionProof ties one mirror entry to a checkpoint root.
type InclusionProof struct {
	Sequence  uint64      `json:"sequence"`
	EntryHash string      `json:"entry_hash"`
	Root      string      `json:"root"`
	Path      []ProofStep `json:"path"`
}

// Checkpoint computes the current Merkle root over the mirror.
func (m *MirrorStore) Checkpoint() (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	levels := buildLevels(m.entryHashes())
	root := ""
	if len(levels) > 0 {
		root = levels[len(levels)-1][0]
	}
	return &Checkpoint{
		Size:      len(m.entries),
		ChainHead: m.chainHead,
		Root:      root,
		TakenAt:   time.Now().UTC(),
	}, nil
}

// Prove builds the inclusion proof for the entry with the given
// sequence number against the current root.
func (m *MirrorStore) Prove(sequence uint64) (*InclusionProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := -1
	for i, e := range m.entries {
		if e.Sequence == sequence {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no mirror entry with sequence %d", sequence)
	}

	levels := buildLevels(m.entryHashes())
	proof := &InclusionProof{
		Sequence:  sequence,
		EntryHash: m.entries[idx].EntryHash,
		Root:      levels[len(levels)-1][0],
	}

	pos := idx
	for _, level := range levels[:len(levels)-1] {
		sibling := pos ^ 1
		if sibling >= len(level) {
			// Odd level: the last node is paired with itself.
			sibling = pos
		}
		side := "R"
		if sibling < pos {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, Sibling: level[sibling]})
		pos /= 2
	}
	return proof, nil
}

// VerifyInclusion recomputes the root from a proof and compares it to
// the expected checkpoint root.
func VerifyInclusion(proof *InclusionProof, expectedRoot string) bool {
	current := leafHash(proof.EntryHash)
	for _, step := range proof.Path {
		if step.Side == "L" {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == expectedRoot && proof.Root == expectedRoot
}

func (m *MirrorStore) entryHashes() []string {
	hashes := make([]string, len(m.entries))
	for i, e := range m.entries {
		hashes[i] = e.EntryHash
	}
	return hashes
}

// buildLevels returns the tree bottom-up, leaf level first, root level
// last. Leaf hashes are domain-separated before pairing; odd nodes are
// paired with themselves.
func buildLevels(entryHashes []string) [][]string {
	if len(entryHashes) == 0 {
		return nil
	}
	level := make([]string, len(entryHashes))
	for i, h := range entryHashes {
		level[i] = leafHash(h)
	}

	levels := [][]string{level}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := i
			if i+1 < len(level) {
				right = i + 1
			}
			next = append(next, nodeHash(level[i], level[right]))
		}
		levels = append(levels, next)
		level = next
	}
	return levels
}

func leafHash(entryHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(entryHash)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(mustHex(left))
	buf.Write(mustHex(right))
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return b
}
