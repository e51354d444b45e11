package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

func filledMirror(t *testing.T, n int) *MirrorStore {
	t.Helper()
	mirror := NewMirrorStore()
	for i := 0; i < n; i++ {
		_, err := mirror.Append(contracts.BlockchainEvent{
			ID:            fmt.Sprintf("e%d", i),
			TransactionID: "tx-1",
			EventType:     contracts.EventTaskAssigned,
			Payload:       map[string]any{"seq": i},
		})
		require.NoError(t, err)
	}
	return mirror
}

func TestCheckpointRootChangesOnAppend(t *testing.T) {
	mirror := filledMirror(t, 3)

	cp1, err := mirror.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 3, cp1.Size)
	assert.NotEmpty(t, cp1.Root)

	_, err = mirror.Append(contracts.BlockchainEvent{ID: "e3", TransactionID: "tx-1"})
	require.NoError(t, err)

	cp2, err := mirror.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 4, cp2.Size)
	assert.NotEqual(t, cp1.Root, cp2.Root)
}

func TestEmptyMirrorCheckpoint(t *testing.T) {
	cp, err := NewMirrorStore().Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Size)
	assert.Empty(t, cp.Root)
	assert.Equal(t, "genesis", cp.ChainHead)
}

func TestInclusionProofVerifies(t *testing.T) {
	// Odd sizes exercise the self-paired last node.
	for _, n := range []int{1, 2, 3, 5, 8} {
		mirror := filledMirror(t, n)
		cp, err := mirror.Checkpoint()
		require.NoError(t, err)

		for seq := uint64(1); seq <= uint64(n); seq++ {
			proof, err := mirror.Prove(seq)
			require.NoError(t, err)
			assert.True(t, VerifyInclusion(proof, cp.Root), "size %d sequence %d", n, seq)
		}
	}
}

func TestInclusionProofRejectsWrongRoot(t *testing.T) {
	mirror := filledMirror(t, 4)
	proof, err := mirror.Prove(2)
	require.NoError(t, err)

	assert.False(t, VerifyInclusion(proof, "deadbeef"))

	proof.EntryHash = "tampered"
	cp, err := mirror.Checkpoint()
	require.NoError(t, err)
	assert.False(t, VerifyInclusion(proof, cp.Root))
}

func TestProveUnknownSequence(t *testing.T) {
	mirror := filledMirror(t, 2)
	_, err := mirror.Prove(99)
	require.Error(t, err)
}

func TestLoggerCheckpointRefusesBrokenChain(t *testing.T) {
	mirror := filledMirror(t, 3)
	logger := NewLogger(newFakeLedger(), mirror, 8, nil)

	_, err := logger.Checkpoint()
	require.NoError(t, err)

	mirror.entries[1].Event.TransactionID = "tx-evil"
	_, err = logger.Checkpoint()
	assert.ErrorIs(t, err, ErrChainBroken)
}
