package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	now := time.Now()
	tx := &Transaction{ID: "tx1", State: TxInitiated}

	for _, next := range []TransactionState{
		TxVerificationInProgress,
		TxVerificationComplete,
		TxSettlementPending,
		TxSettled,
	} {
		require.NoError(t, tx.Transition(next, now))
		assert.Equal(t, next, tx.State)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	now := time.Now()

	settled := &Transaction{ID: "tx1", State: TxSettled}
	err := settled.Transition(TxDisputed, now)
	assert.Error(t, err)
	assert.Equal(t, TxSettled, settled.State)

	cancelled := &Transaction{ID: "tx2", State: TxCancelled}
	err = cancelled.Transition(TxInitiated, now)
	assert.Error(t, err)
}

func TestIllegalTransitions(t *testing.T) {
	now := time.Now()

	tx := &Transaction{ID: "tx1", State: TxInitiated}
	assert.Error(t, tx.Transition(TxSettled, now))
	assert.Error(t, tx.Transition(TxSettlementPending, now))
	assert.Equal(t, TxInitiated, tx.State)
}

func TestDisputeReachableFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []TransactionState{
		TxInitiated, TxVerificationInProgress, TxVerificationComplete, TxSettlementPending,
	} {
		assert.True(t, CanTransition(from, TxDisputed), "from %s", from)
	}
	assert.False(t, CanTransition(TxSettled, TxDisputed))
	assert.False(t, CanTransition(TxCancelled, TxDisputed))
}

func TestDisputeResolutionPaths(t *testing.T) {
	assert.True(t, CanTransition(TxDisputed, TxVerificationInProgress))
	assert.True(t, CanTransition(TxDisputed, TxSettlementPending))
	assert.True(t, CanTransition(TxDisputed, TxCancelled))
	assert.False(t, CanTransition(TxDisputed, TxSettled))
}

func TestVerificationDependencies(t *testing.T) {
	assert.Empty(t, TitleSearch.Dependencies())
	assert.Empty(t, Inspection.Dependencies())
	assert.Equal(t, []VerificationType{Inspection}, Appraisal.Dependencies())
	assert.Equal(t, []VerificationType{TitleSearch, Appraisal}, Lending.Dependencies())
}

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskRejected.Terminal())
	assert.True(t, TaskExpired.Terminal())
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskInProgress.Terminal())
	assert.False(t, TaskSubmitted.Terminal())
}
