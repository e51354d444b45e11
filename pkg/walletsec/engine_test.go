package walletsec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
)

type capturedSink struct {
	events []contracts.BlockchainEvent
}

func (s *capturedSink) Enqueue(event contracts.BlockchainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *capturedSink, *testClock) {
	t.Helper()
	st := store.NewMemoryStore()
	sink := &capturedSink{}
	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	engine := NewEngine(st, sink, clock.Now, nil)
	return engine, st, sink, clock
}

func multiSigConfig(walletID string) contracts.WalletSecurityConfig {
	return contracts.WalletSecurityConfig{
		WalletID:          walletID,
		MultiSigEnabled:   true,
		MultiSigThreshold: money.FromMajor(50000, "USD"),
		RequiredApprovers: 2,
		TimeLockEnabled:   true,
		TimeLockThreshold: money.FromMajor(100000, "USD"),
		TimeLockDuration:  24 * time.Hour,
	}
}

func TestConfigureValidation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.Configure(ctx, contracts.WalletSecurityConfig{})
	assert.Error(t, err)

	bad := multiSigConfig("w1")
	bad.RequiredApprovers = 1
	err = engine.Configure(ctx, bad)
	assert.Error(t, err)

	assert.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))
}

func TestCreateOperationThresholds(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	// Below the multi-sig threshold: a single approval suffices.
	small, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(500, "USD"), Recipient: "agent-1", InitiatedBy: "system",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, small.RequiredApprovals)
	assert.Nil(t, small.TimeLockUntil)

	// At the threshold: full approver set required.
	large, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpSettlement,
		Amount: money.FromMajor(75000, "USD"), Recipient: "seller", InitiatedBy: "system",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, large.RequiredApprovals)
	assert.Nil(t, large.TimeLockUntil, "below the time lock threshold")

	// Above the time lock threshold too.
	locked, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpSettlement,
		Amount: money.FromMajor(450000, "USD"), Recipient: "seller", InitiatedBy: "system",
	})
	require.NoError(t, err)
	require.NotNil(t, locked.TimeLockUntil)
	assert.Equal(t, 24*time.Hour, locked.TimeLockUntil.Sub(locked.InitiatedAt))
}

func TestCreateOperationRejectsCurrencyMismatch(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	// A EUR amount cannot be compared against USD policy thresholds.
	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(100, "EUR"), Recipient: "agent-1", InitiatedBy: "system",
	})
	require.Error(t, err)
	assert.Nil(t, op)
	assert.Equal(t, contracts.FaultBusiness, contracts.KindOf(err))
	assert.Contains(t, err.Error(), "does not match wallet w1 policy currency USD")
}

func TestCreateOperationRejectsNonPositiveAmount(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	_, err := engine.CreateOperation(ctx, CreateOperationRequest{
		WalletID: "w1", Amount: money.New(0, "USD"),
	})
	require.Error(t, err)
	assert.Equal(t, contracts.FaultBusiness, contracts.KindOf(err))
}

func TestMultiSigApprovalFlow(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpSettlement,
		Amount: money.FromMajor(75000, "USD"), Recipient: "seller", InitiatedBy: "system",
	})
	require.NoError(t, err)

	ok, reason, err := engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "insufficient approvals: 0/2", reason)

	op, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, op.CurrentApprovals)
	assert.Equal(t, contracts.OpPending, op.Status)

	ok, reason, err = engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "insufficient approvals: 1/2", reason)

	// The same approver cannot count twice.
	_, err = engine.Approve(ctx, op.ID, "alice")
	assert.ErrorIs(t, err, store.ErrDuplicateApprover)

	op, err = engine.Approve(ctx, op.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, op.CurrentApprovals)
	assert.Equal(t, contracts.OpApproved, op.Status)

	ok, _, err = engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	executed, err := engine.MarkExecuted(ctx, op.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, contracts.OpExecuted, executed.Status)
	assert.Equal(t, "operator", executed.ExecutedBy)
	require.NotNil(t, executed.ExecutedAt)

	// Execution is one-shot.
	_, err = engine.MarkExecuted(ctx, op.ID, "operator")
	require.Error(t, err)
	assert.Equal(t, contracts.FaultPolicyBlocked, contracts.KindOf(err))
}

func TestMarkFailedClosesExecutedOperation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(500, "USD"), Recipient: "agent", InitiatedBy: "system",
	})
	require.NoError(t, err)

	// Only an EXECUTED operation can fail; a reason is mandatory.
	_, err = engine.MarkFailed(ctx, op.ID, "system", "backend unreachable")
	require.Error(t, err)

	_, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)
	_, err = engine.MarkExecuted(ctx, op.ID, "operator")
	require.NoError(t, err)

	_, err = engine.MarkFailed(ctx, op.ID, "operator", "")
	require.Error(t, err)

	failed, err := engine.MarkFailed(ctx, op.ID, "operator", "backend unreachable")
	require.NoError(t, err)
	assert.Equal(t, contracts.OpFailed, failed.Status)
	assert.Equal(t, "backend unreachable", failed.RejectionReason)

	entries := engine.ActionLog().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, contracts.ActionFailed, entries[len(entries)-1].Action)
}

func TestApproveAfterApprovalRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(60000, "USD"), Recipient: "agent", InitiatedBy: "system",
	})
	require.NoError(t, err)

	_, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)
	_, err = engine.Approve(ctx, op.ID, "bob")
	require.NoError(t, err)

	// Approved operations accept no further approvals.
	_, err = engine.Approve(ctx, op.ID, "carol")
	assert.ErrorIs(t, err, store.ErrNotPending)
}

func TestTimeLockBlocksUntilElapsed(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpSettlement,
		Amount: money.FromMajor(450000, "USD"), Recipient: "seller", InitiatedBy: "system",
	})
	require.NoError(t, err)

	_, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)
	_, err = engine.Approve(ctx, op.ID, "bob")
	require.NoError(t, err)

	ok, reason, err := engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "time locked")

	clock.Advance(12 * time.Hour)
	ok, _, _ = engine.CanExecute(ctx, op.ID)
	assert.False(t, ok)

	clock.Advance(13 * time.Hour)
	ok, reason, err = engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, ok, "reason: %s", reason)
}

func TestPauseDominatesEverything(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(500, "USD"), Recipient: "agent", InitiatedBy: "system",
	})
	require.NoError(t, err)
	_, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)

	// Pause without a reason is refused.
	assert.Error(t, engine.Pause(ctx, "w1", "admin", ""))

	require.NoError(t, engine.Pause(ctx, "w1", "admin", "suspected key compromise"))

	ok, reason, err := engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "wallet w1 is paused: suspected key compromise", reason)

	_, err = engine.MarkExecuted(ctx, op.ID, "operator")
	require.Error(t, err)
	assert.Equal(t, contracts.FaultPolicyBlocked, contracts.KindOf(err))

	require.NoError(t, engine.Resume(ctx, "w1", "admin"))
	ok, _, err = engine.CanExecute(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRejectRequiresReasonAndPendingStatus(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(500, "USD"), Recipient: "agent", InitiatedBy: "system",
	})
	require.NoError(t, err)

	assert.Error(t, engine.Reject(ctx, op.ID, "admin", ""))
	require.NoError(t, engine.Reject(ctx, op.ID, "admin", "wrong recipient"))

	rejected, err := engine.Approve(ctx, op.ID, "alice")
	assert.Nil(t, rejected)
	assert.ErrorIs(t, err, store.ErrNotPending)
}

func TestActionChainIntegrity(t *testing.T) {
	engine, _, sink, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, engine.Configure(ctx, multiSigConfig("w1")))

	op, err := engine.CreateOperation(ctx, CreateOperationRequest{
		TransactionID: "tx1", WalletID: "w1", Type: contracts.OpPayment,
		Amount: money.FromMajor(500, "USD"), Recipient: "agent", InitiatedBy: "system",
	})
	require.NoError(t, err)
	_, err = engine.Approve(ctx, op.ID, "alice")
	require.NoError(t, err)
	_, err = engine.MarkExecuted(ctx, op.ID, "operator")
	require.NoError(t, err)

	entries := engine.ActionLog().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, contracts.ActionInitiated, entries[0].Action)
	assert.Equal(t, contracts.ActionApproved, entries[1].Action)
	assert.Equal(t, contracts.ActionExecuted, entries[2].Action)

	ok, err := engine.ActionLog().VerifyChain()
	require.NoError(t, err)
	assert.True(t, ok)

	// Every action is mirrored to the shared audit sink.
	require.Len(t, sink.events, 3)
	assert.Equal(t, "tx1", sink.events[0].TransactionID)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	clock := &testClock{now: time.Now()}
	log := NewActionLog(clock.Now)
	_, err := log.Append("w1", "op1", contracts.ActionInitiated, "system", "")
	require.NoError(t, err)
	_, err = log.Append("w1", "op1", contracts.ActionApproved, "alice", "")
	require.NoError(t, err)

	log.entries[0].Actor = "mallory"
	ok, err := log.VerifyChain()
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestCanExecuteUnknownOperation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	_, _, err := engine.CanExecute(context.Background(), "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
