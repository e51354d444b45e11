// Package walletsec implements the wallet security / settlement policy
// engine. It decides whether a fund-moving operation may execute now,
// needs more approvals, must wait out a time lock, or is blocked by an
// emergency pause. The engine authorizes; it never moves funds itself.
package walletsec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
)

// Store is the persistence surface the engine needs.
type Store interface {
	store.WalletOperationStore
	store.WalletConfigStore
}

// EventSink receives wallet-action events for the shared audit trail.
// Wired to the audit logger's async queue in production.
type EventSink interface {
	Enqueue(event contracts.BlockchainEvent) error
}

// CreateOperationRequest describes a new fund-moving request.
type CreateOperationRequest struct {
	TransactionID string
	WalletID      string
	Type          contracts.OperationType
	Amount        money.Money
	Recipient     string
	Description   string
	InitiatedBy   string
}

// Engine evaluates wallet security policy. Approval serialization is
// delegated to the store's atomic ApproveOperation; the engine mutex
// only guards pause/resume config flips.
type Engine struct {
	mu      sync.Mutex
	store   Store
	actions *ActionLog
	sink    EventSink
	clock   func() time.Time
	log     *slog.Logger
}

// NewEngine creates an Engine. sink may be nil (no shared-trail mirror);
// clock may be nil (wall clock).
func NewEngine(s Store, sink EventSink, clock func() time.Time, log *slog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   s,
		actions: NewActionLog(clock),
		sink:    sink,
		clock:   clock,
		log:     log,
	}
}

// ActionLog exposes the engine's tamper-evident action trail.
func (e *Engine) ActionLog() *ActionLog { return e.actions }

// Configure installs or replaces a wallet's security settings.
func (e *Engine) Configure(ctx context.Context, cfg contracts.WalletSecurityConfig) error {
	if cfg.WalletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	if cfg.MultiSigEnabled && cfg.RequiredApprovers < 2 {
		return fmt.Errorf("multi-sig requires at least 2 approvers, got %d", cfg.RequiredApprovers)
	}
	return e.store.PutConfig(ctx, &cfg)
}

// CreateOperation opens a wallet operation, fixing its approval and
// time-lock requirements from the wallet config at creation time.
// Thresholds are never reevaluated afterwards.
func (e *Engine) CreateOperation(ctx context.Context, req CreateOperationRequest) (*contracts.WalletOperation, error) {
	if !req.Amount.IsPositive() {
		return nil, contracts.Faultf(contracts.FaultBusiness, "walletsec.create", "amount must be positive")
	}

	cfg, err := e.store.GetConfig(ctx, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet config: %w", err)
	}
	if err := checkPolicyCurrency(cfg, req.Amount); err != nil {
		return nil, err
	}

	now := e.clock()
	op := &contracts.WalletOperation{
		ID:                uuid.New().String(),
		TransactionID:     req.TransactionID,
		WalletID:          req.WalletID,
		Type:              req.Type,
		Amount:            req.Amount,
		Recipient:         req.Recipient,
		Description:       req.Description,
		RequiredApprovals: 1,
		Status:            contracts.OpPending,
		InitiatedBy:       req.InitiatedBy,
		InitiatedAt:       now,
	}

	if cfg.MultiSigEnabled && req.Amount.Cmp(cfg.MultiSigThreshold) >= 0 {
		op.RequiredApprovals = cfg.RequiredApprovers
	}
	if cfg.TimeLockEnabled && req.Amount.Cmp(cfg.TimeLockThreshold) >= 0 {
		until := now.Add(cfg.TimeLockDuration)
		op.TimeLockUntil = &until
	}

	if err := e.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("persist operation: %w", err)
	}

	e.audit(op.WalletID, op.ID, contracts.ActionInitiated, req.InitiatedBy, map[string]any{
		"amount":             op.Amount.String(),
		"recipient":          op.Recipient,
		"required_approvals": op.RequiredApprovals,
		"time_locked":        op.TimeLockUntil != nil,
	}, op.TransactionID)
	return op, nil
}

// checkPolicyCurrency refuses amounts in a currency the wallet's
// enabled thresholds cannot be compared against. Threshold comparison
// panics on a currency mismatch, so the guard runs first.
func checkPolicyCurrency(cfg *contracts.WalletSecurityConfig, amount money.Money) error {
	if cfg.MultiSigEnabled && amount.Currency != cfg.MultiSigThreshold.Currency {
		return contracts.Faultf(contracts.FaultBusiness, "walletsec.create",
			"amount currency %s does not match wallet %s policy currency %s",
			amount.Currency, cfg.WalletID, cfg.MultiSigThreshold.Currency)
	}
	if cfg.TimeLockEnabled && amount.Currency != cfg.TimeLockThreshold.Currency {
		return contracts.Faultf(contracts.FaultBusiness, "walletsec.create",
			"amount currency %s does not match wallet %s policy currency %s",
			amount.Currency, cfg.WalletID, cfg.TimeLockThreshold.Currency)
	}
	return nil
}

// Approve records one approver's sign-off. Duplicate approvers and
// non-PENDING operations are rejected; the count update is atomic in
// the store so racing approvers cannot both satisfy the threshold.
func (e *Engine) Approve(ctx context.Context, operationID, approverID string) (*contracts.WalletOperation, error) {
	op, err := e.store.ApproveOperation(ctx, operationID, approverID)
	if err != nil {
		return nil, err
	}

	e.audit(op.WalletID, op.ID, contracts.ActionApproved, approverID, map[string]any{
		"approvals": fmt.Sprintf("%d/%d", op.CurrentApprovals, op.RequiredApprovals),
	}, op.TransactionID)
	return op, nil
}

// Reject closes a pending operation with a reason.
func (e *Engine) Reject(ctx context.Context, operationID, actorID, reason string) error {
	if reason == "" {
		return fmt.Errorf("rejection reason is required")
	}
	op, err := e.store.GetOperation(ctx, operationID)
	if err != nil {
		return err
	}
	if op.Status != contracts.OpPending && op.Status != contracts.OpApproved {
		return fmt.Errorf("operation %s has status %s: %w", operationID, op.Status, store.ErrNotPending)
	}

	op.Status = contracts.OpRejected
	op.RejectionReason = reason
	if err := e.store.UpdateOperation(ctx, op); err != nil {
		return err
	}

	e.audit(op.WalletID, op.ID, contracts.ActionRejected, actorID, map[string]any{
		"reason": reason,
	}, op.TransactionID)
	return nil
}

// CanExecute reports whether the operation may execute right now, with
// a human-readable reason when it may not. Policy refusals are reasons,
// not errors; the returned error covers lookup failures only.
func (e *Engine) CanExecute(ctx context.Context, operationID string) (bool, string, error) {
	op, err := e.store.GetOperation(ctx, operationID)
	if err != nil {
		return false, "", err
	}

	cfg, err := e.store.GetConfig(ctx, op.WalletID)
	if err != nil {
		return false, "", fmt.Errorf("load wallet config: %w", err)
	}

	if cfg.Paused {
		return false, fmt.Sprintf("wallet %s is paused: %s", op.WalletID, cfg.PauseReason), nil
	}
	if op.CurrentApprovals < op.RequiredApprovals {
		return false, fmt.Sprintf("insufficient approvals: %d/%d", op.CurrentApprovals, op.RequiredApprovals), nil
	}
	if op.Status != contracts.OpApproved {
		return false, fmt.Sprintf("operation status is %s, not %s", op.Status, contracts.OpApproved), nil
	}
	if op.TimeLockUntil != nil {
		now := e.clock()
		if now.Before(*op.TimeLockUntil) {
			remaining := op.TimeLockUntil.Sub(now)
			return false, fmt.Sprintf("time locked for another %.1f hours", remaining.Hours()), nil
		}
	}
	return true, "", nil
}

// MarkExecuted stamps the operation executed exactly once. It fails
// closed: the policy checks are re-run even though callers are expected
// to have consulted CanExecute first.
func (e *Engine) MarkExecuted(ctx context.Context, operationID, executedBy string) (*contracts.WalletOperation, error) {
	ok, reason, err := e.CanExecute(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.Faultf(contracts.FaultPolicyBlocked, "walletsec.execute", "%s", reason)
	}

	op, err := e.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	op.Status = contracts.OpExecuted
	op.ExecutedBy = executedBy
	op.ExecutedAt = &now
	if err := e.store.UpdateOperation(ctx, op); err != nil {
		return nil, err
	}

	e.audit(op.WalletID, op.ID, contracts.ActionExecuted, executedBy, map[string]any{
		"amount":    op.Amount.String(),
		"recipient": op.Recipient,
	}, op.TransactionID)
	return op, nil
}

// MarkFailed records that an EXECUTED operation's backend transfer did
// not complete. The operation closes as FAILED with the failure text
// preserved, so a replacement operation can be opened once the backend
// problem is understood. Only EXECUTED operations can fail this way.
func (e *Engine) MarkFailed(ctx context.Context, operationID, actorID, reason string) (*contracts.WalletOperation, error) {
	if reason == "" {
		return nil, fmt.Errorf("failure reason is required")
	}
	op, err := e.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Status != contracts.OpExecuted {
		return nil, fmt.Errorf("operation %s has status %s, want %s", operationID, op.Status, contracts.OpExecuted)
	}

	op.Status = contracts.OpFailed
	op.RejectionReason = reason
	if err := e.store.UpdateOperation(ctx, op); err != nil {
		return nil, err
	}

	e.log.Error("wallet operation execution failed",
		"operation_id", op.ID, "wallet_id", op.WalletID, "reason", reason)
	e.audit(op.WalletID, op.ID, contracts.ActionFailed, actorID, map[string]any{
		"reason": reason,
	}, op.TransactionID)
	return op, nil
}

// Pause blocks every CanExecute on the wallet immediately, in-flight
// operations included. A reason is mandatory: it surfaces verbatim in
// every subsequent refusal.
func (e *Engine) Pause(ctx context.Context, walletID, actorID, reason string) error {
	if reason == "" {
		return fmt.Errorf("pause reason is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.store.GetConfig(ctx, walletID)
	if err != nil {
		return err
	}
	cfg.Paused = true
	cfg.PauseReason = reason
	cfg.PausedAt = e.clock()
	cfg.PausedBy = actorID
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return err
	}

	e.log.Warn("wallet paused", "wallet_id", walletID, "actor", actorID, "reason", reason)
	e.audit(walletID, "", contracts.ActionPaused, actorID, map[string]any{"reason": reason}, "")
	return nil
}

// Resume lifts an emergency pause.
func (e *Engine) Resume(ctx context.Context, walletID, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.store.GetConfig(ctx, walletID)
	if err != nil {
		return err
	}
	cfg.Paused = false
	cfg.PauseReason = ""
	cfg.PausedBy = ""
	if err := e.store.PutConfig(ctx, cfg); err != nil {
		return err
	}

	e.log.Info("wallet resumed", "wallet_id", walletID, "actor", actorID)
	e.audit(walletID, "", contracts.ActionResumed, actorID, nil, "")
	return nil
}

// audit writes one entry to the engine's own chain and mirrors it to
// the shared audit sink when one is wired.
func (e *Engine) audit(walletID, operationID string, action contracts.WalletAction, actor string, details map[string]any, transactionID string) {
	detailsJSON := ""
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			detailsJSON = string(raw)
		}
	}
	if _, err := e.actions.Append(walletID, operationID, action, actor, detailsJSON); err != nil {
		e.log.Error("wallet action log append failed", "wallet_id", walletID, "action", action, "err", err)
	}

	if e.sink == nil {
		return
	}
	payload := map[string]any{
		"wallet_id": walletID,
		"actor":     actor,
	}
	if operationID != "" {
		payload["operation_id"] = operationID
	}
	for k, v := range details {
		payload[k] = v
	}
	event := contracts.BlockchainEvent{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		EventType:     contracts.EventType(action),
		Payload:       payload,
		Timestamp:     e.clock().UTC(),
	}
	if err := e.sink.Enqueue(event); err != nil {
		e.log.Error("wallet audit mirror enqueue failed", "wallet_id", walletID, "action", action, "err", err)
	}
}
