package orchestrator

import (
	"context"
	"fmt"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/walletsec"
)

// walletOpRequest builds the milestone payment request for one
// completed verification task.
func walletOpRequest(tx *contracts.Transaction, task *contracts.VerificationTask) walletsec.CreateOperationRequest {
	return walletsec.CreateOperationRequest{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		Type:          contracts.OpPayment,
		Amount:        task.PaymentAmount,
		Recipient:     task.AgentID,
		Description:   fmt.Sprintf("milestone payment for %s verification", task.Type),
		InitiatedBy:   "system",
	}
}

// executePayment stamps the wallet operation executed, then moves funds
// through the backend. The engine re-checks policy inside MarkExecuted,
// so a pause or revoked approval between check and execution still
// blocks the payout, and the EXECUTED stamp makes the attempt
// exactly-once: a racing second executor loses at MarkExecuted. When
// the backend then refuses or errors, the operation closes as FAILED
// with the backend's answer preserved, so it never sits EXECUTED with
// no funds moved; remediation is a fresh operation.
func (o *Orchestrator) executePayment(ctx context.Context, tx *contracts.Transaction, operationID, executedBy string) error {
	op, err := o.engine.MarkExecuted(ctx, operationID, executedBy)
	if err != nil {
		return err
	}

	if o.backend != nil {
		result, err := o.backend.ExecutePayment(ctx, op.Recipient, op.Amount, op.Recipient, op.Description)
		var backendErr error
		switch {
		case err != nil:
			backendErr = fmt.Errorf("payment backend: %w", err)
		case result != nil && result.Status != contracts.PaymentSuccess:
			backendErr = fmt.Errorf("payment backend returned %s: %s", result.Status, result.Error)
		}
		if backendErr != nil {
			if _, failErr := o.engine.MarkFailed(ctx, op.ID, executedBy, backendErr.Error()); failErr != nil {
				o.log.Error("recording failed payment execution",
					"operation_id", op.ID, "err", failErr)
			}
			return backendErr
		}
	}

	o.emit(ctx, op.TransactionID, contracts.EventPaymentReleased, map[string]any{
		"operation_id": op.ID,
		"amount":       op.Amount.String(),
		"recipient":    op.Recipient,
		"executed_by":  executedBy,
	})
	return nil
}

// ExecuteOperation completes a wallet operation that was held by policy
// at creation time, after approvals arrived or the time lock elapsed.
// Settlement operations additionally require the transaction to still
// be awaiting settlement, so an approved settlement cannot execute on a
// transaction that has since been disputed or cancelled.
func (o *Orchestrator) ExecuteOperation(ctx context.Context, operationID, executedBy string) error {
	op, err := o.store.GetOperation(ctx, operationID)
	if err != nil {
		return err
	}
	tx, err := o.store.GetTransaction(ctx, op.TransactionID)
	if err != nil {
		return err
	}
	if op.Type == contracts.OpSettlement && tx.State != contracts.TxSettlementPending {
		return fmt.Errorf("transaction %s is %s, settlement requires %s",
			tx.ID, tx.State, contracts.TxSettlementPending)
	}
	if err := o.executePayment(ctx, tx, operationID, executedBy); err != nil {
		return err
	}
	if op.Type == contracts.OpSettlement {
		return o.completeSettlement(ctx, tx.ID)
	}
	return nil
}

// RequestSettlement opens the final settlement operation for the full
// purchase price once verification is complete. The operation goes
// through the same policy gate as any other fund movement; with
// multi-sig configured it will sit pending until approved.
func (o *Orchestrator) RequestSettlement(ctx context.Context, transactionID, initiatedBy string) (*contracts.WalletOperation, error) {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Transition(contracts.TxSettlementPending, o.clock()); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	op, err := o.engine.CreateOperation(ctx, walletsec.CreateOperationRequest{
		TransactionID: tx.ID,
		WalletID:      tx.WalletID,
		Type:          contracts.OpSettlement,
		Amount:        tx.PurchasePrice,
		Recipient:     tx.SellerAgentID,
		Description:   fmt.Sprintf("settlement for property %s", tx.PropertyID),
		InitiatedBy:   initiatedBy,
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Settle executes an approved settlement operation and closes the
// transaction as SETTLED. The operation must be the settlement
// operation of this transaction; a milestone payment or an operation
// opened for another transaction is refused before any funds move.
func (o *Orchestrator) Settle(ctx context.Context, transactionID, operationID, executedBy string) error {
	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.State != contracts.TxSettlementPending {
		return fmt.Errorf("transaction %s is %s, settlement requires %s",
			tx.ID, tx.State, contracts.TxSettlementPending)
	}

	op, err := o.store.GetOperation(ctx, operationID)
	if err != nil {
		return err
	}
	if op.TransactionID != transactionID {
		return fmt.Errorf("operation %s belongs to transaction %s, not %s",
			operationID, op.TransactionID, transactionID)
	}
	if op.Type != contracts.OpSettlement {
		return fmt.Errorf("operation %s is a %s operation, settlement requires %s",
			operationID, op.Type, contracts.OpSettlement)
	}

	if err := o.executePayment(ctx, tx, operationID, executedBy); err != nil {
		return err
	}
	return o.completeSettlement(ctx, transactionID)
}

// completeSettlement applies the SETTLED transition and audits it.
func (o *Orchestrator) completeSettlement(ctx context.Context, transactionID string) error {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.State == contracts.TxSettled {
		return nil
	}
	if err := tx.Transition(contracts.TxSettled, o.clock()); err != nil {
		return err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	o.emit(ctx, tx.ID, contracts.EventSettlementExecuted, map[string]any{
		"amount":    tx.PurchasePrice.String(),
		"recipient": tx.SellerAgentID,
		"property":  tx.PropertyID,
	})
	return nil
}

// RaiseDispute freezes the transaction in DISPUTED. No new tasks are
// assigned and no settlement proceeds until the dispute resolves.
func (o *Orchestrator) RaiseDispute(ctx context.Context, transactionID, raisedBy, reason string) error {
	if reason == "" {
		return fmt.Errorf("dispute reason is required")
	}

	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if err := tx.Transition(contracts.TxDisputed, o.clock()); err != nil {
		return err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	o.emit(ctx, tx.ID, contracts.EventDisputeRaised, map[string]any{
		"raised_by": raisedBy,
		"reason":    reason,
	})
	return nil
}

// ResolveDispute moves a DISPUTED transaction back into the flow:
// to VERIFICATION_IN_PROGRESS to redo work, to SETTLEMENT_PENDING when
// the dispute does not affect verification, or to CANCELLED.
func (o *Orchestrator) ResolveDispute(ctx context.Context, transactionID string, next contracts.TransactionState, resolvedBy, resolution string) error {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.State != contracts.TxDisputed {
		return fmt.Errorf("transaction %s is %s, not %s", tx.ID, tx.State, contracts.TxDisputed)
	}
	if err := tx.Transition(next, o.clock()); err != nil {
		return err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	o.emit(ctx, tx.ID, contracts.EventDisputeResolved, map[string]any{
		"resolved_by": resolvedBy,
		"resolution":  resolution,
		"next_state":  string(next),
	})
	return nil
}

// CancelTransaction aborts a non-terminal transaction. Pending tasks
// expire; tasks already handed to an agent close as REJECTED. Executed
// wallet operations are never rolled back here; clawbacks are a manual
// process outside the settlement core.
func (o *Orchestrator) CancelTransaction(ctx context.Context, transactionID, cancelledBy, reason string) error {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	now := o.clock()
	if err := tx.Transition(contracts.TxCancelled, now); err != nil {
		return err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	tasks, err := o.store.ListTasksByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		switch task.State {
		case contracts.TaskPending:
			task.State = contracts.TaskExpired
		case contracts.TaskInProgress, contracts.TaskSubmitted:
			task.State = contracts.TaskRejected
		default:
			continue
		}
		task.UpdatedAt = now
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return err
		}
	}

	o.emit(ctx, tx.ID, contracts.EventTransactionCancelled, map[string]any{
		"cancelled_by": cancelledBy,
		"reason":       reason,
	})
	return nil
}
