package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
	"github.com/clearhold-labs/clearhold/core/pkg/validation"
)

// ErrDependenciesPending is returned by AssignTask when the task's
// dependency types are not all COMPLETED yet.
var ErrDependenciesPending = errors.New("verification dependencies not yet completed")

// AssignTask moves a PENDING task to IN_PROGRESS once its dependency
// gate passes. The gate requires a COMPLETED task of every dependency
// type on the same transaction.
func (o *Orchestrator) AssignTask(ctx context.Context, taskID string) (*contracts.VerificationTask, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State != contracts.TaskPending {
		return nil, fmt.Errorf("task %s has state %s, want %s", taskID, task.State, contracts.TaskPending)
	}

	tx, err := o.store.GetTransaction(ctx, task.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.State != contracts.TxVerificationInProgress {
		return nil, fmt.Errorf("transaction %s is %s, assignment requires %s",
			tx.ID, tx.State, contracts.TxVerificationInProgress)
	}

	ok, missing, err := o.dependenciesMet(ctx, task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %s waiting on %v: %w", taskID, missing, ErrDependenciesPending)
	}

	task.State = contracts.TaskInProgress
	task.UpdatedAt = o.clock()
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	o.emit(ctx, task.TransactionID, contracts.EventTaskAssigned, map[string]any{
		"task_id":  task.ID,
		"type":     string(task.Type),
		"agent_id": task.AgentID,
		"deadline": task.Deadline.UTC().Format(time.RFC3339),
	})
	return task, nil
}

// dependenciesMet checks the dependency table against sibling tasks.
func (o *Orchestrator) dependenciesMet(ctx context.Context, task *contracts.VerificationTask) (bool, []contracts.VerificationType, error) {
	deps := task.Type.Dependencies()
	if len(deps) == 0 {
		return true, nil, nil
	}

	siblings, err := o.store.ListTasksByTransaction(ctx, task.TransactionID)
	if err != nil {
		return false, nil, err
	}
	completed := make(map[contracts.VerificationType]bool)
	for _, s := range siblings {
		if s.State == contracts.TaskCompleted {
			completed[s.Type] = true
		}
	}

	var missing []contracts.VerificationType
	for _, dep := range deps {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	return len(missing) == 0, missing, nil
}

// ExecuteTask runs the assigned agent and submits the resulting report.
// Transient execution failures are retried with backoff; a permanent
// failure (or retry exhaustion) closes the task as REJECTED with the
// failure recorded as reviewer notes.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) (*contracts.VerificationReport, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State != contracts.TaskInProgress {
		return nil, fmt.Errorf("task %s has state %s, want %s", taskID, task.State, contracts.TaskInProgress)
	}

	agent, ok := o.agents[task.Type]
	if !ok {
		return nil, fmt.Errorf("no executor registered for verification type %s", task.Type)
	}

	tx, err := o.store.GetTransaction(ctx, task.TransactionID)
	if err != nil {
		return nil, err
	}

	details := contracts.TaskDetails{
		TaskID:        task.ID,
		TransactionID: task.TransactionID,
		PropertyID:    tx.PropertyID,
		Deadline:      task.Deadline,
		PaymentAmount: task.PaymentAmount,
		Requirements:  task.Requirements,
	}

	var report *contracts.VerificationReport
	var execErr error
	for attempt := 0; ; attempt++ {
		report, execErr = agent.ExecuteVerification(ctx, tx, details)
		if execErr == nil {
			break
		}
		if !contracts.IsTransient(execErr) || attempt >= o.cfg.ExecuteRetries {
			break
		}
		delay := o.cfg.ExecuteBackoff * time.Duration(1<<attempt)
		o.log.Warn("verification execution failed, retrying",
			"task_id", task.ID, "type", task.Type, "attempt", attempt+1, "err", execErr)
		select {
		case <-ctx.Done():
			execErr = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}

	if execErr != nil {
		if err := o.failTask(ctx, task, execErr); err != nil {
			return nil, err
		}
		return nil, execErr
	}

	return o.SubmitReport(ctx, task.ID, report)
}

// failTask closes a task whose execution could not produce a report.
// The failure text is preserved as reviewer notes on a synthetic
// rejected report so the trail explains why no findings exist.
func (o *Orchestrator) failTask(ctx context.Context, task *contracts.VerificationTask, cause error) error {
	now := o.clock()
	task.State = contracts.TaskRejected
	task.UpdatedAt = now
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	report := &contracts.VerificationReport{
		ID:            uuid.New().String(),
		TaskID:        task.ID,
		AgentID:       task.AgentID,
		Type:          task.Type,
		Status:        contracts.ReportRejected,
		ReviewerNotes: fmt.Sprintf("execution failed: %v", cause),
		SubmittedAt:   now,
		ReviewedAt:    &now,
	}
	if err := o.store.CreateReport(ctx, report); err != nil {
		return err
	}

	o.emit(ctx, task.TransactionID, contracts.EventVerificationCompleted, map[string]any{
		"task_id": task.ID,
		"type":    string(task.Type),
		"status":  string(contracts.TaskRejected),
		"reason":  cause.Error(),
	})
	return nil
}

// SubmitReport accepts an agent's report for an IN_PROGRESS task, runs
// the matching validator, and closes the task COMPLETED or REJECTED.
// The report's final status always comes from the validator, never from
// the agent. A completed task may unblock dependent siblings, finish
// the verification phase, and release the agent's milestone payment.
func (o *Orchestrator) SubmitReport(ctx context.Context, taskID string, report *contracts.VerificationReport) (*contracts.VerificationReport, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State != contracts.TaskInProgress {
		return nil, fmt.Errorf("task %s has state %s, want %s", taskID, task.State, contracts.TaskInProgress)
	}
	if report == nil {
		return nil, fmt.Errorf("task %s: report is required", taskID)
	}

	now := o.clock()
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	report.TaskID = task.ID
	if report.AgentID == "" {
		report.AgentID = task.AgentID
	}
	report.Status = contracts.ReportNeedsReview
	if report.SubmittedAt.IsZero() {
		report.SubmittedAt = now
	}

	task.State = contracts.TaskSubmitted
	task.UpdatedAt = now
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := o.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	tx, err := o.store.GetTransaction(ctx, task.TransactionID)
	if err != nil {
		return nil, err
	}

	validator, err := validation.ForType(task.Type)
	if err != nil {
		return nil, err
	}
	result := validator.Validate(report, validation.Context{PurchasePrice: &tx.PurchasePrice})

	reviewed := o.clock()
	report.Status = result.Status
	report.ReviewedAt = &reviewed
	switch {
	case len(result.Errors) > 0:
		report.ReviewerNotes = strings.Join(result.Errors, "; ")
	case len(result.Warnings) > 0:
		report.ReviewerNotes = strings.Join(result.Warnings, "; ")
	}
	if err := o.store.UpdateReport(ctx, report); err != nil {
		return nil, err
	}

	if result.Status == contracts.ReportRejected {
		task.State = contracts.TaskRejected
	} else {
		task.State = contracts.TaskCompleted
	}
	task.UpdatedAt = reviewed
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	o.emit(ctx, task.TransactionID, contracts.EventVerificationCompleted, map[string]any{
		"task_id":   task.ID,
		"type":      string(task.Type),
		"status":    string(report.Status),
		"warnings":  len(result.Warnings),
		"errors":    len(result.Errors),
		"report_id": report.ID,
	})

	if task.State == contracts.TaskCompleted {
		if err := o.releaseMilestonePayment(ctx, tx, task); err != nil {
			o.log.Error("milestone payment failed",
				"task_id", task.ID, "agent_id", task.AgentID, "err", err)
		}
		if err := o.refreshTransactionState(ctx, task.TransactionID); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// RunTask drives one task end to end: assign, execute, submit.
func (o *Orchestrator) RunTask(ctx context.Context, taskID string) (*contracts.VerificationReport, error) {
	if _, err := o.AssignTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.ExecuteTask(ctx, taskID)
}

// RunVerification runs the whole verification phase for a transaction.
// Tasks whose dependencies are satisfied run concurrently in waves; a
// new wave starts whenever the previous one completed at least one
// task, so APPRAISAL follows INSPECTION and LENDING follows both of
// its dependencies without manual sequencing.
func (o *Orchestrator) RunVerification(ctx context.Context, transactionID string) error {
	for {
		tx, err := o.store.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.State != contracts.TxVerificationInProgress {
			return nil
		}

		tasks, err := o.store.ListTasksByTransaction(ctx, transactionID)
		if err != nil {
			return err
		}

		var runnable []*contracts.VerificationTask
		for _, task := range tasks {
			if task.State != contracts.TaskPending {
				continue
			}
			ok, _, err := o.dependenciesMet(ctx, task)
			if err != nil {
				return err
			}
			if ok {
				runnable = append(runnable, task)
			}
		}
		if len(runnable) == 0 {
			return nil
		}

		var wg sync.WaitGroup
		for _, task := range runnable {
			wg.Add(1)
			go func(taskID string) {
				defer wg.Done()
				if _, err := o.RunTask(ctx, taskID); err != nil {
					o.log.Warn("verification task did not complete",
						"task_id", taskID, "tx_id", transactionID, "err", err)
				}
			}(task.ID)
		}
		wg.Wait()
	}
}

// refreshTransactionState advances the transaction once every task is
// terminal: all COMPLETED moves to VERIFICATION_COMPLETE, any rejected
// or expired task leaves the transaction where it is for dispute or
// cancellation handling.
func (o *Orchestrator) refreshTransactionState(ctx context.Context, transactionID string) error {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.State != contracts.TxVerificationInProgress {
		return nil
	}

	tasks, err := o.store.ListTasksByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	for _, task := range tasks {
		if task.State != contracts.TaskCompleted {
			return nil
		}
	}

	if err := tx.Transition(contracts.TxVerificationComplete, o.clock()); err != nil {
		return err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	o.emit(ctx, tx.ID, contracts.EventVerificationCompleted, map[string]any{
		"scope": "transaction",
		"state": string(tx.State),
		"tasks": len(tasks),
	})
	return nil
}

// releaseMilestonePayment pays the agent for a completed task through
// the wallet policy engine. An operation below the multi-sig threshold
// needs only the system's own approval and executes immediately; when
// the policy requires more approvers or a time lock, the operation is
// held and a later Approve / ExecuteOperation call finishes it.
func (o *Orchestrator) releaseMilestonePayment(ctx context.Context, tx *contracts.Transaction, task *contracts.VerificationTask) error {
	if o.engine == nil || !task.PaymentAmount.IsPositive() {
		return nil
	}

	op, err := o.engine.CreateOperation(ctx, walletOpRequest(tx, task))
	if err != nil {
		return err
	}
	if op.RequiredApprovals == 1 {
		if op, err = o.engine.Approve(ctx, op.ID, op.InitiatedBy); err != nil {
			return err
		}
	}

	ok, reason, err := o.engine.CanExecute(ctx, op.ID)
	if err != nil {
		return err
	}
	if !ok {
		o.log.Info("milestone payment held by policy",
			"operation_id", op.ID, "task_id", task.ID, "reason", reason)
		return nil
	}
	return o.executePayment(ctx, tx, op.ID, "system")
}
