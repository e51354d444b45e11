// Package store provides persistence for the escrow core's records:
// transactions, verification tasks and reports, wallet operations and
// security configs, and mirrored ledger events. Two implementations
// ship: a mutex-guarded in-memory store for tests and demos, and a
// database/sql store that works against Postgres and SQLite.
package store

import (
	"context"
	"errors"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotPending        = errors.New("operation is not pending")
	ErrDuplicateApprover = errors.New("approver already counted")
	ErrConflict          = errors.New("concurrent modification, retry")
)

// TransactionStore persists escrow transactions.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *contracts.Transaction) error
	GetTransaction(ctx context.Context, id string) (*contracts.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *contracts.Transaction) error
}

// TaskStore persists verification tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *contracts.VerificationTask) error
	GetTask(ctx context.Context, id string) (*contracts.VerificationTask, error)
	UpdateTask(ctx context.Context, task *contracts.VerificationTask) error
	ListTasksByTransaction(ctx context.Context, transactionID string) ([]*contracts.VerificationTask, error)
}

// ReportStore persists verification reports.
type ReportStore interface {
	CreateReport(ctx context.Context, report *contracts.VerificationReport) error
	GetReport(ctx context.Context, id string) (*contracts.VerificationReport, error)
	UpdateReport(ctx context.Context, report *contracts.VerificationReport) error
	GetReportByTask(ctx context.Context, taskID string) (*contracts.VerificationReport, error)
}

// WalletOperationStore persists wallet operations. ApproveOperation is
// the serialization point for concurrent approvals: implementations
// must make the duplicate check, append, increment, and threshold check
// atomic (one SQL transaction, or the store's own lock).
type WalletOperationStore interface {
	CreateOperation(ctx context.Context, op *contracts.WalletOperation) error
	GetOperation(ctx context.Context, id string) (*contracts.WalletOperation, error)
	UpdateOperation(ctx context.Context, op *contracts.WalletOperation) error
	ApproveOperation(ctx context.Context, id, approverID string) (*contracts.WalletOperation, error)
	ListOperationsByWallet(ctx context.Context, walletID string) ([]*contracts.WalletOperation, error)
}

// WalletConfigStore persists per-wallet security configuration.
type WalletConfigStore interface {
	GetConfig(ctx context.Context, walletID string) (*contracts.WalletSecurityConfig, error)
	PutConfig(ctx context.Context, cfg *contracts.WalletSecurityConfig) error
}

// EventStore persists mirrored ledger events (append-only).
type EventStore interface {
	AppendEvent(ctx context.Context, event *contracts.BlockchainEvent) error
	ListEventsByTransaction(ctx context.Context, transactionID string) ([]*contracts.BlockchainEvent, error)
}

// Store aggregates every record store the core needs.
type Store interface {
	TransactionStore
	TaskStore
	ReportStore
	WalletOperationStore
	WalletConfigStore
	EventStore
}
