package contracts

import (
	"time"

	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// OperationType distinguishes milestone payments from the final settlement.
type OperationType string

const (
	OpPayment    OperationType = "PAYMENT"
	OpSettlement OperationType = "SETTLEMENT"
)

// OperationStatus is the lifecycle state of a wallet operation.
type OperationStatus string

const (
	OpPending  OperationStatus = "PENDING"
	OpApproved OperationStatus = "APPROVED"
	OpExecuted OperationStatus = "EXECUTED"
	OpRejected OperationStatus = "REJECTED"
	OpExpired  OperationStatus = "EXPIRED"
	// OpFailed marks an authorized execution whose backend transfer did
	// not complete. No funds moved; a replacement operation is required.
	OpFailed OperationStatus = "FAILED"
)

// WalletOperation is a fund-moving request gated by the policy engine.
// Approval thresholds are fixed at creation time and never reevaluated.
type WalletOperation struct {
	ID                string          `json:"id"`
	TransactionID     string          `json:"transaction_id"`
	WalletID          string          `json:"wallet_id"`
	Type              OperationType   `json:"type"`
	Amount            money.Money     `json:"amount"`
	Recipient         string          `json:"recipient"`
	Description       string          `json:"description,omitempty"`
	RequiredApprovals int             `json:"required_approvals"`
	CurrentApprovals  int             `json:"current_approvals"`
	Approvers         []string        `json:"approvers,omitempty"`
	TimeLockUntil     *time.Time      `json:"time_lock_until,omitempty"`
	Status            OperationStatus `json:"status"`
	InitiatedBy       string          `json:"initiated_by"`
	InitiatedAt       time.Time       `json:"initiated_at"`
	ExecutedBy        string          `json:"executed_by,omitempty"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
}

// WalletSecurityConfig holds per-wallet policy settings. Mutated only by
// explicit admin actions (Configure, Pause, Resume).
type WalletSecurityConfig struct {
	WalletID string `json:"wallet_id"`

	MultiSigEnabled   bool        `json:"multi_sig_enabled"`
	MultiSigThreshold money.Money `json:"multi_sig_threshold"`
	RequiredApprovers int         `json:"required_approvers"`

	TimeLockEnabled   bool          `json:"time_lock_enabled"`
	TimeLockDuration  time.Duration `json:"time_lock_duration"`
	TimeLockThreshold money.Money   `json:"time_lock_threshold"`

	Paused      bool      `json:"paused"`
	PauseReason string    `json:"pause_reason,omitempty"`
	PausedAt    time.Time `json:"paused_at,omitempty"`
	PausedBy    string    `json:"paused_by,omitempty"`
}

// WalletAction labels wallet-operation audit entries.
type WalletAction string

const (
	ActionInitiated WalletAction = "INITIATED"
	ActionApproved  WalletAction = "APPROVED"
	ActionRejected  WalletAction = "REJECTED"
	ActionExecuted  WalletAction = "EXECUTED"
	ActionFailed    WalletAction = "FAILED"
	ActionPaused    WalletAction = "PAUSED"
	ActionResumed   WalletAction = "RESUMED"
)

// PaymentStatus is the outcome reported by the payment backend.
type PaymentStatus string

const (
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentError    PaymentStatus = "ERROR"
	PaymentRejected PaymentStatus = "REJECTED"
)

// PaymentResult is the payment backend response. The policy engine
// authorizes; the backend actually moves value.
type PaymentResult struct {
	Status PaymentStatus `json:"status"`
	TxHash string        `json:"tx_hash,omitempty"`
	Error  string        `json:"error,omitempty"`
}
