package contracts

import "time"

// EventType enumerates the audit event vocabulary. The strings are
// stable: they appear on the external ledger and must never change.
type EventType string

const (
	EventTransactionInitiated  EventType = "transaction_initiated"
	EventEarnestMoneyDeposited EventType = "earnest_money_deposited"
	EventTaskAssigned          EventType = "verification_task_assigned"
	EventVerificationCompleted EventType = "verification_completed"
	EventPaymentReleased       EventType = "payment_released"
	EventSettlementExecuted    EventType = "settlement_executed"
	EventDisputeRaised         EventType = "dispute_raised"
	EventDisputeResolved       EventType = "dispute_resolved"
	EventTransactionCancelled  EventType = "transaction_cancelled"
)

// BlockchainEvent is one append-only audit record. The local copy is a
// best-effort mirror of the external ledger and may lag it.
type BlockchainEvent struct {
	ID              string         `json:"id"`
	TransactionID   string         `json:"transaction_id"`
	EventType       EventType      `json:"event_type"`
	Payload         map[string]any `json:"payload,omitempty"`
	TransactionHash string         `json:"transaction_hash,omitempty"`
	BlockNumber     int64          `json:"block_number,omitempty"`
	Verified        bool           `json:"verified,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}
