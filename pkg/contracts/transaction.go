// Package contracts holds the shared domain types of the escrow
// settlement core: transactions, verification tasks and reports, wallet
// operations, audit events, and the fault taxonomy. Every other package
// depends on contracts; contracts depends only on pkg/money.
package contracts

import (
	"fmt"
	"time"

	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// TransactionState is the lifecycle state of an escrow transaction.
type TransactionState string

const (
	TxInitiated              TransactionState = "INITIATED"
	TxVerificationInProgress TransactionState = "VERIFICATION_IN_PROGRESS"
	TxVerificationComplete   TransactionState = "VERIFICATION_COMPLETE"
	TxSettlementPending      TransactionState = "SETTLEMENT_PENDING"
	TxSettled                TransactionState = "SETTLED"
	TxCancelled              TransactionState = "CANCELLED"
	TxDisputed               TransactionState = "DISPUTED"
)

// Terminal reports whether the state admits no further transitions.
func (s TransactionState) Terminal() bool {
	return s == TxSettled || s == TxCancelled
}

// txTransitions is the allowed transition table. DISPUTED is reachable
// from any non-terminal state and may be resolved back into the
// verification flow or cancelled.
var txTransitions = map[TransactionState][]TransactionState{
	TxInitiated:              {TxVerificationInProgress, TxCancelled, TxDisputed},
	TxVerificationInProgress: {TxVerificationComplete, TxCancelled, TxDisputed},
	TxVerificationComplete:   {TxSettlementPending, TxCancelled, TxDisputed},
	TxSettlementPending:      {TxSettled, TxCancelled, TxDisputed},
	TxDisputed:               {TxVerificationInProgress, TxSettlementPending, TxCancelled},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
func CanTransition(from, to TransactionState) bool {
	for _, next := range txTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is the escrow transaction aggregate. It is owned by the
// orchestrator and mutated only through defined transitions; once
// SETTLED or CANCELLED it is immutable.
type Transaction struct {
	ID            string           `json:"id"`
	BuyerAgentID  string           `json:"buyer_agent_id"`
	SellerAgentID string           `json:"seller_agent_id"`
	PropertyID    string           `json:"property_id"`
	PurchasePrice money.Money      `json:"purchase_price"`
	EarnestMoney  money.Money      `json:"earnest_money"`
	ClosingDate   time.Time        `json:"closing_date"`
	State         TransactionState `json:"state"`
	WalletID      string           `json:"wallet_id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Transition validates and applies a state change in place.
func (t *Transaction) Transition(to TransactionState, now time.Time) error {
	if t.State.Terminal() {
		return fmt.Errorf("transaction %s is %s and immutable", t.ID, t.State)
	}
	if !CanTransition(t.State, to) {
		return fmt.Errorf("transaction %s: illegal transition %s -> %s", t.ID, t.State, to)
	}
	t.State = to
	t.UpdatedAt = now
	return nil
}
