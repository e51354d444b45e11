// Package orchestrator drives the escrow verification workflow: it
// assigns verification tasks to agents, enforces inter-agent dependency
// ordering, routes submitted reports through the validators, aggregates
// task results into the transaction lifecycle, and requests milestone
// payments through the wallet policy engine. Every state transition is
// mirrored to the audit ledger.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
	"github.com/clearhold-labs/clearhold/core/pkg/walletsec"
)

// AgentExecutor runs one verification externally and returns the
// agent's report. Implementations may fail with transient or permanent
// faults; only transient ones are retried.
type AgentExecutor interface {
	ExecuteVerification(ctx context.Context, tx *contracts.Transaction, details contracts.TaskDetails) (*contracts.VerificationReport, error)
}

// PaymentBackend actually moves value once the policy engine has
// authorized an operation.
type PaymentBackend interface {
	ExecutePayment(ctx context.Context, agentID string, amount money.Money, recipient, description string) (*contracts.PaymentResult, error)
}

// Auditor records one event durably. The orchestrator uses the
// synchronous path so no transition is silently dropped.
type Auditor interface {
	Log(ctx context.Context, event contracts.BlockchainEvent) (*contracts.BlockchainEvent, error)
}

// Config tunes orchestration behavior.
type Config struct {
	// ExecuteRetries bounds retries of a transient agent-execution
	// failure. Validator logic is deterministic and never retried.
	ExecuteRetries int
	// ExecuteBackoff is the base delay between execution retries.
	ExecuteBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ExecuteRetries: 2,
		ExecuteBackoff: 500 * time.Millisecond,
	}
}

// Orchestrator coordinates verification tasks for escrow transactions.
// Tasks for independent agents run concurrently; the transaction
// aggregate is only touched under its per-transaction lock.
type Orchestrator struct {
	store   store.Store
	agents  map[contracts.VerificationType]AgentExecutor
	engine  *walletsec.Engine
	backend PaymentBackend
	auditor Auditor
	cfg     Config
	clock   func() time.Time
	log     *slog.Logger

	lockMu  sync.Mutex
	txLocks map[string]*sync.Mutex
}

// New creates an Orchestrator. engine and backend may be nil when
// payments are handled elsewhere; auditor must not be nil.
func New(s store.Store, agents map[contracts.VerificationType]AgentExecutor, engine *walletsec.Engine, backend PaymentBackend, auditor Auditor, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:   s,
		agents:  agents,
		engine:  engine,
		backend: backend,
		auditor: auditor,
		cfg:     cfg,
		clock:   time.Now,
		log:     log,
		txLocks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// txLock returns the lifecycle lock for one transaction.
func (o *Orchestrator) txLock(transactionID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	l, ok := o.txLocks[transactionID]
	if !ok {
		l = &sync.Mutex{}
		o.txLocks[transactionID] = l
	}
	return l
}

// CreateTransactionRequest opens a new escrow transaction.
type CreateTransactionRequest struct {
	BuyerAgentID  string
	SellerAgentID string
	PropertyID    string
	PurchasePrice money.Money
	EarnestMoney  money.Money
	ClosingDate   time.Time
	WalletID      string
}

// CreateTransaction persists a new INITIATED transaction and audits it.
func (o *Orchestrator) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*contracts.Transaction, error) {
	now := o.clock()
	tx := &contracts.Transaction{
		ID:            uuid.New().String(),
		BuyerAgentID:  req.BuyerAgentID,
		SellerAgentID: req.SellerAgentID,
		PropertyID:    req.PropertyID,
		PurchasePrice: req.PurchasePrice,
		EarnestMoney:  req.EarnestMoney,
		ClosingDate:   req.ClosingDate,
		State:         contracts.TxInitiated,
		WalletID:      req.WalletID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	o.emit(ctx, tx.ID, contracts.EventTransactionInitiated, map[string]any{
		"property_id":    tx.PropertyID,
		"buyer_agent":    tx.BuyerAgentID,
		"seller_agent":   tx.SellerAgentID,
		"purchase_price": tx.PurchasePrice.String(),
	})
	return tx, nil
}

// DepositEarnestMoney records the buyer's earnest money deposit.
func (o *Orchestrator) DepositEarnestMoney(ctx context.Context, transactionID, depositedBy string) error {
	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	o.emit(ctx, tx.ID, contracts.EventEarnestMoneyDeposited, map[string]any{
		"amount":       tx.EarnestMoney.String(),
		"deposited_by": depositedBy,
	})
	return nil
}

// Assignment describes one verification task to plan.
type Assignment struct {
	AgentID       string
	Deadline      time.Time
	PaymentAmount money.Money
	Requirements  map[string]any
}

// PlanVerification creates PENDING tasks for the given assignments and
// moves the transaction into VERIFICATION_IN_PROGRESS. Tasks are not
// assigned yet; the dependency gate runs at assignment time.
func (o *Orchestrator) PlanVerification(ctx context.Context, transactionID string, assignments map[contracts.VerificationType]Assignment) ([]*contracts.VerificationTask, error) {
	lock := o.txLock(transactionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := o.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	now := o.clock()
	if err := tx.Transition(contracts.TxVerificationInProgress, now); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	tasks := make([]*contracts.VerificationTask, 0, len(assignments))
	for _, vt := range contracts.AllVerificationTypes {
		a, ok := assignments[vt]
		if !ok {
			continue
		}
		task := &contracts.VerificationTask{
			ID:            uuid.New().String(),
			TransactionID: transactionID,
			Type:          vt,
			AgentID:       a.AgentID,
			Deadline:      a.Deadline,
			PaymentAmount: a.PaymentAmount,
			Requirements:  a.Requirements,
			State:         contracts.TaskPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := o.store.CreateTask(ctx, task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// emit records one audit event synchronously. Audit failures cannot
// roll back an already-applied transition, so they are logged loudly
// instead of propagated.
func (o *Orchestrator) emit(ctx context.Context, transactionID string, eventType contracts.EventType, payload map[string]any) {
	event := contracts.BlockchainEvent{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     o.clock().UTC(),
	}
	if _, err := o.auditor.Log(ctx, event); err != nil {
		o.log.Error("audit event failed",
			"tx_id", transactionID, "event_type", eventType, "err", err)
	}
}
