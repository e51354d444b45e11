package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

// MemoryStore is a thread-safe in-memory Store. Values are copied on the
// way in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	txs     map[string]*contracts.Transaction
	tasks   map[string]*contracts.VerificationTask
	reports map[string]*contracts.VerificationReport
	ops     map[string]*contracts.WalletOperation
	configs map[string]*contracts.WalletSecurityConfig
	events  []*contracts.BlockchainEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:     make(map[string]*contracts.Transaction),
		tasks:   make(map[string]*contracts.VerificationTask),
		reports: make(map[string]*contracts.VerificationReport),
		ops:     make(map[string]*contracts.WalletOperation),
		configs: make(map[string]*contracts.WalletSecurityConfig),
	}
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *contracts.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrAlreadyExists)
	}
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*contracts.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, tx *contracts.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; !ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrNotFound)
	}
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, task *contracts.VerificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s: %w", task.ID, ErrAlreadyExists)
	}
	cp := cloneTask(task)
	s.tasks[task.ID] = cp
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*contracts.VerificationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *contracts.VerificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) ListTasksByTransaction(_ context.Context, transactionID string) ([]*contracts.VerificationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.VerificationTask
	for _, task := range s.tasks {
		if task.TransactionID == transactionID {
			out = append(out, cloneTask(task))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateReport(_ context.Context, report *contracts.VerificationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.ID]; ok {
		return fmt.Errorf("report %s: %w", report.ID, ErrAlreadyExists)
	}
	s.reports[report.ID] = cloneReport(report)
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*contracts.VerificationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return cloneReport(report), nil
}

func (s *MemoryStore) UpdateReport(_ context.Context, report *contracts.VerificationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.ID]; !ok {
		return fmt.Errorf("report %s: %w", report.ID, ErrNotFound)
	}
	s.reports[report.ID] = cloneReport(report)
	return nil
}

func (s *MemoryStore) GetReportByTask(_ context.Context, taskID string) (*contracts.VerificationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, report := range s.reports {
		if report.TaskID == taskID {
			return cloneReport(report), nil
		}
	}
	return nil, fmt.Errorf("report for task %s: %w", taskID, ErrNotFound)
}

func (s *MemoryStore) CreateOperation(_ context.Context, op *contracts.WalletOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; ok {
		return fmt.Errorf("operation %s: %w", op.ID, ErrAlreadyExists)
	}
	s.ops[op.ID] = cloneOp(op)
	return nil
}

func (s *MemoryStore) GetOperation(_ context.Context, id string) (*contracts.WalletOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	return cloneOp(op), nil
}

func (s *MemoryStore) UpdateOperation(_ context.Context, op *contracts.WalletOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; !ok {
		return fmt.Errorf("operation %s: %w", op.ID, ErrNotFound)
	}
	s.ops[op.ID] = cloneOp(op)
	return nil
}

// ApproveOperation performs the atomic duplicate check, append,
// increment, and threshold check under the store lock.
func (s *MemoryStore) ApproveOperation(_ context.Context, id, approverID string) (*contracts.WalletOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if op.Status != contracts.OpPending {
		return nil, fmt.Errorf("operation %s has status %s: %w", id, op.Status, ErrNotPending)
	}
	for _, a := range op.Approvers {
		if a == approverID {
			return nil, fmt.Errorf("operation %s approver %s: %w", id, approverID, ErrDuplicateApprover)
		}
	}

	op.Approvers = append(op.Approvers, approverID)
	op.CurrentApprovals++
	if op.CurrentApprovals >= op.RequiredApprovals {
		op.Status = contracts.OpApproved
	}
	return cloneOp(op), nil
}

func (s *MemoryStore) ListOperationsByWallet(_ context.Context, walletID string) ([]*contracts.WalletOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.WalletOperation
	for _, op := range s.ops {
		if op.WalletID == walletID {
			out = append(out, cloneOp(op))
		}
	}
	return out, nil
}

func (s *MemoryStore) GetConfig(_ context.Context, walletID string) (*contracts.WalletSecurityConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[walletID]
	if !ok {
		return nil, fmt.Errorf("wallet config %s: %w", walletID, ErrNotFound)
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) PutConfig(_ context.Context, cfg *contracts.WalletSecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.WalletID] = &cp
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *contracts.BlockchainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListEventsByTransaction(_ context.Context, transactionID string) ([]*contracts.BlockchainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.BlockchainEvent
	for _, e := range s.events {
		if e.TransactionID == transactionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- deep copies for reference-typed fields ---

func cloneTask(t *contracts.VerificationTask) *contracts.VerificationTask {
	cp := *t
	if t.Requirements != nil {
		cp.Requirements = make(map[string]any, len(t.Requirements))
		for k, v := range t.Requirements {
			cp.Requirements[k] = v
		}
	}
	return &cp
}

func cloneReport(r *contracts.VerificationReport) *contracts.VerificationReport {
	cp := *r
	if r.Findings != nil {
		cp.Findings = make(map[string]any, len(r.Findings))
		for k, v := range r.Findings {
			cp.Findings[k] = v
		}
	}
	cp.Documents = append([]string(nil), r.Documents...)
	return &cp
}

func cloneOp(o *contracts.WalletOperation) *contracts.WalletOperation {
	cp := *o
	cp.Approvers = append([]string(nil), o.Approvers...)
	return &cp
}
