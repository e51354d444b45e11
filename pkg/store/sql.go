package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// SQLStore implements Store using database/sql. It supports both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite) via standard
// drivers; callers open the *sql.DB with the driver they want.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps db and runs schema migration.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLStoreNoMigrate wraps db without touching the schema (tests).
func NewSQLStoreNoMigrate(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS escrow_transactions (
	id TEXT PRIMARY KEY,
	buyer_agent_id TEXT,
	seller_agent_id TEXT,
	property_id TEXT,
	purchase_price_minor BIGINT,
	earnest_money_minor BIGINT,
	currency TEXT,
	closing_date TIMESTAMP,
	state TEXT,
	wallet_id TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS verification_tasks (
	id TEXT PRIMARY KEY,
	transaction_id TEXT,
	type TEXT,
	agent_id TEXT,
	deadline TIMESTAMP,
	payment_minor BIGINT,
	currency TEXT,
	requirements TEXT,
	state TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS verification_reports (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	agent_id TEXT,
	report_type TEXT,
	findings TEXT,
	documents TEXT,
	status TEXT,
	reviewer_notes TEXT,
	submitted_at TIMESTAMP,
	reviewed_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS wallet_operations (
	id TEXT PRIMARY KEY,
	transaction_id TEXT,
	wallet_id TEXT,
	type TEXT,
	amount_minor BIGINT,
	currency TEXT,
	recipient TEXT,
	description TEXT,
	required_approvals INTEGER,
	current_approvals INTEGER,
	approvers TEXT,
	time_lock_until TIMESTAMP,
	status TEXT,
	initiated_by TEXT,
	initiated_at TIMESTAMP,
	executed_by TEXT,
	executed_at TIMESTAMP,
	rejection_reason TEXT
);
CREATE TABLE IF NOT EXISTS wallet_configs (
	wallet_id TEXT PRIMARY KEY,
	config TEXT
);
CREATE TABLE IF NOT EXISTS ledger_events (
	id TEXT PRIMARY KEY,
	transaction_id TEXT,
	event_type TEXT,
	payload TEXT,
	transaction_hash TEXT,
	block_number BIGINT,
	verified BOOLEAN,
	timestamp TIMESTAMP
);
`

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// --- transactions ---

func (s *SQLStore) CreateTransaction(ctx context.Context, tx *contracts.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_transactions
			(id, buyer_agent_id, seller_agent_id, property_id, purchase_price_minor,
			 earnest_money_minor, currency, closing_date, state, wallet_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.BuyerAgentID, tx.SellerAgentID, tx.PropertyID,
		tx.PurchasePrice.AmountMinor, tx.EarnestMoney.AmountMinor, tx.PurchasePrice.Currency,
		tx.ClosingDate, tx.State, tx.WalletID, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (s *SQLStore) GetTransaction(ctx context.Context, id string) (*contracts.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_agent_id, seller_agent_id, property_id, purchase_price_minor,
		       earnest_money_minor, currency, closing_date, state, wallet_id, created_at, updated_at
		FROM escrow_transactions WHERE id = $1`, id)

	var tx contracts.Transaction
	var priceMinor, earnestMinor int64
	var currency string
	err := row.Scan(&tx.ID, &tx.BuyerAgentID, &tx.SellerAgentID, &tx.PropertyID,
		&priceMinor, &earnestMinor, &currency, &tx.ClosingDate, &tx.State,
		&tx.WalletID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	tx.PurchasePrice = money.New(priceMinor, currency)
	tx.EarnestMoney = money.New(earnestMinor, currency)
	return &tx, nil
}

func (s *SQLStore) UpdateTransaction(ctx context.Context, tx *contracts.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET state = $1, updated_at = $2 WHERE id = $3`,
		tx.State, tx.UpdatedAt, tx.ID)
	if err != nil {
		return err
	}
	return requireRow(res, tx.ID)
}

// --- tasks ---

func (s *SQLStore) CreateTask(ctx context.Context, task *contracts.VerificationTask) error {
	reqJSON, err := json.Marshal(task.Requirements)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_tasks
			(id, transaction_id, type, agent_id, deadline, payment_minor, currency,
			 requirements, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.TransactionID, task.Type, task.AgentID, task.Deadline,
		task.PaymentAmount.AmountMinor, task.PaymentAmount.Currency,
		string(reqJSON), task.State, task.CreatedAt, task.UpdatedAt)
	return err
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*contracts.VerificationTask, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return task, nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, task *contracts.VerificationTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_tasks SET state = $1, agent_id = $2, updated_at = $3 WHERE id = $4`,
		task.State, task.AgentID, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	return requireRow(res, task.ID)
}

func (s *SQLStore) ListTasksByTransaction(ctx context.Context, transactionID string) ([]*contracts.VerificationTask, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.VerificationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

const taskSelect = `
	SELECT id, transaction_id, type, agent_id, deadline, payment_minor, currency,
	       requirements, state, created_at, updated_at
	FROM verification_tasks`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*contracts.VerificationTask, error) {
	var task contracts.VerificationTask
	var paymentMinor int64
	var currency, reqJSON string
	err := row.Scan(&task.ID, &task.TransactionID, &task.Type, &task.AgentID,
		&task.Deadline, &paymentMinor, &currency, &reqJSON, &task.State,
		&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.PaymentAmount = money.New(paymentMinor, currency)
	if reqJSON != "" && reqJSON != "null" {
		if err := json.Unmarshal([]byte(reqJSON), &task.Requirements); err != nil {
			return nil, fmt.Errorf("task %s requirements: %w", task.ID, err)
		}
	}
	return &task, nil
}

// --- reports ---

func (s *SQLStore) CreateReport(ctx context.Context, report *contracts.VerificationReport) error {
	findingsJSON, err := json.Marshal(report.Findings)
	if err != nil {
		return err
	}
	docsJSON, err := json.Marshal(report.Documents)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_reports
			(id, task_id, agent_id, report_type, findings, documents, status,
			 reviewer_notes, submitted_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		report.ID, report.TaskID, report.AgentID, report.Type,
		string(findingsJSON), string(docsJSON), report.Status,
		report.ReviewerNotes, report.SubmittedAt, nullableTime(report.ReviewedAt))
	return err
}

func (s *SQLStore) GetReport(ctx context.Context, id string) (*contracts.VerificationReport, error) {
	row := s.db.QueryRowContext(ctx, reportSelect+` WHERE id = $1`, id)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return report, nil
}

func (s *SQLStore) GetReportByTask(ctx context.Context, taskID string) (*contracts.VerificationReport, error) {
	row := s.db.QueryRowContext(ctx, reportSelect+` WHERE task_id = $1 ORDER BY submitted_at DESC LIMIT 1`, taskID)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report for task %s: %w", taskID, ErrNotFound)
		}
		return nil, err
	}
	return report, nil
}

func (s *SQLStore) UpdateReport(ctx context.Context, report *contracts.VerificationReport) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_reports
		SET status = $1, reviewer_notes = $2, reviewed_at = $3 WHERE id = $4`,
		report.Status, report.ReviewerNotes, nullableTime(report.ReviewedAt), report.ID)
	if err != nil {
		return err
	}
	return requireRow(res, report.ID)
}

const reportSelect = `
	SELECT id, task_id, agent_id, report_type, findings, documents, status,
	       reviewer_notes, submitted_at, reviewed_at
	FROM verification_reports`

func scanReport(row scanner) (*contracts.VerificationReport, error) {
	var report contracts.VerificationReport
	var findingsJSON, docsJSON string
	var reviewedAt sql.NullTime
	err := row.Scan(&report.ID, &report.TaskID, &report.AgentID, &report.Type,
		&findingsJSON, &docsJSON, &report.Status, &report.ReviewerNotes,
		&report.SubmittedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	if findingsJSON != "" && findingsJSON != "null" {
		if err := json.Unmarshal([]byte(findingsJSON), &report.Findings); err != nil {
			return nil, fmt.Errorf("report %s findings: %w", report.ID, err)
		}
	}
	if docsJSON != "" && docsJSON != "null" {
		if err := json.Unmarshal([]byte(docsJSON), &report.Documents); err != nil {
			return nil, fmt.Errorf("report %s documents: %w", report.ID, err)
		}
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		report.ReviewedAt = &t
	}
	return &report, nil
}

// --- wallet operations ---

func (s *SQLStore) CreateOperation(ctx context.Context, op *contracts.WalletOperation) error {
	approversJSON, err := json.Marshal(op.Approvers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_operations
			(id, transaction_id, wallet_id, type, amount_minor, currency, recipient,
			 description, required_approvals, current_approvals, approvers,
			 time_lock_until, status, initiated_by, initiated_at, executed_by,
			 executed_at, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		op.ID, op.TransactionID, op.WalletID, op.Type,
		op.Amount.AmountMinor, op.Amount.Currency, op.Recipient, op.Description,
		op.RequiredApprovals, op.CurrentApprovals, string(approversJSON),
		nullableTime(op.TimeLockUntil), op.Status, op.InitiatedBy, op.InitiatedAt,
		op.ExecutedBy, nullableTime(op.ExecutedAt), op.RejectionReason)
	return err
}

func (s *SQLStore) GetOperation(ctx context.Context, id string) (*contracts.WalletOperation, error) {
	row := s.db.QueryRowContext(ctx, opSelect+` WHERE id = $1`, id)
	op, err := scanOp(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return op, nil
}

func (s *SQLStore) UpdateOperation(ctx context.Context, op *contracts.WalletOperation) error {
	approversJSON, err := json.Marshal(op.Approvers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallet_operations
		SET status = $1, current_approvals = $2, approvers = $3, executed_by = $4,
		    executed_at = $5, rejection_reason = $6
		WHERE id = $7`,
		op.Status, op.CurrentApprovals, string(approversJSON),
		op.ExecutedBy, nullableTime(op.ExecutedAt), op.RejectionReason, op.ID)
	if err != nil {
		return err
	}
	return requireRow(res, op.ID)
}

// ApproveOperation serializes concurrent approvals with a guarded
// compare-and-set UPDATE inside one transaction: the row only changes if
// it is still PENDING with the approval count we read. Losing the race
// returns ErrConflict so the caller can retry.
func (s *SQLStore) ApproveOperation(ctx context.Context, id, approverID string) (*contracts.WalletOperation, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dbTx.Rollback() }()

	row := dbTx.QueryRowContext(ctx, `
		SELECT status, required_approvals, current_approvals, approvers
		FROM wallet_operations WHERE id = $1`, id)

	var status contracts.OperationStatus
	var required, current int
	var approversJSON string
	if err := row.Scan(&status, &required, &current, &approversJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if status != contracts.OpPending {
		return nil, fmt.Errorf("operation %s has status %s: %w", id, status, ErrNotPending)
	}

	var approvers []string
	if approversJSON != "" && approversJSON != "null" {
		if err := json.Unmarshal([]byte(approversJSON), &approvers); err != nil {
			return nil, fmt.Errorf("operation %s approvers: %w", id, err)
		}
	}
	for _, a := range approvers {
		if a == approverID {
			return nil, fmt.Errorf("operation %s approver %s: %w", id, approverID, ErrDuplicateApprover)
		}
	}

	approvers = append(approvers, approverID)
	newCount := current + 1
	newStatus := contracts.OpPending
	if newCount >= required {
		newStatus = contracts.OpApproved
	}
	updatedJSON, err := json.Marshal(approvers)
	if err != nil {
		return nil, err
	}

	res, err := dbTx.ExecContext(ctx, `
		UPDATE wallet_operations
		SET approvers = $1, current_approvals = $2, status = $3
		WHERE id = $4 AND status = $5 AND current_approvals = $6`,
		string(updatedJSON), newCount, newStatus, id, contracts.OpPending, current)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("operation %s: %w", id, ErrConflict)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOperation(ctx, id)
}

func (s *SQLStore) ListOperationsByWallet(ctx context.Context, walletID string) ([]*contracts.WalletOperation, error) {
	rows, err := s.db.QueryContext(ctx, opSelect+` WHERE wallet_id = $1 ORDER BY initiated_at ASC`, walletID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.WalletOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

const opSelect = `
	SELECT id, transaction_id, wallet_id, type, amount_minor, currency, recipient,
	       description, required_approvals, current_approvals, approvers,
	       time_lock_until, status, initiated_by, initiated_at, executed_by,
	       executed_at, rejection_reason
	FROM wallet_operations`

func scanOp(row scanner) (*contracts.WalletOperation, error) {
	var op contracts.WalletOperation
	var amountMinor int64
	var currency, approversJSON string
	var timeLock, executedAt sql.NullTime
	err := row.Scan(&op.ID, &op.TransactionID, &op.WalletID, &op.Type,
		&amountMinor, &currency, &op.Recipient, &op.Description,
		&op.RequiredApprovals, &op.CurrentApprovals, &approversJSON,
		&timeLock, &op.Status, &op.InitiatedBy, &op.InitiatedAt,
		&op.ExecutedBy, &executedAt, &op.RejectionReason)
	if err != nil {
		return nil, err
	}
	op.Amount = money.New(amountMinor, currency)
	if approversJSON != "" && approversJSON != "null" {
		if err := json.Unmarshal([]byte(approversJSON), &op.Approvers); err != nil {
			return nil, fmt.Errorf("operation %s approvers: %w", op.ID, err)
		}
	}
	if timeLock.Valid {
		t := timeLock.Time
		op.TimeLockUntil = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		op.ExecutedAt = &t
	}
	return &op, nil
}

// --- wallet configs ---

func (s *SQLStore) GetConfig(ctx context.Context, walletID string) (*contracts.WalletSecurityConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config FROM wallet_configs WHERE wallet_id = $1`, walletID)
	var cfgJSON string
	if err := row.Scan(&cfgJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet config %s: %w", walletID, ErrNotFound)
		}
		return nil, err
	}
	var cfg contracts.WalletSecurityConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("wallet config %s: %w", walletID, err)
	}
	return &cfg, nil
}

func (s *SQLStore) PutConfig(ctx context.Context, cfg *contracts.WalletSecurityConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_configs (wallet_id, config) VALUES ($1, $2)
		ON CONFLICT (wallet_id) DO UPDATE SET config = EXCLUDED.config`,
		cfg.WalletID, string(cfgJSON))
	return err
}

// --- ledger events ---

func (s *SQLStore) AppendEvent(ctx context.Context, event *contracts.BlockchainEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_events
			(id, transaction_id, event_type, payload, transaction_hash, block_number, verified, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.TransactionID, event.EventType, string(payloadJSON),
		event.TransactionHash, event.BlockNumber, event.Verified, event.Timestamp)
	return err
}

func (s *SQLStore) ListEventsByTransaction(ctx context.Context, transactionID string) ([]*contracts.BlockchainEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, event_type, payload, transaction_hash, block_number, verified, timestamp
		FROM ledger_events WHERE transaction_id = $1 ORDER BY timestamp ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.BlockchainEvent
	for rows.Next() {
		var e contracts.BlockchainEvent
		var payloadJSON string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EventType, &payloadJSON,
			&e.TransactionHash, &e.BlockNumber, &e.Verified, &e.Timestamp); err != nil {
			return nil, err
		}
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("event %s payload: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- helpers ---

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
