package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStoreNoMigrate(db), mock
}

var opColumns = []string{
	"id", "transaction_id", "wallet_id", "type", "amount_minor", "currency",
	"recipient", "description", "required_approvals", "current_approvals",
	"approvers", "time_lock_until", "status", "initiated_by", "initiated_at",
	"executed_by", "executed_at", "rejection_reason",
}

func opRow(id string, status contracts.OperationStatus, current int, approversJSON string) *sqlmock.Rows {
	return sqlmock.NewRows(opColumns).AddRow(
		id, "tx-1", "w1", string(contracts.OpPayment), int64(100000), "USD",
		"agent-1", "milestone payment", 2, current, approversJSON,
		nil, string(status), "system", time.Now(), "", nil, "")
}

func TestApproveOperationCASHappyPath(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, required_approvals, current_approvals, approvers\s+FROM wallet_operations WHERE id = \$1`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "required_approvals", "current_approvals", "approvers"}).
			AddRow(string(contracts.OpPending), 2, 1, `["alice"]`))
	mock.ExpectExec(`UPDATE wallet_operations\s+SET approvers = \$1, current_approvals = \$2, status = \$3\s+WHERE id = \$4 AND status = \$5 AND current_approvals = \$6`).
		WithArgs(`["alice","bob"]`, 2, string(contracts.OpApproved), "op-1", string(contracts.OpPending), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT id, transaction_id, wallet_id, type, amount_minor, currency,`).
		WithArgs("op-1").
		WillReturnRows(opRow("op-1", contracts.OpApproved, 2, `["alice","bob"]`))

	op, err := s.ApproveOperation(context.Background(), "op-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, contracts.OpApproved, op.Status)
	assert.Equal(t, []string{"alice", "bob"}, op.Approvers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveOperationLostRaceIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, required_approvals, current_approvals, approvers`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "required_approvals", "current_approvals", "approvers"}).
			AddRow(string(contracts.OpPending), 2, 0, `[]`))
	// Another approver won the race, so the guarded UPDATE matches no row.
	mock.ExpectExec(`UPDATE wallet_operations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.ApproveOperation(context.Background(), "op-1", "alice")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveOperationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, required_approvals, current_approvals, approvers`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ApproveOperation(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveOperationNotPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, required_approvals, current_approvals, approvers`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "required_approvals", "current_approvals", "approvers"}).
			AddRow(string(contracts.OpExecuted), 2, 2, `["alice","bob"]`))
	mock.ExpectRollback()

	_, err := s.ApproveOperation(context.Background(), "op-1", "carol")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestApproveOperationDuplicateApprover(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, required_approvals, current_approvals, approvers`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "required_approvals", "current_approvals", "approvers"}).
			AddRow(string(contracts.OpPending), 2, 1, `["alice"]`))
	mock.ExpectRollback()

	_, err := s.ApproveOperation(context.Background(), "op-1", "alice")
	assert.ErrorIs(t, err, ErrDuplicateApprover)
}

func TestUpdateTransactionMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE escrow_transactions SET state = \$1, updated_at = \$2 WHERE id = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateTransaction(context.Background(), &contracts.Transaction{
		ID: "missing", State: contracts.TxSettled,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOperationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, transaction_id, wallet_id, type, amount_minor, currency,`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetOperation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutConfigUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO wallet_configs \(wallet_id, config\) VALUES \(\$1, \$2\)\s+ON CONFLICT \(wallet_id\) DO UPDATE SET config = EXCLUDED.config`).
		WithArgs("w1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutConfig(context.Background(), &contracts.WalletSecurityConfig{WalletID: "w1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
