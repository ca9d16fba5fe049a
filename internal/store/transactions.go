package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

const transactionColumns = `id, order_id, reference, amount, currency, status, payment_method, gateway_response, attempt_count, admin_approved, admin_note, approved_by, approved_at, created_at, updated_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var raw []byte
	err := row.Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.Reference,
		&txn.Amount,
		&txn.Currency,
		&txn.Status,
		&txn.PaymentMethod,
		&raw,
		&txn.AttemptCount,
		&txn.AdminApproved,
		&txn.AdminNote,
		&txn.ApprovedBy,
		&txn.ApprovedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.GatewayResponse = json.RawMessage(raw)
	return txn, nil
}

func getTransaction(ctx context.Context, q Querier, query string, arg int64) (*models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

func GetTransaction(ctx context.Context, q Querier, id int64) (*models.Transaction, error) {
	return getTransaction(ctx, q, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func GetTransactionByOrder(ctx context.Context, q Querier, orderID int64) (*models.Transaction, error) {
	return getTransaction(ctx, q, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1`, orderID)
}

// GetTransactionForUpdate locks the transaction row. Approval and settlement
// hold this lock so a transaction is settled by exactly one caller.
func GetTransactionForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Transaction, error) {
	return getTransaction(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func GetTransactionByOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Transaction, error) {
	return getTransaction(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 FOR UPDATE`, orderID)
}

// InsertTransaction creates the single transaction of an order.
func InsertTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO transactions (order_id, reference, amount, currency, status, payment_method, gateway_response, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		txn.OrderID, txn.Reference, txn.Amount, txn.Currency, txn.Status, txn.PaymentMethod,
		jsonParam(txn.GatewayResponse), txn.AttemptCount,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if referenceTaken(err) {
			return apperr.ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransactionOutcome overwrites the outcome of a retried payment.
func UpdateTransactionOutcome(ctx context.Context, tx *sql.Tx, txn *models.Transaction) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE transactions
		SET reference = $1, amount = $2, status = $3, payment_method = $4,
		    gateway_response = $5::jsonb, attempt_count = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at`,
		txn.Reference, txn.Amount, txn.Status, txn.PaymentMethod,
		jsonParam(txn.GatewayResponse), txn.AttemptCount, txn.ID,
	).Scan(&txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrTransactionNotFound
		}
		if referenceTaken(err) {
			return apperr.ErrDuplicateReference
		}
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// ApproveTransaction records the approval of a locked, unapproved
// transaction. approvedBy is nil when the engine approves automatically.
func ApproveTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction, approvedBy *int64, note string) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE transactions
		SET admin_approved = TRUE, admin_note = $1, approved_by = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND NOT admin_approved
		RETURNING approved_at, updated_at`,
		note, approvedBy, txn.ID,
	).Scan(&txn.ApprovedAt, &txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrTransactionNotFound
		}
		return fmt.Errorf("approve transaction: %w", err)
	}
	txn.AdminApproved = true
	txn.AdminNote = note
	txn.ApprovedBy = approvedBy
	return nil
}

func InsertPaymentAttempt(ctx context.Context, tx *sql.Tx, attempt *models.PaymentAttempt) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO payment_attempts (transaction_id, attempt, gateway_reference, gateway_status, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NOW())
		RETURNING id, created_at`,
		attempt.TransactionID, attempt.Attempt, attempt.GatewayReference, attempt.GatewayStatus,
		jsonParam(attempt.RawResponse),
	).Scan(&attempt.ID, &attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

func ListPaymentAttempts(ctx context.Context, q Querier, transactionID int64) ([]models.PaymentAttempt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, attempt, gateway_reference, gateway_status, raw_response, created_at
		FROM payment_attempts
		WHERE transaction_id = $1
		ORDER BY attempt`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("query payment attempts: %w", err)
	}
	defer rows.Close()

	attempts := []models.PaymentAttempt{}
	for rows.Next() {
		var a models.PaymentAttempt
		var raw []byte
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.Attempt, &a.GatewayReference, &a.GatewayStatus, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		a.RawResponse = json.RawMessage(raw)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return attempts, nil
}

const transactionReferenceKey = "transactions_reference_key"

func referenceTaken(err error) bool {
	var pqErr *pq.Error
	return database.HasCode(err, database.CodeUniqueViolation) &&
		errors.As(err, &pqErr) && pqErr.Constraint == transactionReferenceKey
}
