package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

const payoutColumns = `id, vendor_id, amount, currency, status, reference, COALESCE(external_reference, ''), note, earning_ids, processed_at, created_at, updated_at`

func scanPayout(row rowScanner) (*models.VendorPayout, error) {
	p := &models.VendorPayout{}
	err := row.Scan(
		&p.ID,
		&p.VendorID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Reference,
		&p.ExternalReference,
		&p.Note,
		pq.Array(&p.EarningIDs),
		&p.ProcessedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func InsertPayout(ctx context.Context, tx *sql.Tx, p *models.VendorPayout) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO vendor_payouts (vendor_id, amount, currency, status, reference, note, earning_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		p.VendorID, p.Amount, p.Currency, p.Status, p.Reference, p.Note, pq.Array(p.EarningIDs),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func GetPayout(ctx context.Context, q Querier, id int64) (*models.VendorPayout, error) {
	return getPayout(ctx, q, `SELECT `+payoutColumns+` FROM vendor_payouts WHERE id = $1`, id)
}

func GetPayoutForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.VendorPayout, error) {
	return getPayout(ctx, tx, `SELECT `+payoutColumns+` FROM vendor_payouts WHERE id = $1 FOR UPDATE`, id)
}

func getPayout(ctx context.Context, q Querier, query string, id int64) (*models.VendorPayout, error) {
	p, err := scanPayout(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

// FinishPayout moves a pending payout to completed or failed.
func FinishPayout(ctx context.Context, tx *sql.Tx, p *models.VendorPayout, status models.PayoutStatus, externalRef, note string) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE vendor_payouts
		SET status = $1, external_reference = NULLIF($2, ''), note = $3, processed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = 'pending'
		RETURNING processed_at, updated_at`,
		status, externalRef, note, p.ID,
	).Scan(&p.ProcessedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrPayoutNotPending
		}
		return fmt.Errorf("finish payout: %w", err)
	}
	p.Status = status
	p.ExternalReference = externalRef
	p.Note = note
	return nil
}

func ListVendorPayouts(ctx context.Context, q Querier, vendorID int64) ([]models.VendorPayout, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM vendor_payouts WHERE vendor_id = $1 ORDER BY created_at DESC, id DESC`,
		vendorID)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()

	payouts := []models.VendorPayout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		payouts = append(payouts, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return payouts, nil
}
