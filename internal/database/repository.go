package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deriv-bot/internal/engine"
)

// Repository provides trade archive persistence. Implements the engine's
// TradeArchiver.
type Repository struct {
	db *DB
}

// NewRepository creates a repository backed by the given database.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ArchiveTrade inserts a trade record into the archive.
func (r *Repository) ArchiveTrade(ctx context.Context, rec engine.TradeRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal signal context: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trade_archive (
			id, executed_at, product, action, size_usd, leverage,
			entry_price, exit_price, realized_pnl, order_id,
			success, error, reasoning, context
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Timestamp, rec.Product, string(rec.Action), rec.SizeUSD, rec.Leverage,
		nullableFloat(rec.EntryPrice), nullableFloat(rec.ExitPrice), rec.RealizedPnL, rec.OrderID,
		rec.Success, rec.Error, rec.Reasoning, contextJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to archive trade: %w", err)
	}
	return nil
}

// TradesSince returns archived trades executed at or after the cutoff,
// newest first.
func (r *Repository) TradesSince(ctx context.Context, cutoff time.Time, limit int) ([]engine.TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, executed_at, product, action, size_usd, leverage,
		       COALESCE(entry_price, 0), COALESCE(exit_price, 0),
		       COALESCE(realized_pnl, 0), COALESCE(order_id, ''),
		       success, COALESCE(error, ''), reasoning, context
		FROM trade_archive
		WHERE executed_at >= $1
		ORDER BY executed_at DESC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade archive: %w", err)
	}
	defer rows.Close()

	var records []engine.TradeRecord
	for rows.Next() {
		var rec engine.TradeRecord
		var action string
		var contextJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Product, &action, &rec.SizeUSD, &rec.Leverage,
			&rec.EntryPrice, &rec.ExitPrice, &rec.RealizedPnL, &rec.OrderID,
			&rec.Success, &rec.Error, &rec.Reasoning, &contextJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		rec.Action = engine.TradeAction(action)
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal signal context: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RealizedPnLSince sums realized PnL over successful closes at or after the
// cutoff.
func (r *Repository) RealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	var total float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM trade_archive
		WHERE success AND executed_at >= $1`,
		cutoff,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total, nil
}

// nullableFloat maps zero to NULL so unset prices don't masquerade as real
// fills.
func nullableFloat(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
