package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrIDRequired = errors.New("id is required")
	ErrNotFound   = errors.New("record not found")
)

// Queries groups the store operations.
type Queries struct {
	db *sql.DB
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

const positionColumns = `id, symbol, side, entry_price, quantity, position_size, leverage, margin,
	tp1, tp2, tp3, sl, liq, tp1_hit, tp2_hit, tp3_hit, mark_price, unrealized_pnl, status,
	opened_at, closed_at, exit_price, COALESCE(exit_reason, ''), realized_pnl, entry_order_id,
	COALESCE(decision_id, ''), COALESCE(source_id, ''), updated_at`

// UpsertPosition inserts a position or replaces its mutable fields. Once a
// row has left OPEN its status and exit fields no longer change, so a late
// OPEN snapshot cannot reopen a closed position.
func (q *Queries) UpsertPosition(ctx context.Context, p Position) error {
	if p.ID == "" {
		return ErrIDRequired
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, side, entry_price, quantity, position_size, leverage, margin,
			tp1, tp2, tp3, sl, liq, tp1_hit, tp2_hit, tp3_hit, mark_price, unrealized_pnl, status,
			opened_at, closed_at, exit_price, exit_reason, realized_pnl, entry_order_id,
			decision_id, source_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tp1_hit = MAX(positions.tp1_hit, excluded.tp1_hit),
			tp2_hit = MAX(positions.tp2_hit, excluded.tp2_hit),
			tp3_hit = MAX(positions.tp3_hit, excluded.tp3_hit),
			mark_price = CASE WHEN positions.status <> 'OPEN' THEN positions.mark_price ELSE excluded.mark_price END,
			unrealized_pnl = CASE WHEN positions.status <> 'OPEN' THEN positions.unrealized_pnl ELSE excluded.unrealized_pnl END,
			status = CASE WHEN positions.status <> 'OPEN' THEN positions.status ELSE excluded.status END,
			closed_at = CASE WHEN positions.status <> 'OPEN' THEN positions.closed_at ELSE excluded.closed_at END,
			exit_price = CASE WHEN positions.status <> 'OPEN' THEN positions.exit_price ELSE excluded.exit_price END,
			exit_reason = CASE WHEN positions.status <> 'OPEN' THEN positions.exit_reason ELSE excluded.exit_reason END,
			realized_pnl = CASE WHEN positions.status <> 'OPEN' THEN positions.realized_pnl ELSE excluded.realized_pnl END,
			updated_at = excluded.updated_at
	`,
		p.ID, p.Symbol, p.Side, p.EntryPrice, p.Quantity, p.PositionSize, p.Leverage, p.Margin,
		p.TP1, p.TP2, p.TP3, p.SL, p.Liq, p.TP1Hit, p.TP2Hit, p.TP3Hit, p.MarkPrice, p.UnrealizedPnL, p.Status,
		p.OpenedAt, nullTime(p.ClosedAt), nullFloat(p.ExitPrice), p.ExitReason, nullFloat(p.RealizedPnL), p.EntryOrderID,
		p.DecisionID, p.SourceID, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetPosition loads one position by id.
func (q *Queries) GetPosition(ctx context.Context, id string) (*Position, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetOpenPosition returns the most recently opened OPEN position, or
// ErrNotFound.
func (q *Queries) GetOpenPosition(ctx context.Context) (*Position, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE status = 'OPEN'
		ORDER BY opened_at DESC
		LIMIT 1
	`)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPositions returns positions newest first.
func (q *Queries) ListPositions(ctx context.Context, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		ORDER BY opened_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (*Position, error) {
	var (
		p           Position
		closedAt    sql.NullTime
		exitPrice   sql.NullFloat64
		realizedPnL sql.NullFloat64
	)
	err := s.Scan(&p.ID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Quantity, &p.PositionSize, &p.Leverage, &p.Margin,
		&p.TP1, &p.TP2, &p.TP3, &p.SL, &p.Liq, &p.TP1Hit, &p.TP2Hit, &p.TP3Hit, &p.MarkPrice, &p.UnrealizedPnL, &p.Status,
		&p.OpenedAt, &closedAt, &exitPrice, &p.ExitReason, &realizedPnL, &p.EntryOrderID,
		&p.DecisionID, &p.SourceID, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan position: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		p.ExitPrice = &v
	}
	if realizedPnL.Valid {
		v := realizedPnL.Float64
		p.RealizedPnL = &v
	}
	return &p, nil
}

// ----------------------------------------
// Decision Queries
// ----------------------------------------

// CreateDecision records an inbound signal. When an outcome already created
// the row, the signal's own fields are filled in and the outcome is kept.
func (q *Queries) CreateDecision(ctx context.Context, d Decision) error {
	if d.ID == "" {
		return ErrIDRequired
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO decisions (id, signal, confidence, adjusted_confidence, reasoning, magnitude,
			source_id, account, executed, error, position_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence = excluded.confidence,
			adjusted_confidence = excluded.adjusted_confidence,
			reasoning = excluded.reasoning,
			magnitude = excluded.magnitude,
			source_id = excluded.source_id,
			account = excluded.account
	`, d.ID, d.Signal, d.Confidence, d.AdjustedConfidence, d.Reasoning, d.Magnitude,
		d.SourceID, d.Account, d.Executed, d.Error, d.PositionID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// MarkDecisionExecuted stores the outcome of a decision. errMsg is empty on
// success.
func (q *Queries) MarkDecisionExecuted(ctx context.Context, id string, executed bool, positionID, errMsg string) error {
	if id == "" {
		return ErrIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE decisions SET executed = ?, position_id = ?, error = ? WHERE id = ?
	`, executed, positionID, errMsg, id)
	if err != nil {
		return fmt.Errorf("update decision %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDecisions returns decisions newest first.
func (q *Queries) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, signal, confidence, adjusted_confidence, COALESCE(reasoning, ''), COALESCE(magnitude, ''),
			COALESCE(source_id, ''), COALESCE(account, ''), executed, COALESCE(error, ''), COALESCE(position_id, ''), created_at
		FROM decisions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.Signal, &d.Confidence, &d.AdjustedConfidence, &d.Reasoning, &d.Magnitude,
			&d.SourceID, &d.Account, &d.Executed, &d.Error, &d.PositionID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// CreateOrder inserts an order row; a repeated exchange id updates its status.
func (q *Queries) CreateOrder(ctx context.Context, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, client_id, position_id, decision_id, role, symbol, side, type,
			quantity, stop_price, avg_price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, symbol) DO UPDATE SET
			status = excluded.status,
			avg_price = excluded.avg_price
	`, o.OrderID, o.ClientID, o.PositionID, o.DecisionID, o.Role, o.Symbol, o.Side, o.Type,
		o.Quantity, o.StopPrice, o.AvgPrice, o.Status, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order %d: %w", o.OrderID, err)
	}
	return nil
}

// ListOrders returns orders for a position, or the latest orders when
// positionID is empty.
func (q *Queries) ListOrders(ctx context.Context, positionID string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT order_id, COALESCE(client_id, ''), COALESCE(position_id, ''), COALESCE(decision_id, ''), role,
			symbol, side, type, quantity, stop_price, avg_price, status, created_at
		FROM orders`
	args := []any{}
	if positionID != "" {
		query += ` WHERE position_id = ?`
		args = append(args, positionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.ClientID, &o.PositionID, &o.DecisionID, &o.Role,
			&o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.StopPrice, &o.AvgPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Stats
// ----------------------------------------

// TradeStats aggregates every recorded position.
func (q *Queries) TradeStats(ctx context.Context) (TradeStats, error) {
	var s TradeStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'OPEN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'OPEN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'OPEN' AND realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != 'OPEN' AND realized_pnl <= 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'LIQUIDATED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(COALESCE(realized_pnl, 0)), 0)
		FROM positions
	`).Scan(&s.Total, &s.Open, &s.Closed, &s.Wins, &s.Losses, &s.Liquidated, &s.TotalPnL)
	if err != nil {
		return s, fmt.Errorf("trade stats: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&s.DecisionsIn); err != nil {
		return s, fmt.Errorf("decision count: %w", err)
	}
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed) * 100
	}
	return s, nil
}
