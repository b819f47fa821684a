package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    quantity REAL NOT NULL,
    position_size REAL NOT NULL,
    leverage INTEGER NOT NULL,
    margin REAL NOT NULL,
    tp1 REAL NOT NULL,
    tp2 REAL NOT NULL,
    tp3 REAL NOT NULL,
    sl REAL NOT NULL,
    liq REAL NOT NULL,
    tp1_hit INTEGER DEFAULT 0,
    tp2_hit INTEGER DEFAULT 0,
    tp3_hit INTEGER DEFAULT 0,
    mark_price REAL DEFAULT 0,
    unrealized_pnl REAL DEFAULT 0,
    status TEXT NOT NULL,
    opened_at DATETIME NOT NULL,
    closed_at DATETIME,
    exit_price REAL,
    exit_reason TEXT DEFAULT '',
    realized_pnl REAL,
    entry_order_id INTEGER DEFAULT 0,
    decision_id TEXT DEFAULT '',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    signal TEXT NOT NULL,
    confidence REAL NOT NULL,
    adjusted_confidence REAL NOT NULL,
    reasoning TEXT DEFAULT '',
    magnitude TEXT DEFAULT '',
    source_id TEXT DEFAULT '',
    executed INTEGER DEFAULT 0,
    error TEXT DEFAULT '',
    position_id TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
    order_id INTEGER NOT NULL,
    client_id TEXT DEFAULT '',
    position_id TEXT DEFAULT '',
    decision_id TEXT DEFAULT '',
    role TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    quantity REAL NOT NULL,
    stop_price REAL DEFAULT 0,
    avg_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (order_id, symbol)
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "positions", "source_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "decisions", "account", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// requiredColumns lists, per table, the columns the queries depend on.
var requiredColumns = map[string][]string{
	"positions": {"id", "status", "tp1", "sl", "liq", "realized_pnl", "source_id"},
	"decisions": {"id", "adjusted_confidence", "executed", "account"},
	"orders":    {"order_id", "symbol", "role", "position_id"},
}

// VerifySchema reports every missing table or column. An empty result means
// the file is usable without migrations.
func VerifySchema(d *Database) ([]string, error) {
	if d == nil || d.DB == nil {
		return nil, fmt.Errorf("database is not initialized")
	}
	var missing []string
	for _, table := range []string{"positions", "decisions", "orders"} {
		for _, col := range requiredColumns[table] {
			ok, err := columnExists(d.DB, table, col)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing = append(missing, table+"."+col)
			}
		}
	}
	return missing, nil
}
