// Copyright 2025 The tron-shkeeper Authors
// This file is part of tron-shkeeper.
//
// tron-shkeeper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tron-shkeeper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tron-shkeeper. If not, see <http://www.gnu.org/licenses/>.

// Package store is the sqlite persistence layer: wallet keys, scanner
// settings, cached balances and the AML ledger. Monetary amounts are stored
// as decimal strings, never floats.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for lookups of missing rows.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	public     TEXT NOT NULL UNIQUE,
	private    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS keys_type ON keys(type);

CREATE TABLE IF NOT EXISTS settings (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	account TEXT NOT NULL,
	symbol  TEXT NOT NULL,
	balance TEXT NOT NULL,
	PRIMARY KEY (account, symbol)
);

CREATE TABLE IF NOT EXISTS aml_transactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	txid       TEXT NOT NULL,
	address    TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	amount     TEXT NOT NULL,
	ttype      TEXT NOT NULL,
	uid        TEXT NOT NULL DEFAULT '',
	score      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (txid, address, symbol)
);
CREATE INDEX IF NOT EXISTS aml_transactions_status ON aml_transactions(status);

CREATE TABLE IF NOT EXISTS aml_payouts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	txid       TEXT NOT NULL,
	address    TEXT NOT NULL,
	amount     TEXT NOT NULL,
	payout_txid TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS aml_payouts_txid ON aml_payouts(txid);
`

// DB wraps the sqlite handle. All methods are safe for concurrent use; sqlite
// serializes writers, readers proceed under WAL.
type DB struct {
	db  *sql.DB
	log log.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between our own
	// goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{db: db, log: log.New("db", path)}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// GetSetting returns the value of a named setting, or ErrNotFound.
func (d *DB) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: setting %q", ErrNotFound, name)
	}
	return value, err
}

// SetSetting inserts or overwrites a setting.
func (d *DB) SetSetting(ctx context.Context, name, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

// InsertSetting stores a setting only if it does not exist yet. Reports
// whether the row was written.
func (d *DB) InsertSetting(ctx context.Context, name, value string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, value)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Balance is one cached account balance.
type Balance struct {
	Account string
	Symbol  string
	Balance decimal.Decimal
}

// UpsertBalance writes one cached balance.
func (d *DB) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO balances (account, symbol, balance) VALUES (?, ?, ?)
		 ON CONFLICT(account, symbol) DO UPDATE SET balance = excluded.balance`,
		b.Account, b.Symbol, b.Balance.String())
	return err
}

// ReplaceBalances atomically swaps the whole balances table for the given
// snapshot.
func (d *DB) ReplaceBalances(ctx context.Context, balances []Balance) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM balances`); err != nil {
		return err
	}
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO balances (account, symbol, balance) VALUES (?, ?, ?)`,
			b.Account, b.Symbol, b.Balance.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Balances returns the cached balances of one symbol, non-zero first come as
// stored.
func (d *DB) Balances(ctx context.Context, symbol string) ([]Balance, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT account, symbol, balance FROM balances WHERE symbol = ?`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		var raw string
		if err := rows.Scan(&b.Account, &b.Symbol, &raw); err != nil {
			return nil, err
		}
		if b.Balance, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("corrupt balance for %s/%s: %w", b.Account, b.Symbol, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
