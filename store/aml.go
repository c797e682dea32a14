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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AML transaction lifecycle. A deposit lands as pending, moves to rechecking
// once a score request is in flight, and settles as ready when a score is
// known. Deposits below the check threshold or from the treasury are recorded
// ready/skipped immediately.
const (
	AMLStatusPending    = "pending"
	AMLStatusRechecking = "rechecking"
	AMLStatusReady      = "ready"
	AMLStatusSkipped    = "skipped"
)

// AML row kinds. FromFee rows mark token top-ups the treasury sent to its
// own deposit addresses; they are never checked or paid out.
const (
	AMLDeposit = "deposit"
	AMLPayout  = "payout"
	AMLFromFee = "from_fee"
)

// AMLTransaction is one ledger row of the external-drain workflow.
type AMLTransaction struct {
	ID        int64
	TxID      string
	Address   string
	Symbol    string
	Amount    decimal.Decimal
	TType     string
	UID       string
	Score     decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// AMLPayoutRow is one committed payout leg of a checked deposit. Rows are
// written before broadcast results are final, so PayoutTxID may be empty for
// failed legs; the (txid, address) pair is what idempotency keys on.
type AMLPayoutRow struct {
	ID         int64
	TxID       string
	Address    string
	Amount     decimal.Decimal
	PayoutTxID string
	CreatedAt  time.Time
}

// InsertAMLTransaction records a new ledger row.
func (d *DB) InsertAMLTransaction(ctx context.Context, t AMLTransaction) error {
	score := ""
	if !t.Score.IsZero() {
		score = t.Score.String()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO aml_transactions (txid, address, symbol, amount, ttype, uid, score, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TxID, t.Address, t.Symbol, t.Amount.String(), t.TType, t.UID, score, t.Status)
	return err
}

// SetAMLUID stores the risk-provider check id and moves the row to
// rechecking.
func (d *DB) SetAMLUID(ctx context.Context, id int64, uid string) error {
	return d.updateAML(ctx, id,
		`UPDATE aml_transactions SET uid = ?, status = ? WHERE id = ?`,
		uid, AMLStatusRechecking, id)
}

// SetAMLScore stores the final risk score and marks the row ready.
func (d *DB) SetAMLScore(ctx context.Context, id int64, score decimal.Decimal) error {
	return d.updateAML(ctx, id,
		`UPDATE aml_transactions SET score = ?, status = ? WHERE id = ?`,
		score.String(), AMLStatusReady, id)
}

// SetAMLStatus rewrites only the status of a row.
func (d *DB) SetAMLStatus(ctx context.Context, id int64, status string) error {
	return d.updateAML(ctx, id,
		`UPDATE aml_transactions SET status = ? WHERE id = ?`, status, id)
}

func (d *DB) updateAML(ctx context.Context, id int64, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: aml transaction id %d", ErrNotFound, id)
	}
	return err
}

const amlColumns = `id, txid, address, symbol, amount, ttype, uid, score, status, created_at`

func scanAMLTransaction(scan func(...any) error) (AMLTransaction, error) {
	var t AMLTransaction
	var amount, score string
	if err := scan(&t.ID, &t.TxID, &t.Address, &t.Symbol, &amount, &t.TType, &t.UID, &score, &t.Status, &t.CreatedAt); err != nil {
		return t, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("corrupt aml amount %q: %w", amount, err)
	}
	if score != "" {
		if t.Score, err = decimal.NewFromString(score); err != nil {
			return t, fmt.Errorf("corrupt aml score %q: %w", score, err)
		}
	}
	return t, nil
}

// AMLTransactionByTxID looks up the ledger row of a deposit.
func (d *DB) AMLTransactionByTxID(ctx context.Context, txid, address, symbol string) (*AMLTransaction, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+amlColumns+` FROM aml_transactions WHERE txid = ? AND address = ? AND symbol = ?`,
		txid, address, symbol)
	t, err := scanAMLTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: aml transaction %s", ErrNotFound, txid)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AMLTransactionsByStatus lists ledger rows of one direction in a given
// status, oldest first.
func (d *DB) AMLTransactionsByStatus(ctx context.Context, status, ttype string) ([]AMLTransaction, error) {
	return d.queryAML(ctx,
		`SELECT `+amlColumns+` FROM aml_transactions WHERE status = ? AND ttype = ? ORDER BY id`,
		status, ttype)
}

// AMLTransactionsByAccount lists the deposit rows of one account and symbol.
func (d *DB) AMLTransactionsByAccount(ctx context.Context, address, symbol string) ([]AMLTransaction, error) {
	return d.queryAML(ctx,
		`SELECT `+amlColumns+` FROM aml_transactions WHERE address = ? AND symbol = ? AND ttype = ? ORDER BY id`,
		address, symbol, AMLDeposit)
}

func (d *DB) queryAML(ctx context.Context, query string, args ...any) ([]AMLTransaction, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLTransaction
	for rows.Next() {
		t, err := scanAMLTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertAMLPayout commits one payout leg of a checked deposit.
func (d *DB) InsertAMLPayout(ctx context.Context, p AMLPayoutRow) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO aml_payouts (txid, address, amount, payout_txid) VALUES (?, ?, ?, ?)`,
		p.TxID, p.Address, p.Amount.String(), p.PayoutTxID)
	return err
}

// AMLPayoutsByTxID lists the committed payout legs of a deposit.
func (d *DB) AMLPayoutsByTxID(ctx context.Context, txid string) ([]AMLPayoutRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, txid, address, amount, payout_txid, created_at FROM aml_payouts WHERE txid = ? ORDER BY id`,
		txid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLPayoutRow
	for rows.Next() {
		var p AMLPayoutRow
		var amount string
		if err := rows.Scan(&p.ID, &p.TxID, &p.Address, &amount, &p.PayoutTxID, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt payout amount %q: %w", amount, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
