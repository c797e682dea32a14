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
)

// KeyType classifies wallet keys by role.
type KeyType string

const (
	// KeyFeeDeposit is the treasury: deposits are swept to it, payouts and
	// fee seeding are funded from it. At most one exists.
	KeyFeeDeposit KeyType = "fee_deposit"

	// KeyOnetime is a per-payment deposit address.
	KeyOnetime KeyType = "onetime"

	// KeyEnergy is the dedicated staking account of the energy-delegation
	// mode. At most one exists.
	KeyEnergy KeyType = "energy"

	// KeyOnlyRead is a watch-only address: scanned and reported but never
	// signed for.
	KeyOnlyRead KeyType = "only_read"
)

// ExternallyManaged is the private-key sentinel of accounts whose keys live
// outside the gateway. Such accounts are watched and, for the energy account,
// operated through Tron account permissions.
const ExternallyManaged = "EXTERNALLY_MANAGED"

// Key is one wallet key row. Private is ciphertext when database encryption
// is enabled.
type Key struct {
	ID        int64
	Type      KeyType
	Public    string
	Private   string
	CreatedAt time.Time
}

// unique key types get at most one row.
func (t KeyType) unique() bool { return t == KeyFeeDeposit || t == KeyEnergy }

// AddKey stores a new key. For the unique types it fails if a row of that
// type already exists.
func (d *DB) AddKey(ctx context.Context, typ KeyType, public, private string) error {
	if typ.unique() {
		var n int
		if err := d.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM keys WHERE type = ?`, typ).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("key of type %s already exists", typ)
		}
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO keys (type, public, private) VALUES (?, ?, ?)`, typ, public, private)
	return err
}

func scanKey(row *sql.Row) (*Key, error) {
	var k Key
	err := row.Scan(&k.ID, &k.Type, &k.Public, &k.Private, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetKeyByType returns the single key of a unique type.
func (d *DB) GetKeyByType(ctx context.Context, typ KeyType) (*Key, error) {
	k, err := scanKey(d.db.QueryRowContext(ctx,
		`SELECT id, type, public, private, created_at FROM keys WHERE type = ?`, typ))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: key of type %s", ErrNotFound, typ)
	}
	return k, err
}

// GetKeyByPublic returns the key controlling an address.
func (d *DB) GetKeyByPublic(ctx context.Context, public string) (*Key, error) {
	k, err := scanKey(d.db.QueryRowContext(ctx,
		`SELECT id, type, public, private, created_at FROM keys WHERE public = ?`, public))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: key for %s", ErrNotFound, public)
	}
	return k, err
}

// PublicKeysByType lists the addresses of all keys of a type, oldest first.
func (d *DB) PublicKeysByType(ctx context.Context, typ KeyType) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT public FROM keys WHERE type = ? ORDER BY id`, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pub string
		if err := rows.Scan(&pub); err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, rows.Err()
}

// AllKeys returns every key row, oldest first.
func (d *DB) AllKeys(ctx context.Context) ([]Key, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, type, public, private, created_at FROM keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.Type, &k.Public, &k.Private, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdatePrivate rewrites the private-key column of one key. Used when the
// database encryption mode changes.
func (d *DB) UpdatePrivate(ctx context.Context, id int64, private string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE keys SET private = ? WHERE id = ?`, private, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: key id %d", ErrNotFound, id)
	}
	return err
}
