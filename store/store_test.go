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
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetSetting(ctx, "last_seen_block_num")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetSetting(ctx, "last_seen_block_num", "51289507"))
	v, err := db.GetSetting(ctx, "last_seen_block_num")
	require.NoError(t, err)
	assert.Equal(t, "51289507", v)

	require.NoError(t, db.SetSetting(ctx, "last_seen_block_num", "51289510"))
	v, _ = db.GetSetting(ctx, "last_seen_block_num")
	assert.Equal(t, "51289510", v)

	// InsertSetting never overwrites.
	written, err := db.InsertSetting(ctx, "last_seen_block_num", "1")
	require.NoError(t, err)
	assert.False(t, written)
	v, _ = db.GetSetting(ctx, "last_seen_block_num")
	assert.Equal(t, "51289510", v)

	written, err = db.InsertSetting(ctx, "current_server_id", "0")
	require.NoError(t, err)
	assert.True(t, written)
}

func TestKeys(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddKey(ctx, KeyFeeDeposit, "Tfee", "privfee"))
	require.NoError(t, db.AddKey(ctx, KeyOnetime, "Tone1", "priv1"))
	require.NoError(t, db.AddKey(ctx, KeyOnetime, "Tone2", "priv2"))
	require.NoError(t, db.AddKey(ctx, KeyOnlyRead, "Twatch", ExternallyManaged))

	// fee_deposit is unique.
	err := db.AddKey(ctx, KeyFeeDeposit, "Tfee2", "privfee2")
	require.Error(t, err)

	fee, err := db.GetKeyByType(ctx, KeyFeeDeposit)
	require.NoError(t, err)
	assert.Equal(t, "Tfee", fee.Public)

	_, err = db.GetKeyByType(ctx, KeyEnergy)
	assert.ErrorIs(t, err, ErrNotFound)

	k, err := db.GetKeyByPublic(ctx, "Tone2")
	require.NoError(t, err)
	assert.Equal(t, KeyOnetime, k.Type)
	assert.Equal(t, "priv2", k.Private)

	pubs, err := db.PublicKeysByType(ctx, KeyOnetime)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tone1", "Tone2"}, pubs)

	require.NoError(t, db.UpdatePrivate(ctx, k.ID, "ciphertext"))
	k, _ = db.GetKeyByPublic(ctx, "Tone2")
	assert.Equal(t, "ciphertext", k.Private)

	assert.ErrorIs(t, db.UpdatePrivate(ctx, 9999, "x"), ErrNotFound)

	all, err := db.AllKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestBalances(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	amt := decimal.RequireFromString("1234.000001")
	require.NoError(t, db.UpsertBalance(ctx, Balance{Account: "Tone1", Symbol: "USDT", Balance: amt}))
	require.NoError(t, db.UpsertBalance(ctx, Balance{Account: "Tone1", Symbol: "TRX", Balance: decimal.NewFromInt(5)}))

	got, err := db.Balances(ctx, "USDT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Balance.Equal(amt))

	require.NoError(t, db.ReplaceBalances(ctx, []Balance{
		{Account: "Tone2", Symbol: "USDT", Balance: decimal.NewFromInt(7)},
	}))
	got, err = db.Balances(ctx, "USDT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Tone2", got[0].Account)

	got, err = db.Balances(ctx, "TRX")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAMLLedger(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	deposit := AMLTransaction{
		TxID:    "feedface",
		Address: "Tone1",
		Symbol:  "USDT",
		Amount:  decimal.NewFromInt(100),
		TType:   AMLDeposit,
		Status:  AMLStatusPending,
	}
	require.NoError(t, db.InsertAMLTransaction(ctx, deposit))

	// Duplicate (txid, address, symbol) is rejected.
	require.Error(t, db.InsertAMLTransaction(ctx, deposit))

	row, err := db.AMLTransactionByTxID(ctx, "feedface", "Tone1", "USDT")
	require.NoError(t, err)
	assert.Equal(t, AMLStatusPending, row.Status)
	assert.True(t, row.Amount.Equal(decimal.NewFromInt(100)))

	require.NoError(t, db.SetAMLUID(ctx, row.ID, "check-42"))
	row, _ = db.AMLTransactionByTxID(ctx, "feedface", "Tone1", "USDT")
	assert.Equal(t, AMLStatusRechecking, row.Status)
	assert.Equal(t, "check-42", row.UID)

	require.NoError(t, db.SetAMLScore(ctx, row.ID, decimal.RequireFromString("0.2")))
	row, _ = db.AMLTransactionByTxID(ctx, "feedface", "Tone1", "USDT")
	assert.Equal(t, AMLStatusReady, row.Status)
	assert.Equal(t, "0.2", row.Score.String())

	ready, err := db.AMLTransactionsByStatus(ctx, AMLStatusReady, AMLDeposit)
	require.NoError(t, err)
	assert.Len(t, ready, 1)

	pending, err := db.AMLTransactionsByStatus(ctx, AMLStatusPending, AMLDeposit)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byAccount, err := db.AMLTransactionsByAccount(ctx, "Tone1", "USDT")
	require.NoError(t, err)
	assert.Len(t, byAccount, 1)
}

func TestAMLPayouts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertAMLPayout(ctx, AMLPayoutRow{
		TxID: "feedface", Address: "Tdst1", Amount: decimal.NewFromInt(70), PayoutTxID: "aa01",
	}))
	require.NoError(t, db.InsertAMLPayout(ctx, AMLPayoutRow{
		TxID: "feedface", Address: "Tdst2", Amount: decimal.NewFromInt(30), PayoutTxID: "aa02",
	}))

	legs, err := db.AMLPayoutsByTxID(ctx, "feedface")
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "Tdst1", legs[0].Address)
	assert.True(t, legs[0].Amount.Add(legs[1].Amount).Equal(decimal.NewFromInt(100)))

	legs, err = db.AMLPayoutsByTxID(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, legs)
}
