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

// Package wallet owns the key material: deposit address generation, balance
// reads, signed transfers and the at-rest encryption of private keys.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// ErrExternallyManaged is returned when a signing operation targets an
// account whose key lives outside the gateway.
var ErrExternallyManaged = errors.New("account key is externally managed")

// NodePool yields a client for the currently elected full node.
type NodePool interface {
	Client(ctx context.Context) (*tron.Client, error)
}

// Wallet performs all key-touching operations against the chain.
type Wallet struct {
	cfg  *config.Config
	db   *store.DB
	pool NodePool
	enc  *Encryption
	log  log.Logger
}

// New builds a wallet over the given store and node pool.
func New(cfg *config.Config, db *store.DB, pool NodePool, enc *Encryption) *Wallet {
	return &Wallet{cfg: cfg, db: db, pool: pool, enc: enc, log: log.New("module", "wallet")}
}

// Encryption exposes the at-rest guard, mainly for startup wiring.
func (w *Wallet) Encryption() *Encryption { return w.enc }

// CreateFeeDepositAccount generates the treasury key if none exists and
// returns its address.
func (w *Wallet) CreateFeeDepositAccount(ctx context.Context) (string, error) {
	if key, err := w.db.GetKeyByType(ctx, store.KeyFeeDeposit); err == nil {
		return key.Public, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	addr, err := w.createKey(ctx, store.KeyFeeDeposit)
	if err != nil {
		return "", err
	}
	w.log.Info("Created fee-deposit account", "address", addr)
	return addr, nil
}

// CreateDepositAddress generates a fresh per-payment address.
func (w *Wallet) CreateDepositAddress(ctx context.Context) (string, error) {
	return w.createKey(ctx, store.KeyOnetime)
}

func (w *Wallet) createKey(ctx context.Context, typ store.KeyType) (string, error) {
	priv, addr, err := tron.GenerateKey()
	if err != nil {
		return "", err
	}
	stored, err := w.enc.Encrypt(priv)
	if err != nil {
		return "", err
	}
	if err := w.db.AddKey(ctx, typ, addr, stored); err != nil {
		return "", err
	}
	return addr, nil
}

// FeeDepositAccount returns the treasury address.
func (w *Wallet) FeeDepositAccount(ctx context.Context) (string, error) {
	key, err := w.db.GetKeyByType(ctx, store.KeyFeeDeposit)
	if err != nil {
		return "", err
	}
	return key.Public, nil
}

// PrivateKey returns the plaintext private key of an address.
func (w *Wallet) PrivateKey(ctx context.Context, public string) (string, error) {
	key, err := w.db.GetKeyByPublic(ctx, public)
	if err != nil {
		return "", err
	}
	plain, err := w.enc.Decrypt(key.Private)
	if err != nil {
		return "", err
	}
	if plain == store.ExternallyManaged {
		return "", fmt.Errorf("%w: %s", ErrExternallyManaged, public)
	}
	return plain, nil
}

// Balance returns the spendable balance of an account in display units.
func (w *Wallet) Balance(ctx context.Context, symbol, account string) (decimal.Decimal, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if symbol == config.NativeSymbol {
		return client.GetAccountBalance(ctx, account)
	}
	contract, err := w.cfg.ContractAddress(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := client.TRC20BalanceOf(ctx, contract, account)
	if err != nil {
		return decimal.Zero, err
	}
	dec, err := w.cfg.Decimals(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -dec), nil
}

// Bandwidth returns the free bandwidth of an account.
func (w *Wallet) Bandwidth(ctx context.Context, account string) (int64, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return 0, err
	}
	res, err := client.GetAccountResource(ctx, account)
	if err != nil {
		return 0, err
	}
	return res.FreeBandwidth(), nil
}

// TransferTRX moves a TRX amount between a managed account and any address.
// Returns the transaction id.
func (w *Wallet) TransferTRX(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return "", err
	}
	priv, err := w.PrivateKey(ctx, from)
	if err != nil {
		return "", err
	}
	tx, err := client.CreateTransaction(ctx, from, to, tron.ToSun(amount))
	if err != nil {
		return "", err
	}
	txid, err := client.SignAndBroadcast(ctx, tx, priv)
	if err != nil {
		return "", err
	}
	w.log.Info("Sent TRX", "from", from, "to", to, "amount", amount, "txid", txid)
	return txid, nil
}

// TransferToken moves a token amount (display units) from a managed account.
func (w *Wallet) TransferToken(ctx context.Context, symbol, from, to string, amount decimal.Decimal) (string, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return "", err
	}
	priv, err := w.PrivateKey(ctx, from)
	if err != nil {
		return "", err
	}
	contract, err := w.cfg.ContractAddress(symbol)
	if err != nil {
		return "", err
	}
	dec, err := w.cfg.Decimals(symbol)
	if err != nil {
		return "", err
	}
	raw := amount.Shift(dec).BigInt()
	if raw.Sign() <= 0 {
		return "", fmt.Errorf("non-positive transfer amount %s", amount)
	}
	tx, err := client.BuildTRC20Transfer(ctx, from, contract, to, raw, tron.ToSun(w.cfg.TxFeeLimit))
	if err != nil {
		return "", err
	}
	txid, err := client.SignAndBroadcast(ctx, tx, priv)
	if err != nil {
		return "", err
	}
	w.log.Info("Sent token", "symbol", symbol, "from", from, "to", to, "amount", amount, "txid", txid)
	return txid, nil
}

// RawTokenAmount converts a display amount of symbol to its raw integer
// representation.
func (w *Wallet) RawTokenAmount(symbol string, amount decimal.Decimal) (*big.Int, error) {
	dec, err := w.cfg.Decimals(symbol)
	if err != nil {
		return nil, err
	}
	return amount.Shift(dec).BigInt(), nil
}
