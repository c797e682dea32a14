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

// Package sweep moves confirmed deposits from per-payment addresses to the
// treasury. TRX moves whole on free bandwidth; tokens move either by burning
// a seeded TRX fee on the deposit address or by delegating staked energy to
// it for the duration of the transfer.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/scanner"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/tron"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

// Result is the outcome of one sweep attempt.
type Result struct {
	Account string          `json:"account"`
	Symbol  string          `json:"symbol"`
	Amount  decimal.Decimal `json:"amount"`
	TxID    string          `json:"txid,omitempty"`
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason,omitempty"`
}

func skipped(account, symbol, reason string) *Result {
	return &Result{Account: account, Symbol: symbol, Skipped: true, Reason: reason}
}

// Orchestrator coordinates sweeps.
type Orchestrator struct {
	cfg    *config.Config
	db     *store.DB
	pool   wallet.NodePool
	wallet *wallet.Wallet
	sched  *tasks.Scheduler
	log    log.Logger
}

// New builds a sweep orchestrator.
func New(cfg *config.Config, db *store.DB, pool wallet.NodePool, w *wallet.Wallet, sched *tasks.Scheduler) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		db:     db,
		pool:   pool,
		wallet: w,
		sched:  sched,
		log:    log.New("module", "sweep"),
	}
}

// HandleDeposit schedules a sweep of the deposited symbol from the deposit
// address. It implements the scanner's deposit policy for the default drain.
func (o *Orchestrator) HandleDeposit(ctx context.Context, ev scanner.Event) error {
	symbol, account := ev.Symbol, ev.To
	o.sched.Submit(tasks.Job{
		Name: "sweep",
		Args: []string{symbol, account},
		Run: func(ctx context.Context) (any, error) {
			return o.Sweep(ctx, symbol, account)
		},
	})
	return nil
}

// Sweep moves the full spendable balance of symbol from account to the
// treasury. Balances at or below the configured threshold are left alone.
func (o *Orchestrator) Sweep(ctx context.Context, symbol, account string) (*Result, error) {
	treasury, err := o.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account == treasury {
		return skipped(account, symbol, "treasury is not swept"), nil
	}
	if symbol == config.NativeSymbol {
		return o.sweepTRX(ctx, account, treasury)
	}
	if o.cfg.Energy.DelegationMode {
		return o.sweepTokenDelegated(ctx, symbol, account, treasury)
	}
	return o.sweepTokenBurn(ctx, symbol, account, treasury)
}

// sweepTRX moves the whole TRX balance. The transfer must ride on free
// bandwidth: burning would be paid out of the amount in flight and the node
// would reject the full-balance transfer.
func (o *Orchestrator) sweepTRX(ctx context.Context, account, treasury string) (*Result, error) {
	balance, err := o.wallet.Balance(ctx, config.NativeSymbol, account)
	if err != nil {
		return nil, err
	}
	if balance.LessThanOrEqual(o.cfg.TRXMinTransferThreshold) {
		return skipped(account, config.NativeSymbol,
			fmt.Sprintf("balance %s is below the sweep threshold", balance)), nil
	}
	bandwidth, err := o.wallet.Bandwidth(ctx, account)
	if err != nil {
		return nil, err
	}
	if bandwidth < o.cfg.BandwidthPerTRXTransfer {
		return skipped(account, config.NativeSymbol,
			fmt.Sprintf("free bandwidth %d is not enough for a transfer", bandwidth)), nil
	}
	txid, err := o.wallet.TransferTRX(ctx, account, treasury, balance)
	if err != nil {
		return nil, err
	}
	o.log.Info("Swept TRX", "account", account, "amount", balance, "txid", txid)
	return &Result{Account: account, Symbol: config.NativeSymbol, Amount: balance, TxID: txid}, nil
}

// sweepTokenBurn funds the deposit address with TRX from the treasury and
// lets the token transfer burn it for energy and bandwidth.
func (o *Orchestrator) sweepTokenBurn(ctx context.Context, symbol, account, treasury string) (*Result, error) {
	balance, err := o.wallet.Balance(ctx, symbol, account)
	if err != nil {
		return nil, err
	}
	threshold, err := o.cfg.MinTransferThreshold(symbol)
	if err != nil {
		return nil, err
	}
	if balance.LessThanOrEqual(threshold) {
		return skipped(account, symbol,
			fmt.Sprintf("balance %s is below the sweep threshold %s", balance, threshold)), nil
	}

	trxBalance, err := o.wallet.Balance(ctx, config.NativeSymbol, account)
	if err != nil {
		return nil, err
	}
	if trxBalance.LessThan(o.cfg.InternalTxFee) {
		treasuryTRX, err := o.wallet.Balance(ctx, config.NativeSymbol, treasury)
		if err != nil {
			return nil, err
		}
		if treasuryTRX.LessThan(o.cfg.InternalTxFee) {
			return nil, fmt.Errorf("treasury balance %s TRX cannot fund the %s TRX sweep fee for %s",
				treasuryTRX, o.cfg.InternalTxFee, account)
		}
		feeTxID, err := o.wallet.TransferTRX(ctx, treasury, account, o.cfg.InternalTxFee)
		if err != nil {
			return nil, fmt.Errorf("seeding sweep fee: %w", err)
		}
		o.log.Info("Seeded sweep fee", "account", account, "amount", o.cfg.InternalTxFee, "txid", feeTxID)
		if err := o.waitForTx(ctx, feeTxID); err != nil {
			return nil, err
		}
	}

	txid, err := o.wallet.TransferToken(ctx, symbol, account, treasury, balance)
	if err != nil {
		return nil, err
	}
	o.log.Info("Swept token", "symbol", symbol, "account", account, "amount", balance, "txid", txid)
	return &Result{Account: account, Symbol: symbol, Amount: balance, TxID: txid}, nil
}

func (o *Orchestrator) waitForTx(ctx context.Context, txid string) error {
	client, err := o.pool.Client(ctx)
	if err != nil {
		return err
	}
	info, err := client.WaitForReceipt(ctx, txid, receiptTimeout)
	if err != nil {
		return err
	}
	if info.Receipt.Result != "" && info.Receipt.Result != tron.ResultSuccess {
		return fmt.Errorf("transaction %s failed: %s", txid, info.Receipt.Result)
	}
	return nil
}

// SweepAll runs a sweep over every managed deposit address, used by the
// periodic recovery job and the manual endpoint.
func (o *Orchestrator) SweepAll(ctx context.Context, symbol string) ([]Result, error) {
	accounts, err := o.db.PublicKeysByType(ctx, store.KeyOnetime)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, account := range accounts {
		res, err := o.Sweep(ctx, symbol, account)
		if err != nil {
			// One bad account must not stall the rest of the pass.
			o.log.Error("Sweep failed", "symbol", symbol, "account", account, "err", err)
			out = append(out, Result{Account: account, Symbol: symbol, Skipped: true, Reason: err.Error()})
			continue
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return out, ctx.Err()
		}
		out = append(out, *res)
	}
	return out, nil
}
