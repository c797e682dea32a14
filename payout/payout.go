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

// Package payout sends funds out of the gateway: single payouts from the
// treasury and batched multi-account payouts planned over every managed
// balance.
package payout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

// resultNotifyRetry is the pause between payout notification attempts. The
// processor must eventually learn the outcome, so retries never stop.
const resultNotifyRetry = 10 * time.Second

// Service plans and executes payouts.
type Service struct {
	cfg    *config.Config
	db     *store.DB
	wallet *wallet.Wallet
	keeper *keeper.Client
	log    log.Logger
}

// New builds a payout service.
func New(cfg *config.Config, db *store.DB, w *wallet.Wallet, kc *keeper.Client) *Service {
	return &Service{cfg: cfg, db: db, wallet: w, keeper: kc, log: log.New("module", "payout")}
}

// Payout sends a single amount from the treasury.
func (s *Service) Payout(ctx context.Context, symbol, to string, amount decimal.Decimal) (*keeper.PayoutResult, error) {
	treasury, err := s.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.wallet.Balance(ctx, symbol, treasury)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: treasury holds %s %s, requested %s", ErrInsufficientFunds, balance, symbol, amount)
	}
	txid, err := s.transfer(ctx, symbol, treasury, to, amount)
	if err != nil {
		return nil, err
	}
	return &keeper.PayoutResult{
		Dest: to, Amount: amount.String(), Status: "success", TxIDs: []string{txid},
	}, nil
}

// Plan gathers the managed balances of symbol and plans a multipayout
// without executing it.
func (s *Service) Plan(ctx context.Context, symbol string, dests []Destination) ([]Step, error) {
	accounts, err := s.managedAccounts(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return GenerateSteps(accounts, dests)
}

// MultiPayout plans and executes a batch of destinations over all managed
// accounts. The per-destination outcomes are returned; failed legs carry the
// error and do not stop the rest.
func (s *Service) MultiPayout(ctx context.Context, symbol string, dests []Destination) ([]keeper.PayoutResult, error) {
	steps, err := s.Plan(ctx, symbol, dests)
	if err != nil {
		return nil, err
	}
	if symbol != config.NativeSymbol {
		if err := s.SeedPayoutFees(ctx, steps); err != nil {
			return nil, err
		}
	}
	return s.execute(ctx, symbol, dests, steps), nil
}

// managedAccounts lists the treasury and every deposit address with its
// live balance, treasury first so plans prefer it.
func (s *Service) managedAccounts(ctx context.Context, symbol string) ([]Account, error) {
	treasury, err := s.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return nil, err
	}
	onetime, err := s.db.PublicKeysByType(ctx, store.KeyOnetime)
	if err != nil {
		return nil, err
	}
	addrs := append([]string{treasury}, onetime...)
	out := make([]Account, 0, len(addrs))
	for _, addr := range addrs {
		balance, err := s.wallet.Balance(ctx, symbol, addr)
		if err != nil {
			return nil, err
		}
		if balance.Sign() > 0 {
			out = append(out, Account{Address: addr, Balance: balance})
		}
	}
	return out, nil
}

// SeedPayoutFees sends the configured fee to every non-treasury source of
// the plan. The treasury must cover all of them up front, otherwise a
// partial batch would strand fee TRX on deposit addresses.
func (s *Service) SeedPayoutFees(ctx context.Context, steps []Step) error {
	treasury, err := s.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return err
	}
	var targets []string
	for _, src := range Sources(steps) {
		if src != treasury {
			targets = append(targets, src)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	need := s.cfg.TxFee.Mul(decimal.NewFromInt(int64(len(targets))))
	have, err := s.wallet.Balance(ctx, config.NativeSymbol, treasury)
	if err != nil {
		return err
	}
	if have.LessThan(need) {
		return fmt.Errorf("not enough TRX tokens at fee-deposit account %s: need %s, have %s", treasury, need, have)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for _, target := range targets {
		target := target
		g.Go(func() error {
			txid, err := s.wallet.TransferTRX(gctx, treasury, target, s.cfg.TxFee)
			if err != nil {
				return fmt.Errorf("seeding fee to %s: %w", target, err)
			}
			s.log.Info("Seeded payout fee", "account", target, "amount", s.cfg.TxFee, "txid", txid)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) workers() int {
	if s.cfg.ConcurrentMaxWorkers > 0 {
		return s.cfg.ConcurrentMaxWorkers
	}
	return 4
}

// execute runs the planned steps on a bounded pool and folds them into
// per-destination results.
func (s *Service) execute(ctx context.Context, symbol string, dests []Destination, steps []Step) []keeper.PayoutResult {
	type outcome struct {
		step Step
		txid string
		err  error
	}
	outcomes := make([]outcome, len(steps))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers())
	for i, step := range steps {
		i, step := i, step
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			txid, err := s.transfer(ctx, symbol, step.From, step.To, step.Amount)
			outcomes[i] = outcome{step: step, txid: txid, err: err}
		}()
	}
	wg.Wait()

	results := make([]keeper.PayoutResult, 0, len(dests))
	for _, dest := range dests {
		res := keeper.PayoutResult{Dest: dest.Address, Amount: dest.Amount.String(), Status: "success"}
		for _, o := range outcomes {
			if o.step.To != dest.Address {
				continue
			}
			if o.err != nil {
				res.Status = "error"
				res.Message = o.err.Error()
				continue
			}
			res.TxIDs = append(res.TxIDs, o.txid)
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) transfer(ctx context.Context, symbol, from, to string, amount decimal.Decimal) (string, error) {
	if symbol == config.NativeSymbol {
		return s.wallet.TransferTRX(ctx, from, to, amount)
	}
	return s.wallet.TransferToken(ctx, symbol, from, to, amount)
}

// PostResults delivers payout outcomes to the processor, retrying forever.
// It only gives up when the context is cancelled.
func (s *Service) PostResults(ctx context.Context, symbol string, results []keeper.PayoutResult) error {
	for {
		err := s.keeper.PayoutNotify(ctx, symbol, results)
		if err == nil {
			return nil
		}
		s.log.Warn("Payout notification failed, will retry", "symbol", symbol, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resultNotifyRetry):
		}
	}
}
