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

// Package aml implements the external drain: instead of sweeping to the
// treasury, incoming deposits are risk-scored by an external provider and
// paid out to a split table selected by the score (or a fixed table for the
// regular-split workflow). Every payout leg is committed to the ledger
// before the next, so a crashed payout resumes without double spending.
package aml

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/scanner"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

// maxRiskScore is recorded for deposits below the check threshold: too small
// to be worth a provider call, treated as the worst score.
var maxRiskScore = decimal.NewFromInt(1)

// Service runs the drain workflows.
type Service struct {
	cfg    *config.Config
	drain  *config.ExternalDrain
	db     *store.DB
	wallet *wallet.Wallet
	sched  *tasks.Scheduler
	risk   *RiskClient
	watch  *scanner.Watchlist
	// fallback handles deposits of symbols no drain workflow covers,
	// normally the sweep orchestrator.
	fallback scanner.DepositHandler
	log      log.Logger
}

// New builds the drain service. drain must be non-nil and validated.
func New(cfg *config.Config, db *store.DB, w *wallet.Wallet, sched *tasks.Scheduler, watch *scanner.Watchlist, fallback scanner.DepositHandler) *Service {
	s := &Service{
		cfg:      cfg,
		drain:    cfg.ExternalDrain,
		db:       db,
		wallet:   w,
		sched:    sched,
		watch:    watch,
		fallback: fallback,
		log:      log.New("module", "aml"),
	}
	if s.drain.AMLCheck.State == config.StateEnabled {
		s.risk = NewRiskClient(s.drain.AMLCheck)
	}
	return s
}

// HandleDeposit routes one observed deposit into the drain. Implements the
// scanner's deposit handler for drain-enabled gateways. Transfers the
// treasury originates are ledgered as from_fee top-ups; transfers between
// our own deposit addresses carry no new customer money and are dropped.
func (s *Service) HandleDeposit(ctx context.Context, ev scanner.Event) error {
	if !s.drain.AMLCheck.Enabled(ev.Symbol) && !s.drain.RegularSplit.Enabled(ev.Symbol) {
		if s.fallback != nil {
			return s.fallback.HandleDeposit(ctx, ev)
		}
		return nil
	}
	treasury, err := s.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return err
	}
	switch {
	case ev.From == treasury:
		return s.recordFromFee(ctx, ev)
	case s.watch != nil && s.watch.Contains(ev.From):
		return nil
	case s.drain.AMLCheck.Enabled(ev.Symbol):
		return s.recordForCheck(ctx, ev)
	default:
		return s.recordRegular(ctx, ev)
	}
}

// recordFromFee ledgers a token top-up sent from the treasury to one of its
// deposit addresses. The row never becomes ready, so no payout is scheduled.
func (s *Service) recordFromFee(ctx context.Context, ev scanner.Event) error {
	row := store.AMLTransaction{
		TxID:    ev.TxID,
		Address: ev.To,
		Symbol:  ev.Symbol,
		Amount:  ev.Amount,
		TType:   store.AMLFromFee,
		Status:  store.AMLStatusSkipped,
	}
	if err := s.insertOnce(ctx, row); err != nil {
		return err
	}
	s.log.Info("Treasury transfer ledgered as fee top-up", "txid", ev.TxID, "to", ev.To, "symbol", ev.Symbol)
	return nil
}

// recordForCheck stores the deposit and schedules its risk check. Deposits
// below the configured threshold skip the provider and take the worst
// score.
func (s *Service) recordForCheck(ctx context.Context, ev scanner.Event) error {
	crypto := s.drain.AMLCheck.Cryptos[ev.Symbol]
	row := store.AMLTransaction{
		TxID:    ev.TxID,
		Address: ev.To,
		Symbol:  ev.Symbol,
		Amount:  ev.Amount,
		TType:   store.AMLDeposit,
	}
	if ev.Amount.LessThan(crypto.MinCheckAmount) {
		row.Status = store.AMLStatusReady
		row.Score = maxRiskScore
		if err := s.insertOnce(ctx, row); err != nil {
			return err
		}
		s.log.Info("Deposit below AML threshold, skipping check", "txid", ev.TxID, "amount", ev.Amount)
		s.schedulePayout(ev.TxID, ev.To, ev.Symbol)
		return nil
	}

	row.Status = store.AMLStatusPending
	if err := s.insertOnce(ctx, row); err != nil {
		return err
	}
	txid, addr, symbol := ev.TxID, ev.To, ev.Symbol
	s.sched.SubmitAfter(ctx, s.cfg.AML.WaitBeforeAPICall, tasks.Job{
		Name: "aml-check",
		Args: []string{txid},
		Run: func(ctx context.Context) (any, error) {
			return nil, s.CheckTransaction(ctx, txid, addr, symbol)
		},
	})
	return nil
}

// recordRegular stores a deposit for the fixed-table workflow, ready at
// once, and schedules its payout.
func (s *Service) recordRegular(ctx context.Context, ev scanner.Event) error {
	row := store.AMLTransaction{
		TxID:    ev.TxID,
		Address: ev.To,
		Symbol:  ev.Symbol,
		Amount:  ev.Amount,
		TType:   store.AMLDeposit,
		Status:  store.AMLStatusReady,
	}
	if err := s.insertOnce(ctx, row); err != nil {
		return err
	}
	s.schedulePayout(ev.TxID, ev.To, ev.Symbol)
	return nil
}

// insertOnce tolerates replays of the same deposit: the scanner may deliver
// a chunk twice after a partial failure.
func (s *Service) insertOnce(ctx context.Context, row store.AMLTransaction) error {
	if _, err := s.db.AMLTransactionByTxID(ctx, row.TxID, row.Address, row.Symbol); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.db.InsertAMLTransaction(ctx, row)
}

// CheckTransaction registers a pending deposit with the risk provider.
func (s *Service) CheckTransaction(ctx context.Context, txid, address, symbol string) error {
	row, err := s.db.AMLTransactionByTxID(ctx, txid, address, symbol)
	if err != nil {
		return err
	}
	if row.Status != store.AMLStatusPending {
		return nil
	}
	uid, err := s.risk.Check(ctx, txid)
	if err != nil {
		return err
	}
	if err := s.db.SetAMLUID(ctx, row.ID, uid); err != nil {
		return err
	}
	s.log.Info("AML check registered", "txid", txid, "uid", uid)
	return nil
}

// RecheckTransaction polls the provider for a final score. Once the score is
// known the deposit becomes ready and its payout is scheduled.
func (s *Service) RecheckTransaction(ctx context.Context, row store.AMLTransaction) error {
	score, err := s.risk.Recheck(ctx, row.TxID, row.UID)
	if errors.Is(err, ErrCheckPending) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.db.SetAMLScore(ctx, row.ID, score); err != nil {
		return err
	}
	s.log.Info("AML score received", "txid", row.TxID, "score", score)
	s.schedulePayout(row.TxID, row.Address, row.Symbol)
	return nil
}

// RunRecheckLoop drives pending checks and in-flight rechecks on the
// configured period.
func (s *Service) RunRecheckLoop(ctx context.Context) {
	s.sched.Periodic(ctx, s.cfg.AML.ResultUpdatePeriod, tasks.Job{
		Name: "aml-recheck-pass",
		Run: func(ctx context.Context) (any, error) {
			return nil, s.recheckPass(ctx)
		},
	})
}

func (s *Service) recheckPass(ctx context.Context) error {
	// Pending rows whose delayed first check was lost to a restart.
	pending, err := s.db.AMLTransactionsByStatus(ctx, store.AMLStatusPending, store.AMLDeposit)
	if err != nil {
		return err
	}
	for _, row := range pending {
		if err := s.CheckTransaction(ctx, row.TxID, row.Address, row.Symbol); err != nil {
			s.log.Warn("AML check failed", "txid", row.TxID, "err", err)
		}
	}
	rechecking, err := s.db.AMLTransactionsByStatus(ctx, store.AMLStatusRechecking, store.AMLDeposit)
	if err != nil {
		return err
	}
	for _, row := range rechecking {
		if err := s.RecheckTransaction(ctx, row); err != nil {
			s.log.Warn("AML recheck failed", "txid", row.TxID, "err", err)
		}
	}
	return nil
}

// RunSweepAccounts periodically replays the payout of every ready deposit.
// Committed legs are filtered out, so this is a pure recovery pass for legs
// lost to crashes or transient node failures.
func (s *Service) RunSweepAccounts(ctx context.Context) {
	s.sched.Periodic(ctx, s.cfg.AML.SweepAccountsPeriod, tasks.Job{
		Name: "aml-sweep-accounts",
		Run: func(ctx context.Context) (any, error) {
			ready, err := s.db.AMLTransactionsByStatus(ctx, store.AMLStatusReady, store.AMLDeposit)
			if err != nil {
				return nil, err
			}
			for _, row := range ready {
				if err := s.PayoutForTx(ctx, row.TxID, row.Address, row.Symbol); err != nil {
					s.log.Warn("Drain payout replay failed", "txid", row.TxID, "err", err)
				}
			}
			return nil, nil
		},
	})
}

func (s *Service) schedulePayout(txid, address, symbol string) {
	s.sched.Submit(tasks.Job{
		Name: "aml-payout",
		Args: []string{txid, address},
		Run: func(ctx context.Context) (any, error) {
			return nil, s.PayoutForTx(ctx, txid, address, symbol)
		},
	})
}
