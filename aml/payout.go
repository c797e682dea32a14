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

package aml

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/store"
)

// Leg is one planned drain transfer.
type Leg struct {
	Address string
	Amount  decimal.Decimal
}

// splitTable resolves the split table of a deposit: the risk-score table for
// the AML workflow, the fixed table for regular split.
func (s *Service) splitTable(row *store.AMLTransaction) (config.SplitTable, error) {
	if s.drain.AMLCheck.Enabled(row.Symbol) {
		rs, name, ok := s.drain.MatchRiskScore(row.Symbol, row.Score)
		if !ok {
			return nil, fmt.Errorf("aml: no risk interval for %s score %s", row.Symbol, row.Score)
		}
		s.log.Debug("Matched risk interval", "txid", row.TxID, "score", row.Score, "interval", name)
		return rs.Addresses, nil
	}
	if s.drain.RegularSplit.Enabled(row.Symbol) {
		return s.drain.RegularSplit.Cryptos[row.Symbol].Addresses, nil
	}
	return nil, fmt.Errorf("aml: no drain workflow for %s", row.Symbol)
}

// BuildPayoutList plans the outstanding legs of a ready deposit. Each leg
// except the last is the ratio share rounded down to the token precision;
// the last leg takes the exact residual so the legs always sum to the
// deposit. Legs already committed to the ledger are filtered out.
func (s *Service) BuildPayoutList(ctx context.Context, row *store.AMLTransaction) ([]Leg, error) {
	table, err := s.splitTable(row)
	if err != nil {
		return nil, err
	}
	decimals, err := s.cfg.Decimals(row.Symbol)
	if err != nil {
		return nil, err
	}

	legs := make([]Leg, 0, len(table))
	residual := row.Amount
	for i, entry := range table {
		var amount decimal.Decimal
		if i == len(table)-1 {
			amount = residual
		} else {
			amount = row.Amount.Mul(entry.Ratio).RoundDown(decimals)
			residual = residual.Sub(amount)
		}
		legs = append(legs, Leg{Address: entry.Address, Amount: amount})
	}

	done, err := s.db.AMLPayoutsByTxID(ctx, row.TxID)
	if err != nil {
		return nil, err
	}
	paid := make(map[string]bool, len(done))
	for _, p := range done {
		paid[p.Address] = true
	}
	outstanding := legs[:0]
	for _, leg := range legs {
		if !paid[leg.Address] && leg.Amount.Sign() > 0 {
			outstanding = append(outstanding, leg)
		}
	}
	return outstanding, nil
}

// PayoutForTx executes the outstanding legs of a ready deposit from its
// deposit address. Each successful leg is committed before the next starts.
func (s *Service) PayoutForTx(ctx context.Context, txid, address, symbol string) error {
	row, err := s.db.AMLTransactionByTxID(ctx, txid, address, symbol)
	if err != nil {
		return err
	}
	if row.Status != store.AMLStatusReady {
		return nil
	}
	legs, err := s.BuildPayoutList(ctx, row)
	if err != nil {
		return err
	}
	if len(legs) == 0 {
		return nil
	}
	if symbol == config.NativeSymbol {
		return s.payoutTRX(ctx, row, legs)
	}
	return s.payoutToken(ctx, row, legs)
}

// payoutTRX drains a native deposit. Legs beyond the free bandwidth burn
// TRX for bandwidth out of the account itself, so their cost is deducted
// from the last leg to keep the account drainable to zero.
func (s *Service) payoutTRX(ctx context.Context, row *store.AMLTransaction, legs []Leg) error {
	bandwidth, err := s.wallet.Bandwidth(ctx, row.Address)
	if err != nil {
		return err
	}
	covered := bandwidth / s.cfg.BandwidthPerTRXTransfer
	if burned := int64(len(legs)) - covered; burned > 0 {
		cost := s.cfg.TRXPerBandwidthUnit.
			Mul(decimal.NewFromInt(s.cfg.BandwidthPerTRXTransfer)).
			Mul(decimal.NewFromInt(burned))
		last := &legs[len(legs)-1]
		last.Amount = last.Amount.Sub(cost)
		if last.Amount.Sign() <= 0 {
			return fmt.Errorf("aml: bandwidth cost %s TRX consumes the whole last leg of %s", cost, row.TxID)
		}
		s.log.Info("Deducting bandwidth cost from last leg", "txid", row.TxID, "cost", cost)
	}
	for _, leg := range legs {
		sendTxID, err := s.wallet.TransferTRX(ctx, row.Address, leg.Address, leg.Amount)
		if err != nil {
			return fmt.Errorf("aml: leg to %s: %w", leg.Address, err)
		}
		if err := s.commitLeg(ctx, row.TxID, leg, sendTxID); err != nil {
			return err
		}
	}
	return nil
}

// payoutToken drains a token deposit, topping the account up from the
// treasury with whatever TRX is missing to fee the legs.
func (s *Service) payoutToken(ctx context.Context, row *store.AMLTransaction, legs []Leg) error {
	need := s.cfg.TxFee.Mul(decimal.NewFromInt(int64(len(legs))))
	have, err := s.wallet.Balance(ctx, config.NativeSymbol, row.Address)
	if err != nil {
		return err
	}
	if have.LessThan(need) {
		treasury, err := s.wallet.FeeDepositAccount(ctx)
		if err != nil {
			return err
		}
		delta := need.Sub(have)
		treasuryTRX, err := s.wallet.Balance(ctx, config.NativeSymbol, treasury)
		if err != nil {
			return err
		}
		if treasuryTRX.LessThan(delta) {
			return fmt.Errorf("aml: treasury balance %s TRX cannot fund the %s TRX payout fee for %s",
				treasuryTRX, delta, row.Address)
		}
		feeTxID, err := s.wallet.TransferTRX(ctx, treasury, row.Address, delta)
		if err != nil {
			return fmt.Errorf("aml: seeding payout fee: %w", err)
		}
		s.log.Info("Seeded drain payout fee", "account", row.Address, "amount", delta, "txid", feeTxID)
	}
	for _, leg := range legs {
		sendTxID, err := s.wallet.TransferToken(ctx, row.Symbol, row.Address, leg.Address, leg.Amount)
		if err != nil {
			return fmt.Errorf("aml: leg to %s: %w", leg.Address, err)
		}
		if err := s.commitLeg(ctx, row.TxID, leg, sendTxID); err != nil {
			return err
		}
	}
	return nil
}

// commitLeg writes the ledger row that makes a leg idempotent. A failure
// here is critical: the transfer happened but is not recorded.
func (s *Service) commitLeg(ctx context.Context, depositTxID string, leg Leg, payoutTxID string) error {
	err := s.db.InsertAMLPayout(ctx, store.AMLPayoutRow{
		TxID:       depositTxID,
		Address:    leg.Address,
		Amount:     leg.Amount,
		PayoutTxID: payoutTxID,
	})
	if err != nil {
		return fmt.Errorf("aml: recording leg %s of %s (payout tx %s): %w",
			leg.Address, depositTxID, payoutTxID, err)
	}
	s.log.Info("Drain leg paid", "deposit", depositTxID, "to", leg.Address, "amount", leg.Amount, "txid", payoutTxID)
	return nil
}
