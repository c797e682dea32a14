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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/payout"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

func (s *Server) generateAddress(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	addr, err := s.wallet.CreateDepositAddress(r.Context())
	if err != nil {
		return err
	}
	s.watch.Add(addr)
	writeJSON(w, http.StatusOK, success(map[string]any{"base58check_address": addr}))
	return nil
}

// balance reports the total spendable balance across every managed account.
func (s *Server) balance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	symbol := ps.ByName("symbol")
	if err := s.checkSymbol(symbol); err != nil {
		return err
	}
	accounts, err := s.managedAccounts(r.Context())
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, account := range accounts {
		b, err := s.wallet.Balance(r.Context(), symbol, account)
		if err != nil {
			return err
		}
		total = total.Add(b)
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"balance": total}))
	return nil
}

func (s *Server) managedAccounts(ctx context.Context) ([]string, error) {
	treasury, err := s.wallet.FeeDepositAccount(ctx)
	if err != nil {
		return nil, err
	}
	onetime, err := s.db.PublicKeysByType(ctx, store.KeyOnetime)
	if err != nil {
		return nil, err
	}
	return append([]string{treasury}, onetime...), nil
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	client, err := s.conn.Client(r.Context())
	if err != nil {
		return err
	}
	block, err := client.GetNowBlock(r.Context())
	if err != nil {
		return err
	}
	progress := s.scan.Progress()
	writeJSON(w, http.StatusOK, success(map[string]any{
		"last_block_num":       block.Number(),
		"last_block_timestamp": block.Timestamp(),
		"scanner_block_num":    progress.Cursor,
	}))
	return nil
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	client, err := s.conn.Client(r.Context())
	if err != nil {
		return err
	}
	info, err := client.GetTransactionInfoByID(r.Context(), ps.ByName("txid"))
	if err != nil {
		return err
	}
	head, err := client.GetLatestBlockNumber(r.Context())
	if err != nil {
		return err
	}
	var confirmations uint64
	if info.BlockNumber > 0 && head >= info.BlockNumber {
		confirmations = head - info.BlockNumber + 1
	}
	writeJSON(w, http.StatusOK, success(map[string]any{
		"txid":          info.ID,
		"block_num":     info.BlockNumber,
		"confirmations": confirmations,
		"fee":           info.Fee,
		"result":        info.Receipt.Result,
	}))
	return nil
}

// dump exports every key pair for backup. Externally managed accounts have
// no exportable private key.
func (s *Server) dump(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	keys, err := s.db.AllKeys(r.Context())
	if err != nil {
		return err
	}
	type dumpedKey struct {
		Type       string `json:"type"`
		PublicKey  string `json:"public_key"`
		PrivateKey string `json:"private_key"`
	}
	out := make([]dumpedKey, 0, len(keys))
	for _, key := range keys {
		priv, err := s.wallet.PrivateKey(r.Context(), key.Public)
		if errors.Is(err, wallet.ErrExternallyManaged) {
			priv = store.ExternallyManaged
		} else if err != nil {
			return err
		}
		out = append(out, dumpedKey{Type: string(key.Type), PublicKey: key.Public, PrivateKey: priv})
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"accounts": out}))
	return nil
}

func (s *Server) feeDepositAccount(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	addr, err := s.wallet.FeeDepositAccount(r.Context())
	if err != nil {
		return err
	}
	balance, err := s.wallet.Balance(r.Context(), config.NativeSymbol, addr)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{
		"base58check_address": addr,
		"balance":             balance,
	}))
	return nil
}

func (s *Server) payout(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	symbol := ps.ByName("symbol")
	if err := s.checkSymbol(symbol); err != nil {
		return err
	}
	to := ps.ByName("to")
	amount, err := decimal.NewFromString(ps.ByName("amount"))
	if err != nil {
		return err
	}
	id := s.sched.Submit(tasks.Job{
		Name: "payout",
		Args: []string{symbol, to, amount.String()},
		Run: func(ctx context.Context) (any, error) {
			res, err := s.payouts.Payout(ctx, symbol, to, amount)
			if err != nil {
				return nil, err
			}
			results := []keeper.PayoutResult{*res}
			if err := s.payouts.PostResults(ctx, symbol, results); err != nil {
				return nil, err
			}
			return results, nil
		},
	})
	writeJSON(w, http.StatusOK, success(map[string]any{"task_id": id}))
	return nil
}

func (s *Server) multipayout(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	symbol := ps.ByName("symbol")
	if err := s.checkSymbol(symbol); err != nil {
		return err
	}
	var dests []payout.Destination
	if err := json.NewDecoder(r.Body).Decode(&dests); err != nil {
		return err
	}
	if len(dests) == 0 {
		return errors.New("empty payout list")
	}

	if r.URL.Query().Get("dryrun") != "" {
		steps, err := s.payouts.Plan(r.Context(), symbol, dests)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, success(map[string]any{
			"steps":         steps,
			"estimated_fee": payout.EstimateFee(steps, s.cfg.TxFee),
		}))
		return nil
	}

	id := s.sched.Submit(tasks.Job{
		Name: "multipayout",
		Args: []string{symbol},
		Run: func(ctx context.Context) (any, error) {
			results, err := s.payouts.MultiPayout(ctx, symbol, dests)
			if err != nil {
				return nil, err
			}
			if err := s.payouts.PostResults(ctx, symbol, results); err != nil {
				return nil, err
			}
			return results, nil
		},
	})
	writeJSON(w, http.StatusOK, success(map[string]any{"task_id": id}))
	return nil
}

func (s *Server) calcTxFee(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.checkSymbol(ps.ByName("symbol")); err != nil {
		return err
	}
	if _, err := decimal.NewFromString(ps.ByName("amount")); err != nil {
		return err
	}
	// A single payout takes at most one fee seeding plus the transfer.
	fee := s.cfg.TxFee.Add(decimal.NewFromInt(2))
	writeJSON(w, http.StatusOK, success(map[string]any{"fee": fee}))
	return nil
}

func (s *Server) estimateEnergy(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	symbol := ps.ByName("symbol")
	if err := s.checkSymbol(symbol); err != nil {
		return err
	}
	if symbol == config.NativeSymbol {
		return errors.New("energy estimation applies to token transfers only")
	}
	amount, err := decimal.NewFromString(ps.ByName("amount"))
	if err != nil {
		return err
	}
	raw, err := s.wallet.RawTokenAmount(symbol, amount)
	if err != nil {
		return err
	}
	contract, err := s.cfg.ContractAddress(symbol)
	if err != nil {
		return err
	}
	client, err := s.conn.Client(r.Context())
	if err != nil {
		return err
	}
	energy, err := client.EstimateTransferEnergy(r.Context(), ps.ByName("src"), contract, ps.ByName("dst"), raw)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"energy": energy}))
	return nil
}

func (s *Server) task(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	res, ok := s.sched.Result(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown task "+ps.ByName("id")))
		return nil
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) multiserverStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	writeJSON(w, http.StatusOK, s.conn.ServersStatus(r.Context()))
	return nil
}

func (s *Server) multiserverChange(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		return err
	}
	if err := s.conn.SwitchTo(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"server_id": id}))
	return nil
}

func (s *Server) multiserverSwitchToBest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	changed, err := s.conn.RefreshBestServer(r.Context())
	if err != nil {
		return err
	}
	id, err := s.conn.CurrentID(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"changed": changed, "server_id": id}))
	return nil
}
