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

// Package api serves the backend HTTP interface the Keeper calls: address
// generation, balances, payouts, node management and staking. Long-running
// operations return a task id polled on /task/:id.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/connmgr"
	"github.com/vsys-host/tron-shkeeper/payout"
	"github.com/vsys-host/tron-shkeeper/scanner"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

const authHeader = "X-Shkeeper-Backend-Key"

// Server is the HTTP surface over the gateway's services.
type Server struct {
	cfg     *config.Config
	db      *store.DB
	wallet  *wallet.Wallet
	payouts *payout.Service
	scan    *scanner.Scanner
	watch   *scanner.Watchlist
	conn    *connmgr.Manager
	sched   *tasks.Scheduler
	log     log.Logger
}

// New wires the server over the running services.
func New(cfg *config.Config, db *store.DB, w *wallet.Wallet, p *payout.Service,
	scan *scanner.Scanner, watch *scanner.Watchlist, conn *connmgr.Manager, sched *tasks.Scheduler) *Server {
	return &Server{
		cfg:     cfg,
		db:      db,
		wallet:  w,
		payouts: p,
		scan:    scan,
		watch:   watch,
		conn:    conn,
		sched:   sched,
		log:     log.New("module", "api"),
	}
}

// Handler builds the route table. The metrics endpoint is unauthenticated;
// everything else requires the shared backend key when one is configured.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.POST("/wallet/:symbol/generate-address", s.auth(s.generateAddress))
	router.GET("/wallet/:symbol/balance", s.auth(s.balance))
	router.GET("/wallet/:symbol/status", s.auth(s.status))
	router.GET("/wallet/:symbol/transaction/:txid", s.auth(s.transaction))
	router.GET("/wallet/:symbol/dump", s.auth(s.dump))
	router.GET("/wallet/:symbol/fee-deposit-account", s.auth(s.feeDepositAccount))
	router.POST("/wallet/:symbol/payout/:to/:amount", s.auth(s.payout))
	router.POST("/wallet/:symbol/multipayout", s.auth(s.multipayout))
	router.GET("/wallet/:symbol/calc-tx-fee/:amount", s.auth(s.calcTxFee))
	router.GET("/wallet/:symbol/estimate-energy/:src/:dst/:amount", s.auth(s.estimateEnergy))

	router.GET("/task/:id", s.auth(s.task))

	router.GET("/multiserver/status", s.auth(s.multiserverStatus))
	router.POST("/multiserver/change/:id", s.auth(s.multiserverChange))
	router.POST("/multiserver/switch-to-best", s.auth(s.multiserverSwitchToBest))

	router.GET("/staking/info", s.auth(s.stakingInfo))
	router.GET("/staking/resources", s.auth(s.stakingResources))
	router.POST("/staking/freeze", s.auth(s.stakingFreeze))
	router.POST("/staking/unfreeze", s.auth(s.stakingUnfreeze))
	router.POST("/staking/withdraw_unfreezed", s.auth(s.stakingWithdrawUnfrozen))
	router.POST("/staking/withdraw_stake_balance", s.auth(s.stakingWithdrawUnfrozen))
	router.POST("/staking/claim_voting_reward", s.auth(s.stakingClaimReward))
	router.POST("/staking/delegate", s.auth(s.stakingDelegate))
	router.POST("/staking/undelegate", s.auth(s.stakingUndelegate))

	router.Handler(http.MethodGet, "/metrics", s.metricsHandler())

	return cors.AllowAll().Handler(router)
}

type handle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error

func (s *Server) auth(h handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.cfg.ShkeeperKey != "" && r.Header.Get(authHeader) != s.cfg.ShkeeperKey {
			writeError(w, http.StatusUnauthorized, errors.New("bad or missing backend key"))
			return
		}
		if err := h(w, r, ps); err != nil {
			s.log.Warn("Request failed", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusInternalServerError, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"status": "error", "msg": err.Error()})
}

func success(fields map[string]any) map[string]any {
	out := map[string]any{"status": "success"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// checkSymbol validates the :symbol route parameter against the registry.
func (s *Server) checkSymbol(symbol string) error {
	for _, known := range s.cfg.Symbols() {
		if known == symbol {
			return nil
		}
	}
	return errors.New("unknown symbol " + symbol)
}
