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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/sweep"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/tron"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

// rescanNode serves balances and accepts transfers. The rescan loop and the
// scheduler workers hit it concurrently.
type rescanNode struct {
	*httptest.Server
	mu        sync.Mutex
	trx       map[string]int64
	bandwidth map[string]int64
	transfers []string
}

func newRescanNode(t *testing.T) *rescanNode {
	s := &rescanNode{trx: make(map[string]int64), bandwidth: make(map[string]int64)}
	txSeq := 0
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.URL.Path {
		case "/wallet/getaccount":
			addr := req["address"].(string)
			fmt.Fprintf(w, `{"address": %q, "balance": %d}`, addr, s.trx[addr])
		case "/wallet/getaccountresource":
			addr := req["address"].(string)
			fmt.Fprintf(w, `{"freeNetLimit": %d, "freeNetUsed": 0}`, s.bandwidth[addr])
		case "/wallet/triggerconstantcontract":
			fmt.Fprintf(w, `{"result": {"result": true}, "constant_result": ["%064x"]}`, 0)
		case "/wallet/createtransaction":
			txSeq++
			from, to := req["owner_address"].(string), req["to_address"].(string)
			s.transfers = append(s.transfers, fmt.Sprintf("%s>%s:%d", from, to, int64(req["amount"].(float64))))
			fmt.Fprintf(w, `{"txID": "%064d", "raw_data": {}}`, txSeq)
		case "/wallet/broadcasttransaction":
			fmt.Fprintf(w, `{"result": true, "txid": %q}`, req["txID"].(string))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *rescanNode) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transfers...)
}

type rescanPool struct{ url string }

func (p rescanPool) Client(ctx context.Context) (*tron.Client, error) {
	return tron.NewClient(p.url)
}

func TestRescanBalancesSnapshotsAndResweeps(t *testing.T) {
	node := newRescanNode(t)
	cfg := &config.Config{
		Network:                 config.Mainnet,
		Tokens:                  config.DefaultTokens,
		TRXMinTransferThreshold: decimal.NewFromInt(1),
		BandwidthPerTRXTransfer: 300,
		BalancesRescanPeriod:    10 * time.Millisecond,
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enc := wallet.NewEncryption(func(ctx context.Context, symbol string) (*keeper.DecryptSettings, error) {
		return &keeper.DecryptSettings{PersistentStatus: keeper.EncryptionDisabled}, nil
	})
	require.NoError(t, enc.Setup(ctx, db, []string{"TRX"}, false))

	pool := rescanPool{url: node.URL}
	w := wallet.New(cfg, db, pool, enc)
	treasury, err := w.CreateFeeDepositAccount(ctx)
	require.NoError(t, err)
	deposit, err := w.CreateDepositAddress(ctx)
	require.NoError(t, err)

	node.mu.Lock()
	node.trx[deposit] = 5_000_000
	node.bandwidth[deposit] = 600
	node.mu.Unlock()

	sched := tasks.NewScheduler(2)
	sched.Start(ctx, 2)
	sweeper := sweep.New(cfg, db, pool, w, sched)

	go func() { _ = rescanBalances(ctx, cfg, db, w, sched, sweeper) }()

	// The tick snapshots balances and re-dispatches the missed sweep.
	require.Eventually(t, func() bool {
		balances, err := db.Balances(ctx, "TRX")
		if err != nil || len(balances) == 0 {
			return false
		}
		for _, tr := range node.snapshot() {
			if strings.HasPrefix(tr, deposit+">"+treasury) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	balances, err := db.Balances(ctx, "TRX")
	require.NoError(t, err)
	byAccount := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		byAccount[b.Account] = b.Balance
	}
	require.True(t, byAccount[deposit].Equal(decimal.NewFromInt(5)))
}
