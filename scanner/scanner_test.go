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

package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// chainStub serves a fixed range of blocks over the full-node API.
type chainStub struct {
	*httptest.Server
	head   uint64
	blocks map[uint64]*tron.Block
	infos  map[uint64][]tron.TransactionInfo
}

func newChainStub(t *testing.T, head uint64) *chainStub {
	s := &chainStub{
		head:   head,
		blocks: make(map[uint64]*tron.Block),
		infos:  make(map[uint64][]tron.TransactionInfo),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch r.URL.Path {
		case "/wallet/getnowblock":
			block := &tron.Block{BlockID: "head"}
			block.BlockHeader.RawData.Number = s.head
			_ = json.NewEncoder(w).Encode(block)
		case "/wallet/getblockbynum":
			n := uint64(req["num"].(float64))
			block, ok := s.blocks[n]
			if !ok {
				block = &tron.Block{BlockID: fmt.Sprintf("block-%d", n)}
				block.BlockHeader.RawData.Number = n
			}
			_ = json.NewEncoder(w).Encode(block)
		case "/wallet/gettransactioninfobyblocknum":
			n := uint64(req["num"].(float64))
			_ = json.NewEncoder(w).Encode(s.infos[n])
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *chainStub) addBlock(n uint64, txs ...*tron.Transaction) {
	block := &tron.Block{BlockID: fmt.Sprintf("block-%d", n)}
	block.BlockHeader.RawData.Number = n
	for _, tx := range txs {
		block.Transactions = append(block.Transactions, *tx)
	}
	s.blocks[n] = block
}

type fixedPool struct{ url string }

func (p fixedPool) Client(ctx context.Context) (*tron.Client, error) {
	return tron.NewClient(p.url)
}

type recordingNotifier struct {
	notified []string
	failures int
}

func (n *recordingNotifier) WalletNotify(ctx context.Context, symbol, txid string) error {
	if n.failures > 0 {
		n.failures--
		return keeper.ErrNotificationFailed
	}
	n.notified = append(n.notified, symbol+"/"+txid)
	return nil
}

type recordingHandler struct{ deposits []Event }

func (h *recordingHandler) HandleDeposit(ctx context.Context, ev Event) error {
	h.deposits = append(h.deposits, ev)
	return nil
}

func scanConfig() *config.Config {
	cfg := testConfig()
	cfg.Scanner = config.ScannerConfig{
		MaxChunkSize:  10,
		Interval:      10 * time.Millisecond,
		LastBlockHint: 100,
	}
	return cfg
}

func newTestScanner(t *testing.T, stub *chainStub, treasury string) (*Scanner, *store.DB, *recordingNotifier, *recordingHandler) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	watch := NewWatchlist()
	watch.Seed([]string{addrBob, treasury})
	notifier := &recordingNotifier{}
	handler := &recordingHandler{}

	s, err := New(scanConfig(), db, fixedPool{url: stub.URL}, watch, notifier, handler, treasury)
	require.NoError(t, err)
	return s, db, notifier, handler
}

func cursor(t *testing.T, db *store.DB) string {
	t.Helper()
	v, err := db.GetSetting(context.Background(), lastSeenBlockKey)
	require.NoError(t, err)
	return v
}

func TestScanDepositNotifiesAndHandles(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stub := newChainStub(t, 102)
	stub.addBlock(101, nativeTransfer("dep1", addrAlice, addrBob, 5_000_000))
	stub.addBlock(102)

	s, db, notifier, handler := newTestScanner(t, stub, treasury)
	ctx := context.Background()

	// First step seeds the cursor from the hint.
	require.NoError(t, s.step(ctx))
	assert.Equal(t, "102", cursor(t, db))

	assert.Equal(t, []string{"TRX/dep1"}, notifier.notified)
	require.Len(t, handler.deposits, 1)
	assert.Equal(t, addrBob, handler.deposits[0].To)
	assert.Equal(t, uint64(101), handler.deposits[0].BlockNumber)
}

func TestScanIgnoresFeeTopUpAndStrangers(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stranger, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ee")
	stub := newChainStub(t, 101)
	stub.addBlock(101,
		nativeTransfer("fee1", treasury, addrBob, 2_000_000), // our own fee seeding
		nativeTransfer("ext1", addrAlice, stranger, 1_000_000), // not watched
	)

	s, db, notifier, handler := newTestScanner(t, stub, treasury)
	require.NoError(t, s.step(context.Background()))
	assert.Equal(t, "101", cursor(t, db))
	assert.Empty(t, notifier.notified)
	assert.Empty(t, handler.deposits)
}

func TestScanTokenTransferFromTreasuryIsDelivered(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stub := newChainStub(t, 101)

	// Only the native fee-seeding transfer is the scanner's own business. A
	// token transfer the treasury sends to a watched address still notifies
	// and reaches the deposit handler, which decides how to ledger it.
	stub.addBlock(101, trc20Call("feetok", treasury, usdtMain, ""))
	info := tron.TransactionInfo{ID: "feetok"}
	info.Receipt.Result = tron.ResultSuccess
	info.Log = []tron.EventLog{transferLog(t, usdtMain, treasury, addrBob, 50_000_000)}
	stub.infos[101] = []tron.TransactionInfo{info}

	s, db, notifier, handler := newTestScanner(t, stub, treasury)
	require.NoError(t, s.step(context.Background()))
	assert.Equal(t, "101", cursor(t, db))
	assert.Equal(t, []string{"USDT/feetok"}, notifier.notified)
	require.Len(t, handler.deposits, 1)
	assert.Equal(t, treasury, handler.deposits[0].From)
	assert.Equal(t, addrBob, handler.deposits[0].To)
}

func TestScanDepositToTreasuryNotifiesWithoutHandling(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stub := newChainStub(t, 101)
	stub.addBlock(101, nativeTransfer("dep2", addrAlice, treasury, 9_000_000))

	s, _, notifier, handler := newTestScanner(t, stub, treasury)
	require.NoError(t, s.step(context.Background()))
	assert.Equal(t, []string{"TRX/dep2"}, notifier.notified)
	assert.Empty(t, handler.deposits)
}

func TestScanChunkRetriesOnNotificationFailure(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stub := newChainStub(t, 101)
	stub.addBlock(101, nativeTransfer("dep3", addrAlice, addrBob, 5_000_000))

	s, db, notifier, handler := newTestScanner(t, stub, treasury)
	notifier.failures = 1
	ctx := context.Background()

	// The failed notification aborts the chunk: cursor stays put.
	require.Error(t, s.step(ctx))
	assert.Equal(t, "100", cursor(t, db))
	assert.Empty(t, handler.deposits)

	// The retry replays the same chunk and succeeds.
	require.NoError(t, s.step(ctx))
	assert.Equal(t, "101", cursor(t, db))
	assert.Equal(t, []string{"TRX/dep3"}, notifier.notified)
	assert.Len(t, handler.deposits, 1)
}

func TestScanHeadRegressionIsFatal(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	stub := newChainStub(t, 101)
	stub.addBlock(101)

	s, db, _, _ := newTestScanner(t, stub, treasury)
	ctx := context.Background()
	require.NoError(t, s.step(ctx))
	assert.Equal(t, "101", cursor(t, db))

	stub.head = 90
	err := s.step(ctx)
	assert.ErrorIs(t, err, ErrHeadRegression)
}

func TestScanSkipsFailedAndForeignTransactions(t *testing.T) {
	treasury, _ := tron.HexToAddress("41" + "00000000000000000000000000000000000000ff")
	failed := nativeTransfer("bad1", addrAlice, addrBob, 5_000_000)
	failed.Ret[0].ContractRet = "OUT_OF_ENERGY"
	foreign := nativeTransfer("odd1", addrAlice, addrBob, 1)
	foreign.RawData.Contract[0].Type = "VoteWitnessContract"

	stub := newChainStub(t, 101)
	stub.addBlock(101, failed, foreign, nativeTransfer("ok1", addrAlice, addrBob, 3_000_000))

	s, db, notifier, _ := newTestScanner(t, stub, treasury)
	require.NoError(t, s.step(context.Background()))
	assert.Equal(t, "101", cursor(t, db))
	assert.Equal(t, []string{"TRX/ok1"}, notifier.notified)
}
