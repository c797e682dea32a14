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

// Package scanner walks the chain block by block, extracts transfers that
// touch watched addresses, notifies the payment processor and hands accepted
// deposits to the configured drain. Blocks are committed in all-or-nothing
// chunks: the cursor only advances once every transaction of the chunk has
// been processed, so a crash or a failed notification replays the chunk.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/connmgr"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// lastSeenBlockKey is the settings row holding the scan cursor: the highest
// fully processed block.
const lastSeenBlockKey = "last_seen_block_num"

// blockCacheSize keeps a couple of chunks worth of fetched blocks so a chunk
// retry does not refetch them.
const blockCacheSize = 512

// ErrHeadRegression means the node's head moved below the committed cursor.
// That only happens when the node was switched to a snapshot behind our
// state or the database belongs to another chain; scanning cannot continue.
var ErrHeadRegression = errors.New("scanner: chain head is behind the scan cursor")

// NodePool yields a client for the currently elected full node.
type NodePool interface {
	Client(ctx context.Context) (*tron.Client, error)
}

// Notifier reports observed deposit transactions upstream.
type Notifier interface {
	WalletNotify(ctx context.Context, symbol, txid string) error
}

// DepositHandler receives accepted deposits after notification. The sweep
// orchestrator or the AML service sits behind it depending on configuration.
type DepositHandler interface {
	HandleDeposit(ctx context.Context, ev Event) error
}

// Scanner is the block scanning pipeline.
type Scanner struct {
	cfg      *config.Config
	db       *store.DB
	pool     NodePool
	watch    *Watchlist
	parser   *Parser
	notifier Notifier
	deposits DepositHandler
	treasury string
	log      log.Logger

	blocks *lru.Cache[uint64, *tron.Block]
	infos  *lru.Cache[uint64, []tron.TransactionInfo]

	mu      sync.Mutex
	scanned uint64
	cursor  uint64
	head    uint64
}

// New builds a scanner. treasury is the fee-deposit address; transfers it
// originates are fee seeding and are not reported as deposits.
func New(cfg *config.Config, db *store.DB, pool NodePool, watch *Watchlist,
	notifier Notifier, deposits DepositHandler, treasury string) (*Scanner, error) {

	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}
	blocks, err := lru.New[uint64, *tron.Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	infos, err := lru.New[uint64, []tron.TransactionInfo](blockCacheSize)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:      cfg,
		db:       db,
		pool:     pool,
		watch:    watch,
		parser:   parser,
		notifier: notifier,
		deposits: deposits,
		treasury: treasury,
		log:      log.New("module", "scanner"),
		blocks:   blocks,
		infos:    infos,
	}, nil
}

// Run is the scan loop. It returns only on context cancellation or an
// unrecoverable state like a head regression.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if err := s.step(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.Is(err, ErrHeadRegression):
				return err
			case errors.Is(err, connmgr.ErrNoServerSet):
				// The election has not completed yet, poll quickly.
				if !s.sleep(ctx, time.Second) {
					return ctx.Err()
				}
			default:
				s.log.Error("Scan iteration failed, backing off", "err", err)
				if !s.sleep(ctx, time.Minute) {
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// step processes at most one chunk.
func (s *Scanner) step(ctx context.Context) error {
	client, err := s.pool.Client(ctx)
	if err != nil {
		return err
	}
	head, err := client.GetLatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	last, err := s.loadCursor(ctx, head)
	if err != nil {
		return err
	}
	s.observe(last, head, 0)

	if head < last {
		return fmt.Errorf("%w: head %d, cursor %d", ErrHeadRegression, head, last)
	}
	if head == last {
		s.sleep(ctx, s.cfg.Scanner.Interval)
		return nil
	}

	chunk := head - last
	if limit := uint64(s.cfg.Scanner.MaxChunkSize); chunk > limit {
		chunk = limit
	}
	if err := s.processChunk(ctx, client, last+1, last+chunk); err != nil {
		return fmt.Errorf("chunk [%d, %d]: %w", last+1, last+chunk, err)
	}
	if err := s.db.SetSetting(ctx, lastSeenBlockKey, strconv.FormatUint(last+chunk, 10)); err != nil {
		return err
	}
	s.observe(last+chunk, head, chunk)
	return nil
}

// loadCursor reads the committed cursor, seeding it on first run from the
// configured hint or the current head.
func (s *Scanner) loadCursor(ctx context.Context, head uint64) (uint64, error) {
	raw, err := s.db.GetSetting(ctx, lastSeenBlockKey)
	if err == nil {
		return strconv.ParseUint(raw, 10, 64)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	start := s.cfg.Scanner.LastBlockHint
	if start == 0 {
		start = head
	}
	s.log.Info("Seeding scan cursor", "block", start)
	if err := s.db.SetSetting(ctx, lastSeenBlockKey, strconv.FormatUint(start, 10)); err != nil {
		return 0, err
	}
	return start, nil
}

// processChunk fetches blocks [from, to] concurrently, then routes their
// transfers in block and transaction order. Any error aborts the whole chunk
// before the cursor moves.
func (s *Scanner) processChunk(ctx context.Context, client *tron.Client, from, to uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scanner.MaxChunkSize)
	for n := from; n <= to; n++ {
		n := n
		g.Go(func() error { return s.fetchBlock(gctx, client, n) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Notifications are deduplicated per transaction: a multisend produces
	// several events but one txid.
	notified := make(map[string]bool)
	for n := from; n <= to; n++ {
		block, _ := s.blocks.Get(n)
		infos, _ := s.infos.Get(n)
		if block == nil {
			return fmt.Errorf("block %d missing after fetch", n)
		}
		infoByID := make(map[string]*tron.TransactionInfo, len(infos))
		for i := range infos {
			infoByID[infos[i].ID] = &infos[i]
		}
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			if err := s.processTx(ctx, tx, infoByID[tx.TxID], n, notified); err != nil {
				return fmt.Errorf("tx %s: %w", tx.TxID, err)
			}
		}
	}
	return nil
}

func (s *Scanner) fetchBlock(ctx context.Context, client *tron.Client, n uint64) error {
	if _, ok := s.blocks.Get(n); !ok {
		block, err := client.GetBlockByNum(ctx, n)
		if err != nil {
			return err
		}
		s.blocks.Add(n, block)
	}
	if _, ok := s.infos.Get(n); !ok {
		infos, err := client.GetTransactionInfoByBlockNum(ctx, n)
		if err != nil {
			return err
		}
		s.infos.Add(n, infos)
	}
	return nil
}

// skippable classifies per-transaction parse failures that must not fail the
// chunk: foreign transaction kinds, failed executions and malformed ABI
// payloads.
func skippable(err error) bool {
	return errors.Is(err, tron.ErrUnknownTransactionType) ||
		errors.Is(err, tron.ErrBadContractResult) ||
		errors.Is(err, tron.ErrInsufficientDataBytes) ||
		errors.Is(err, tron.ErrNonEmptyPaddingBytes)
}

func (s *Scanner) processTx(ctx context.Context, tx *tron.Transaction, info *tron.TransactionInfo, block uint64, notified map[string]bool) error {
	events, err := s.parser.ParseTx(tx, info)
	if err != nil {
		if skippable(err) {
			s.log.Trace("Skipping transaction", "txid", tx.TxID, "reason", err)
			return nil
		}
		return err
	}
	for _, ev := range events {
		ev.BlockNumber = block
		if err := s.route(ctx, ev, notified); err != nil {
			return err
		}
	}
	return nil
}

// route applies the deposit policy to one transfer event.
func (s *Scanner) route(ctx context.Context, ev Event, notified map[string]bool) error {
	if !s.watch.Contains(ev.To) {
		return nil
	}
	// Native transfers the treasury sends to its own deposit addresses are
	// fee seeding, not customer money. Token transfers from the treasury
	// still notify and flow to the drain, which records them as internal.
	if ev.Symbol == config.NativeSymbol && ev.From == s.treasury && ev.To != s.treasury {
		s.log.Debug("Ignoring internal fee transfer", "txid", ev.TxID, "to", ev.To)
		return nil
	}
	s.log.Info("Deposit observed", "symbol", ev.Symbol, "to", ev.To, "amount", ev.Amount, "txid", ev.TxID, "block", ev.BlockNumber)

	key := ev.Symbol + "/" + ev.TxID
	if !notified[key] {
		if err := s.notifier.WalletNotify(ctx, ev.Symbol, ev.TxID); err != nil {
			return err
		}
		notified[key] = true
	}
	if s.deposits != nil && ev.To != s.treasury {
		return s.deposits.HandleDeposit(ctx, ev)
	}
	return nil
}

func (s *Scanner) observe(cursor, head, scanned uint64) {
	s.mu.Lock()
	s.cursor, s.head = cursor, head
	s.scanned += scanned
	s.mu.Unlock()
}

// Progress is a snapshot of the scan state for stats and metrics.
type Progress struct {
	Cursor   uint64
	Head     uint64
	Scanned  uint64
	Accounts int
}

// Progress returns the current scan state.
func (s *Scanner) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{Cursor: s.cursor, Head: s.head, Scanned: s.scanned, Accounts: s.watch.Count()}
}

// RunStats periodically logs scan throughput and the estimated time to reach
// the chain head.
func (s *Scanner) RunStats(ctx context.Context) {
	period := s.cfg.Scanner.StatsLogPeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	prev := s.Progress()
	prevTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := s.Progress()
			now := time.Now()
			bps := float64(cur.Scanned-prev.Scanned) / now.Sub(prevTime).Seconds()
			eta := "n/a"
			if behind := cur.Head - cur.Cursor; bps > 0 && cur.Head > cur.Cursor {
				eta = (time.Duration(float64(behind)/bps) * time.Second).String()
			}
			s.log.Info("Scanner stats",
				"block", cur.Cursor, "head", cur.Head,
				"bps", fmt.Sprintf("%.2f", bps), "eta", eta, "accounts", cur.Accounts)
			prev, prevTime = cur, now
		}
	}
}
