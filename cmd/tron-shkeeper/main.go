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

// tron-shkeeper is the Tron payment-gateway backend: it generates per-payment
// deposit addresses, scans blocks for incoming transfers, notifies the
// Keeper, sweeps deposits to the treasury (or drains them through the AML
// workflow) and executes payouts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vsys-host/tron-shkeeper/aml"
	"github.com/vsys-host/tron-shkeeper/api"
	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/connmgr"
	"github.com/vsys-host/tron-shkeeper/keeper"
	"github.com/vsys-host/tron-shkeeper/payout"
	"github.com/vsys-host/tron-shkeeper/scanner"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/sweep"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

var (
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "Address the HTTP API listens on",
		Value:   ":6778",
		EnvVars: []string{"LISTEN"},
	}
	dbPathFlag = &cli.StringFlag{
		Name:    "db-path",
		Usage:   "Path of the sqlite wallet database",
		Value:   "tron-shkeeper.db",
		EnvVars: []string{"DB_PATH"},
	}
	networkFlag = &cli.StringFlag{
		Name:    "network",
		Usage:   "Chain to operate on (main or nile)",
		Value:   "main",
		EnvVars: []string{"TRON_NETWORK"},
	}
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity (0=crit .. 5=trace)",
		Value:   3,
		EnvVars: []string{"VERBOSITY"},
	}

	fullnodeURLFlag = &cli.StringFlag{
		Name:    "fullnode-url",
		Usage:   "Full node HTTP API endpoint",
		EnvVars: []string{"FULLNODE_URL"},
	}
	fullnodeUserFlag = &cli.StringFlag{
		Name:    "fullnode-username",
		Usage:   "Basic-auth username for the full node",
		EnvVars: []string{"FULLNODE_USERNAME"},
	}
	fullnodePassFlag = &cli.StringFlag{
		Name:    "fullnode-password",
		Usage:   "Basic-auth password for the full node",
		EnvVars: []string{"FULLNODE_PASSWORD"},
	}
	multiserverFlag = &cli.StringFlag{
		Name:    "multiserver-config",
		Usage:   "JSON list of full nodes ([{\"name\": ..., \"url\": ...}])",
		EnvVars: []string{"MULTISERVER_CONFIG_JSON"},
	}
	refreshBestServerFlag = &cli.DurationFlag{
		Name:    "refresh-best-server-period",
		Usage:   "How often the best full node is re-elected",
		Value:   5 * time.Minute,
		EnvVars: []string{"REFRESH_BEST_SERVER_PERIOD"},
	}

	shkeeperHostFlag = &cli.StringFlag{
		Name:    "shkeeper-host",
		Usage:   "Keeper host:port for wallet and payout notifications",
		Value:   "localhost:5000",
		EnvVars: []string{"SHKEEPER_HOST"},
	}
	shkeeperKeyFlag = &cli.StringFlag{
		Name:    "shkeeper-key",
		Usage:   "Shared backend key for Keeper calls in both directions",
		EnvVars: []string{"SHKEEPER_BACKEND_KEY"},
	}

	workersFlag = &cli.IntFlag{
		Name:    "concurrent-max-workers",
		Usage:   "Size of the background task worker pool",
		Value:   4,
		EnvVars: []string{"CONCURRENT_MAX_WORKERS"},
	}
	retriesFlag = &cli.IntFlag{
		Name:    "concurrent-max-retries",
		Usage:   "Retries for transient full-node failures in background tasks",
		Value:   3,
		EnvVars: []string{"CONCURRENT_MAX_RETRIES"},
	}

	txFeeFlag = &cli.StringFlag{
		Name:    "tx-fee",
		Usage:   "TRX seeded to a signing account before a payout",
		Value:   "40",
		EnvVars: []string{"TX_FEE"},
	}
	txFeeLimitFlag = &cli.StringFlag{
		Name:    "tx-fee-limit",
		Usage:   "Max TRX a contract call may burn for resources",
		Value:   "40",
		EnvVars: []string{"TX_FEE_LIMIT"},
	}
	internalTxFeeFlag = &cli.StringFlag{
		Name:    "internal-tx-fee",
		Usage:   "TRX sent to a deposit account before a burn-mode token sweep",
		Value:   "30",
		EnvVars: []string{"INTERNAL_TX_FEE"},
	}
	bandwidthPerTRXFlag = &cli.Int64Flag{
		Name:    "bandwidth-per-trx-transfer",
		Usage:   "Bandwidth cost of one native transfer",
		Value:   300,
		EnvVars: []string{"BANDWIDTH_PER_TRX_TRANSFER"},
	}
	bandwidthPerTRC20Flag = &cli.Int64Flag{
		Name:    "bandwidth-per-trc20-transfer",
		Usage:   "Bandwidth cost of one token transfer",
		Value:   345,
		EnvVars: []string{"BANDWIDTH_PER_TRC20_TRANSFER"},
	}
	trxPerBandwidthUnitFlag = &cli.StringFlag{
		Name:    "trx-per-bandwidth-unit",
		Usage:   "TRX burned per bandwidth unit when free bandwidth is exhausted",
		Value:   "0.001",
		EnvVars: []string{"TRX_PER_BANDWIDTH_UNIT"},
	}
	trxMinThresholdFlag = &cli.StringFlag{
		Name:    "trx-min-transfer-threshold",
		Usage:   "TRX balances at or below this are not swept",
		Value:   "1",
		EnvVars: []string{"TRX_MIN_TRANSFER_THRESHOLD"},
	}

	chunkSizeFlag = &cli.IntFlag{
		Name:    "scanner-max-chunk-size",
		Usage:   "Blocks fetched and committed per scanner pass",
		Value:   20,
		EnvVars: []string{"BLOCK_SCANNER_MAX_CHUNK_SIZE"},
	}
	scanIntervalFlag = &cli.DurationFlag{
		Name:    "scanner-interval",
		Usage:   "Sleep between scanner polls at the chain head",
		Value:   3 * time.Second,
		EnvVars: []string{"BLOCK_SCANNER_INTERVAL_TIME"},
	}
	lastBlockHintFlag = &cli.Uint64Flag{
		Name:    "scanner-last-block-hint",
		Usage:   "Seed the scan cursor on first run (0 = current head)",
		EnvVars: []string{"BLOCK_SCANNER_LAST_BLOCK_NUM_HINT"},
	}
	statsPeriodFlag = &cli.DurationFlag{
		Name:    "scanner-stats-period",
		Usage:   "Period of the scanner throughput log line",
		Value:   time.Minute,
		EnvVars: []string{"BLOCK_SCANNER_STATS_LOG_PERIOD"},
	}

	balancesRescanFlag = &cli.DurationFlag{
		Name:    "balances-rescan-period",
		Usage:   "How often managed account balances are snapshotted",
		Value:   10 * time.Minute,
		EnvVars: []string{"BALANCES_RESCAN_PERIOD"},
	}
	saveBalancesFlag = &cli.BoolFlag{
		Name:    "save-balances-to-db",
		Usage:   "Persist balance snapshots for the metrics endpoint",
		Value:   true,
		EnvVars: []string{"SAVE_BALANCES_TO_DB"},
	}

	delegationModeFlag = &cli.BoolFlag{
		Name:    "energy-delegation-mode",
		Usage:   "Sweep tokens on delegated energy instead of burning TRX",
		EnvVars: []string{"ENERGY_DELEGATION_MODE"},
	}
	burnForBandwidthFlag = &cli.BoolFlag{
		Name:    "allow-burn-trx-for-bandwidth",
		Usage:   "Let the delegator burn TRX when it lacks free bandwidth",
		EnvVars: []string{"ALLOW_BURN_TRX_FOR_BANDWIDTH"},
	}
	burnOnPayoutFlag = &cli.BoolFlag{
		Name:    "allow-burn-trx-on-payout",
		Usage:   "Let payouts burn TRX for bandwidth",
		EnvVars: []string{"ALLOW_BURN_TRX_ON_PAYOUT"},
	}
	additionalDelegationFlag = &cli.BoolFlag{
		Name:    "allow-additional-delegation",
		Usage:   "Top up a delegation that turned out too small",
		Value:   true,
		EnvVars: []string{"ALLOW_ADDITIONAL_DELEGATION"},
	}
	delegationFactorFlag = &cli.StringFlag{
		Name:    "delegation-factor",
		Usage:   "Safety multiplier on the computed delegation stake",
		Value:   "1.1",
		EnvVars: []string{"DELEGATION_FACTOR"},
	}
	separateEnergyAccountFlag = &cli.BoolFlag{
		Name:    "separate-energy-account",
		Usage:   "Keep staked TRX on a dedicated account instead of the treasury",
		EnvVars: []string{"SEPARATE_ENERGY_ACCOUNT"},
	}
	energyAccountKeyFlag = &cli.StringFlag{
		Name:    "energy-account-public-key",
		Usage:   "Base58 address of an externally managed energy account",
		EnvVars: []string{"ENERGY_ACCOUNT_PUBLIC_KEY"},
	}

	forceEncryptionFlag = &cli.BoolFlag{
		Name:    "force-wallet-encryption",
		Usage:   "Encrypt a plaintext key database on startup",
		EnvVars: []string{"FORCE_WALLET_ENCRYPTION"},
	}

	externalDrainFlag = &cli.StringFlag{
		Name:    "external-drain-config",
		Usage:   "JSON config of the regular-split / AML drain workflows",
		EnvVars: []string{"EXTERNAL_DRAIN_CONFIG"},
	}
	amlWaitFlag = &cli.DurationFlag{
		Name:    "aml-wait-before-api-call",
		Usage:   "Delay between observing a deposit and the first risk check",
		Value:   10 * time.Minute,
		EnvVars: []string{"AML_WAIT_BEFORE_API_CALL"},
	}
	amlUpdateFlag = &cli.DurationFlag{
		Name:    "aml-result-update-period",
		Usage:   "How often pending risk checks are polled",
		Value:   5 * time.Minute,
		EnvVars: []string{"AML_RESULT_UPDATE_PERIOD"},
	}
	amlSweepFlag = &cli.DurationFlag{
		Name:    "aml-sweep-accounts-period",
		Usage:   "How often ready drain payouts are replayed for recovery",
		Value:   30 * time.Minute,
		EnvVars: []string{"AML_SWEEP_ACCOUNTS_PERIOD"},
	}
)

func main() {
	app := &cli.App{
		Name:  "tron-shkeeper",
		Usage: "Tron payment-gateway backend for SHKeeper",
		Flags: []cli.Flag{
			listenFlag, dbPathFlag, networkFlag, verbosityFlag,
			fullnodeURLFlag, fullnodeUserFlag, fullnodePassFlag, multiserverFlag, refreshBestServerFlag,
			shkeeperHostFlag, shkeeperKeyFlag,
			workersFlag, retriesFlag,
			txFeeFlag, txFeeLimitFlag, internalTxFeeFlag,
			bandwidthPerTRXFlag, bandwidthPerTRC20Flag, trxPerBandwidthUnitFlag, trxMinThresholdFlag,
			chunkSizeFlag, scanIntervalFlag, lastBlockHintFlag, statsPeriodFlag,
			balancesRescanFlag, saveBalancesFlag,
			delegationModeFlag, burnForBandwidthFlag, burnOnPayoutFlag, additionalDelegationFlag,
			delegationFactorFlag, separateEnergyAccountFlag, energyAccountKeyFlag,
			forceEncryptionFlag, externalDrainFlag, amlWaitFlag, amlUpdateFlag, amlSweepFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(verbosity int) {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, false))
	glogger.Verbosity(log.FromLegacyLevel(verbosity))
	log.SetDefault(log.NewLogger(glogger))
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	dec := func(flag *cli.StringFlag) (decimal.Decimal, error) {
		v, err := decimal.NewFromString(c.String(flag.Name))
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad %s value %q: %w", flag.Name, c.String(flag.Name), err)
		}
		return v, nil
	}

	cfg := &config.Config{
		Network:                   config.Network(c.String(networkFlag.Name)),
		Database:                  c.String(dbPathFlag.Name),
		FullnodeURL:               c.String(fullnodeURLFlag.Name),
		NodeUsername:              c.String(fullnodeUserFlag.Name),
		NodePassword:              c.String(fullnodePassFlag.Name),
		RefreshBestServerPeriod:   c.Duration(refreshBestServerFlag.Name),
		ShkeeperHost:              c.String(shkeeperHostFlag.Name),
		ShkeeperKey:               c.String(shkeeperKeyFlag.Name),
		ConcurrentMaxWorkers:      c.Int(workersFlag.Name),
		ConcurrentMaxRetries:      c.Int(retriesFlag.Name),
		BalancesRescanPeriod:      c.Duration(balancesRescanFlag.Name),
		SaveBalancesToDB:          c.Bool(saveBalancesFlag.Name),
		BandwidthPerTRXTransfer:   c.Int64(bandwidthPerTRXFlag.Name),
		BandwidthPerTRC20Transfer: c.Int64(bandwidthPerTRC20Flag.Name),
		Scanner: config.ScannerConfig{
			MaxChunkSize:   c.Int(chunkSizeFlag.Name),
			Interval:       c.Duration(scanIntervalFlag.Name),
			LastBlockHint:  c.Uint64(lastBlockHintFlag.Name),
			StatsLogPeriod: c.Duration(statsPeriodFlag.Name),
		},
		Energy: config.EnergyConfig{
			DelegationMode:            c.Bool(delegationModeFlag.Name),
			AllowBurnTRXForBandwidth:  c.Bool(burnForBandwidthFlag.Name),
			AllowBurnTRXOnPayout:      c.Bool(burnOnPayoutFlag.Name),
			AllowAdditionalDelegation: c.Bool(additionalDelegationFlag.Name),
			SeparateEnergyAccount:     c.Bool(separateEnergyAccountFlag.Name),
			EnergyAccountPubKey:       c.String(energyAccountKeyFlag.Name),
		},
		ForceWalletEncryption: c.Bool(forceEncryptionFlag.Name),
		AML: config.AMLConfig{
			WaitBeforeAPICall:   c.Duration(amlWaitFlag.Name),
			ResultUpdatePeriod:  c.Duration(amlUpdateFlag.Name),
			SweepAccountsPeriod: c.Duration(amlSweepFlag.Name),
		},
		Tokens: config.DefaultTokens,
	}
	if cfg.Network != config.Mainnet && cfg.Network != config.Nile {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}

	var err error
	if cfg.TxFee, err = dec(txFeeFlag); err != nil {
		return nil, err
	}
	if cfg.TxFeeLimit, err = dec(txFeeLimitFlag); err != nil {
		return nil, err
	}
	if cfg.InternalTxFee, err = dec(internalTxFeeFlag); err != nil {
		return nil, err
	}
	if cfg.TRXPerBandwidthUnit, err = dec(trxPerBandwidthUnitFlag); err != nil {
		return nil, err
	}
	if cfg.TRXMinTransferThreshold, err = dec(trxMinThresholdFlag); err != nil {
		return nil, err
	}
	if cfg.Energy.DelegationFactor, err = dec(delegationFactorFlag); err != nil {
		return nil, err
	}
	if cfg.Multiserver, err = config.ParseMultiserver(c.String(multiserverFlag.Name)); err != nil {
		return nil, err
	}
	if cfg.ExternalDrain, err = config.ParseExternalDrain(c.String(externalDrainFlag.Name)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	setupLogger(c.Int(verbosityFlag.Name))

	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	servers, err := cfg.Servers()
	if err != nil {
		return err
	}
	conn, err := connmgr.New(servers, db, cfg.RefreshBestServerPeriod)
	if err != nil {
		return err
	}

	kc := keeper.NewClient(cfg.ShkeeperHost, cfg.ShkeeperKey)

	enc := wallet.NewEncryption(kc.Decrypt)
	if err := enc.Setup(ctx, db, cfg.Symbols(), cfg.ForceWalletEncryption); err != nil {
		return fmt.Errorf("wallet encryption setup: %w", err)
	}

	w := wallet.New(cfg, db, conn, enc)
	treasury, err := w.CreateFeeDepositAccount(ctx)
	if err != nil {
		return err
	}
	log.Info("Gateway starting", "network", cfg.Network, "treasury", treasury)

	if cfg.Energy.SeparateEnergyAccount {
		if err := w.EnsureEnergyAccount(ctx, cfg.Energy.EnergyAccountPubKey); err != nil {
			return err
		}
	}

	watch := scanner.NewWatchlist()
	watch.Add(treasury)
	for _, typ := range []store.KeyType{store.KeyOnetime, store.KeyOnlyRead, store.KeyEnergy} {
		addrs, err := db.PublicKeysByType(ctx, typ)
		if err != nil {
			return err
		}
		watch.Seed(addrs)
	}
	log.Info("Watchlist seeded", "accounts", watch.Count())

	sched := tasks.NewScheduler(cfg.ConcurrentMaxWorkers)
	sched.Start(ctx, cfg.ConcurrentMaxWorkers)

	sweeper := sweep.New(cfg, db, conn, w, sched)

	// The drain service intercepts deposits when a workflow is configured;
	// everything else falls through to the regular sweep.
	var deposits scanner.DepositHandler = sweeper
	var drain *aml.Service
	if cfg.ExternalDrain != nil {
		drain = aml.New(cfg, db, w, sched, watch, sweeper)
		deposits = drain
	}

	scan, err := scanner.New(cfg, db, conn, watch, kc, deposits, treasury)
	if err != nil {
		return err
	}

	payouts := payout.New(cfg, db, w, kc)
	server := &http.Server{
		Addr:    c.String(listenFlag.Name),
		Handler: api.New(cfg, db, w, payouts, scan, watch, conn, sched).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(gctx) })
	g.Go(func() error { return scan.Run(gctx) })
	g.Go(func() error { scan.RunStats(gctx); return nil })
	if drain != nil {
		g.Go(func() error { drain.RunRecheckLoop(gctx); return nil })
		g.Go(func() error { drain.RunSweepAccounts(gctx); return nil })
	}
	if cfg.SaveBalancesToDB {
		// In the default drain the rescan also re-dispatches sweeps; with an
		// external drain the AML sweep-accounts job owns recovery.
		resweep := sweeper
		if drain != nil {
			resweep = nil
		}
		g.Go(func() error { return rescanBalances(gctx, cfg, db, w, sched, resweep) })
	}
	g.Go(func() error {
		log.Info("HTTP API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("Gateway stopped")
		return nil
	}
	return err
}

// rescanBalances periodically snapshots every managed account balance into
// the database for the metrics endpoint and the wallet balance route. When a
// sweeper is given it also re-dispatches a sweep pass per symbol, recovering
// balances whose original sweep failed or predates the scan cursor.
func rescanBalances(ctx context.Context, cfg *config.Config, db *store.DB, w *wallet.Wallet, sched *tasks.Scheduler, sweeper *sweep.Orchestrator) error {
	ticker := time.NewTicker(cfg.BalancesRescanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		treasury, err := w.FeeDepositAccount(ctx)
		if err != nil {
			log.Warn("Balance rescan failed", "err", err)
			continue
		}
		onetime, err := db.PublicKeysByType(ctx, store.KeyOnetime)
		if err != nil {
			log.Warn("Balance rescan failed", "err", err)
			continue
		}
		accounts := append([]string{treasury}, onetime...)

		var balances []store.Balance
		failed := false
		for _, symbol := range cfg.Symbols() {
			for _, account := range accounts {
				b, err := w.Balance(ctx, symbol, account)
				if err != nil {
					log.Warn("Balance rescan failed", "symbol", symbol, "account", account, "err", err)
					failed = true
					break
				}
				balances = append(balances, store.Balance{Account: account, Symbol: symbol, Balance: b})
			}
			if failed {
				break
			}
		}
		if failed {
			continue
		}
		if err := db.ReplaceBalances(ctx, balances); err != nil {
			log.Warn("Balance snapshot write failed", "err", err)
			continue
		}
		if sweeper == nil {
			continue
		}
		for _, symbol := range cfg.Symbols() {
			symbol := symbol
			sched.Submit(tasks.Job{
				Name: "sweep-pass",
				Args: []string{symbol},
				Run: func(ctx context.Context) (any, error) {
					return sweeper.SweepAll(ctx, symbol)
				},
			})
		}
	}
}
