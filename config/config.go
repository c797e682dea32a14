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

// Package config holds the typed runtime configuration of the gateway: chain
// endpoints, scanner tuning, fee policy, the token registry and the optional
// external drain (AML) setup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Network selects the chain the gateway operates on. The token registry is
// keyed by network, so a symbol resolves to different contracts on main and
// nile.
type Network string

const (
	Mainnet Network = "main"
	Nile    Network = "nile"
)

// NativeSymbol is the symbol of the chain's native currency. Native amounts
// are denominated in sun on the wire (1 TRX = 1e6 sun).
const NativeSymbol = "TRX"

// Fullnode is one upstream endpoint of the connection manager.
type Fullnode struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ScannerConfig tunes the block scanner pipeline.
type ScannerConfig struct {
	// MaxChunkSize bounds the number of blocks processed per commit and
	// sizes the scan worker pool.
	MaxChunkSize int
	// Interval is the sleep between polls when the chain head has not
	// advanced.
	Interval time.Duration
	// LastBlockHint seeds the cursor on the very first run. Zero means
	// "start from the current chain head".
	LastBlockHint uint64
	// StatsLogPeriod is the period of the stats reporter thread.
	StatsLogPeriod time.Duration
}

// EnergyConfig controls the energy-delegation sweep mode.
type EnergyConfig struct {
	DelegationMode            bool
	AllowBurnTRXForBandwidth  bool
	AllowBurnTRXOnPayout      bool
	AllowAdditionalDelegation bool
	// DelegationFactor is a safety multiplier applied to the computed
	// stake size before delegating.
	DelegationFactor decimal.Decimal
	// SeparateEnergyAccount keeps staked TRX on a dedicated account
	// instead of the treasury.
	SeparateEnergyAccount bool
	// EnergyAccountPubKey is the base58 address of an externally managed
	// energy account. Its transactions are signed by the treasury through
	// Tron account permissions.
	EnergyAccountPubKey string
}

// AMLConfig tunes the AML workflow timers.
type AMLConfig struct {
	// WaitBeforeAPICall delays the first risk-score request after a
	// deposit is observed, giving the risk provider time to index the tx.
	WaitBeforeAPICall   time.Duration
	ResultUpdatePeriod  time.Duration
	SweepAccountsPeriod time.Duration
}

// Config is the full runtime configuration. It is assembled once in main from
// CLI flags and environment variables and passed to constructors; nothing
// reads the environment after startup.
type Config struct {
	Network Network

	Database string

	FullnodeURL  string
	NodeUsername string
	NodePassword string
	Multiserver  []Fullnode
	// RefreshBestServerPeriod is the period of the best-server election
	// loop.
	RefreshBestServerPeriod time.Duration

	ShkeeperHost string
	ShkeeperKey  string

	ConcurrentMaxWorkers int
	ConcurrentMaxRetries int

	BalancesRescanPeriod time.Duration
	SaveBalancesToDB     bool

	// TxFee is seeded to every signing account before a payout. It covers
	// bandwidth, energy and activation.
	TxFee decimal.Decimal
	// TxFeeLimit caps the TRX a single contract call may burn for
	// resources.
	TxFeeLimit decimal.Decimal
	// InternalTxFee is sent from the treasury to a onetime account before
	// a burn-mode TRC-20 sweep.
	InternalTxFee decimal.Decimal

	BandwidthPerTRXTransfer   int64
	BandwidthPerTRC20Transfer int64
	TRXPerBandwidthUnit       decimal.Decimal
	TRXMinTransferThreshold   decimal.Decimal

	Scanner ScannerConfig
	Energy  EnergyConfig

	ForceWalletEncryption bool

	ExternalDrain *ExternalDrain
	AML           AMLConfig

	Tokens []Token
}

// Servers returns the fullnode list the connection manager should use:
// MULTISERVER_CONFIG_JSON when present, otherwise the single FULLNODE_URL
// with the node credentials embedded.
func (c *Config) Servers() ([]Fullnode, error) {
	if len(c.Multiserver) > 0 {
		return c.Multiserver, nil
	}
	if c.FullnodeURL == "" {
		return nil, errors.New("no FULLNODE_URL or MULTISERVER_CONFIG_JSON are set")
	}
	u, err := url.Parse(c.FullnodeURL)
	if err != nil {
		return nil, fmt.Errorf("bad FULLNODE_URL: %w", err)
	}
	if c.NodeUsername != "" {
		u.User = url.UserPassword(c.NodeUsername, c.NodePassword)
	}
	return []Fullnode{{Name: u.Hostname(), URL: u.String()}}, nil
}

// ParseMultiserver decodes the MULTISERVER_CONFIG_JSON value.
func ParseMultiserver(raw string) ([]Fullnode, error) {
	if raw == "" {
		return nil, nil
	}
	var servers []Fullnode
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, fmt.Errorf("bad MULTISERVER_CONFIG_JSON: %w", err)
	}
	for _, s := range servers {
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("bad MULTISERVER_CONFIG_JSON entry: %+v", s)
		}
	}
	return servers, nil
}
