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

package tron

import (
	"fmt"
	"strconv"
	"strings"
)

// Wire types of the full-node HTTP API. Only the fields the gateway reads
// are mapped; requests are issued with visible=true so account addresses
// arrive in base58check, while event log addresses and topics stay hex.

// Contract types appearing in raw transactions.
const (
	TransferContract     = "TransferContract"
	TriggerSmartContract = "TriggerSmartContract"
)

// ResultSuccess is the contractRet / receipt result of a successful
// execution.
const ResultSuccess = "SUCCESS"

// BlockHeader carries the consensus fields of a block.
type BlockHeader struct {
	RawData struct {
		Number    uint64 `json:"number"`
		Timestamp int64  `json:"timestamp"`
	} `json:"raw_data"`
}

// Block is one block with its transactions.
type Block struct {
	BlockID      string        `json:"blockID"`
	BlockHeader  BlockHeader   `json:"block_header"`
	Transactions []Transaction `json:"transactions"`
}

// Number returns the block height.
func (b *Block) Number() uint64 { return b.BlockHeader.RawData.Number }

// Timestamp returns the block time in unix seconds.
func (b *Block) Timestamp() int64 { return b.BlockHeader.RawData.Timestamp / 1000 }

// ContractValue is the union of parameter values across the contract types
// the gateway handles.
type ContractValue struct {
	OwnerAddress    string `json:"owner_address"`
	ToAddress       string `json:"to_address"`
	ContractAddress string `json:"contract_address"`
	Amount          int64  `json:"amount"`
	Data            string `json:"data"`
	CallValue       int64  `json:"call_value"`
}

// Contract is one contract invocation inside a raw transaction.
type Contract struct {
	Type      string `json:"type"`
	Parameter struct {
		Value   ContractValue `json:"value"`
		TypeURL string        `json:"type_url"`
	} `json:"parameter"`
}

// Transaction is one raw transaction as returned by getblockbynum.
type Transaction struct {
	TxID string `json:"txID"`
	Ret  []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract   []Contract `json:"contract"`
		Expiration int64      `json:"expiration"`
		Timestamp  int64      `json:"timestamp"`
		FeeLimit   int64      `json:"fee_limit"`
	} `json:"raw_data"`
	Signature []string `json:"signature"`
}

// Result returns the execution result of the first contract, or an empty
// string for unconfirmed transactions.
func (t *Transaction) Result() string {
	if len(t.Ret) == 0 {
		return ""
	}
	return t.Ret[0].ContractRet
}

// EventLog is one log entry of a smart-contract execution. Address is the
// bare 20-byte hex form without the 0x41 prefix.
type EventLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// TransactionInfo is the execution record of a transaction
// (gettransactioninfobyid / gettransactioninfobyblocknum).
type TransactionInfo struct {
	ID             string     `json:"id"`
	Fee            int64      `json:"fee"`
	BlockNumber    uint64     `json:"blockNumber"`
	BlockTimeStamp int64      `json:"blockTimeStamp"`
	ContractResult []string   `json:"contractResult"`
	Receipt        struct {
		Result           string `json:"result"`
		EnergyUsageTotal int64  `json:"energy_usage_total"`
		NetUsage         int64  `json:"net_usage"`
		NetFee           int64  `json:"net_fee"`
	} `json:"receipt"`
	Log        []EventLog `json:"log"`
	Result     string     `json:"result"`
	ResMessage string     `json:"resMessage"`
}

// FrozenEntry is one stake-2.0 position. An empty Type means BANDWIDTH.
type FrozenEntry struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// UnfrozenEntry is one stake awaiting withdrawal after unfreezing.
type UnfrozenEntry struct {
	Type               string `json:"type"`
	UnfreezeAmount     int64  `json:"unfreeze_amount"`
	UnfreezeExpireTime int64  `json:"unfreeze_expire_time"`
}

// Account is the on-chain state of an address.
type Account struct {
	Address    string          `json:"address"`
	Balance    int64           `json:"balance"`
	CreateTime int64           `json:"create_time"`
	Allowance  int64           `json:"allowance"`
	FrozenV2   []FrozenEntry   `json:"frozenV2"`
	UnfrozenV2 []UnfrozenEntry `json:"unfrozenV2"`
}

// Frozen returns the total sun staked for the resource.
func (a *Account) Frozen(resource string) int64 {
	var sum int64
	for _, f := range a.FrozenV2 {
		typ := f.Type
		if typ == "" {
			typ = ResourceBandwidth
		}
		if typ == resource {
			sum += f.Amount
		}
	}
	return sum
}

// Unfreezing returns the total sun in the unfreezing queue and the sun
// already past its expire time at the given unix-milli timestamp.
func (a *Account) Unfreezing(nowMillis int64) (queued, withdrawable int64) {
	for _, u := range a.UnfrozenV2 {
		queued += u.UnfreezeAmount
		if u.UnfreezeExpireTime <= nowMillis {
			withdrawable += u.UnfreezeAmount
		}
	}
	return queued, withdrawable
}

// AccountResource is the bandwidth/energy state of an address.
type AccountResource struct {
	FreeNetLimit      int64 `json:"freeNetLimit"`
	FreeNetUsed       int64 `json:"freeNetUsed"`
	NetLimit          int64 `json:"NetLimit"`
	NetUsed           int64 `json:"NetUsed"`
	EnergyLimit       int64 `json:"EnergyLimit"`
	EnergyUsed        int64 `json:"EnergyUsed"`
	TotalEnergyLimit  int64 `json:"TotalEnergyLimit"`
	TotalEnergyWeight int64 `json:"TotalEnergyWeight"`
}

// FreeBandwidth returns the remaining free (non-staked) bandwidth.
func (r *AccountResource) FreeBandwidth() int64 {
	return r.FreeNetLimit - r.FreeNetUsed
}

// AvailableEnergy returns the remaining energy of the account.
func (r *AccountResource) AvailableEnergy() int64 {
	return r.EnergyLimit - r.EnergyUsed
}

// NodeInfo is the self-reported state of a full node. Block is the raw
// "Num:<height>,ID:<hash>" string.
type NodeInfo struct {
	Block          string `json:"block"`
	ConfigNodeInfo struct {
		CodeVersion string `json:"codeVersion"`
	} `json:"configNodeInfo"`
}

// HeadBlockNumber parses the head height out of the Block field.
func (n *NodeInfo) HeadBlockNumber() (uint64, error) {
	for _, part := range strings.Split(n.Block, ",") {
		if rest, ok := strings.CutPrefix(part, "Num:"); ok {
			return strconv.ParseUint(rest, 10, 64)
		}
	}
	return 0, fmt.Errorf("cannot parse head block from %q", n.Block)
}

// DelegatedResource is one delegation edge between two accounts.
type DelegatedResource struct {
	From                     string `json:"from"`
	To                       string `json:"to"`
	FrozenBalanceForEnergy   int64  `json:"frozen_balance_for_energy"`
	FrozenBalanceForBandwidth int64 `json:"frozen_balance_for_bandwidth"`
}

// DelegatedResourceIndex lists the counterparties of an account's
// delegations.
type DelegatedResourceIndex struct {
	Account      string   `json:"account"`
	FromAccounts []string `json:"fromAccounts"`
	ToAccounts   []string `json:"toAccounts"`
}

// Resource codes accepted by the staking endpoints.
const (
	ResourceEnergy    = "ENERGY"
	ResourceBandwidth = "BANDWIDTH"
)
