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
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// Event is one value transfer extracted from a confirmed transaction,
// denominated in display units.
type Event struct {
	TxID        string
	Symbol      string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber uint64
}

// Parser turns raw transactions into transfer events for the configured
// currencies.
type Parser struct {
	cfg *config.Config
	// contracts maps the bare 20-byte hex of each configured token contract
	// to its symbol, matching the address form of event logs.
	contracts map[string]string
}

// NewParser builds a parser for the configured token registry.
func NewParser(cfg *config.Config) (*Parser, error) {
	contracts := make(map[string]string)
	for _, t := range cfg.NetworkTokens() {
		h, err := tron.AddressToHex(t.ContractAddress)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		contracts[h[2:]] = t.Symbol
	}
	return &Parser{cfg: cfg, contracts: contracts}, nil
}

// ParseTx extracts the transfer events of one transaction. Unhandled
// transaction kinds return ErrUnknownTransactionType, failed executions
// ErrBadContractResult; the scanner skips both.
func (p *Parser) ParseTx(tx *tron.Transaction, info *tron.TransactionInfo) ([]Event, error) {
	if len(tx.RawData.Contract) == 0 {
		return nil, fmt.Errorf("%w: no contract", tron.ErrUnknownTransactionType)
	}
	if tx.Result() != tron.ResultSuccess {
		return nil, fmt.Errorf("%w: %s", tron.ErrBadContractResult, tx.Result())
	}

	contract := tx.RawData.Contract[0]
	switch contract.Type {
	case tron.TransferContract:
		return p.parseNative(tx, contract.Parameter.Value)
	case tron.TriggerSmartContract:
		return p.parseTRC20(tx, contract.Parameter.Value, info)
	default:
		return nil, fmt.Errorf("%w: %s", tron.ErrUnknownTransactionType, contract.Type)
	}
}

func (p *Parser) parseNative(tx *tron.Transaction, v tron.ContractValue) ([]Event, error) {
	if v.Amount <= 0 {
		return nil, fmt.Errorf("%w: zero-amount transfer", tron.ErrUnknownTransactionType)
	}
	return []Event{{
		TxID:   tx.TxID,
		Symbol: config.NativeSymbol,
		From:   v.OwnerAddress,
		To:     v.ToAddress,
		Amount: tron.FromSun(v.Amount),
	}}, nil
}

func (p *Parser) parseTRC20(tx *tron.Transaction, v tron.ContractValue, info *tron.TransactionInfo) ([]Event, error) {
	symbol, err := p.cfg.SymbolByContract(v.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: contract %s", tron.ErrUnknownTransactionType, v.ContractAddress)
	}
	decimals, err := p.cfg.Decimals(symbol)
	if err != nil {
		return nil, err
	}
	if info != nil && info.Receipt.Result != "" && info.Receipt.Result != tron.ResultSuccess {
		return nil, fmt.Errorf("%w: receipt %s", tron.ErrBadContractResult, info.Receipt.Result)
	}

	// Transfer events are authoritative: they cover regular transfers,
	// multisends and transfers initiated by other contracts, in execution
	// order.
	var events []Event
	if info != nil {
		for _, entry := range info.Log {
			ev, ok, err := p.parseTransferLog(tx.TxID, symbol, decimals, entry)
			if err != nil {
				return nil, err
			}
			if ok {
				events = append(events, ev)
			}
		}
	}
	if len(events) > 0 {
		return events, nil
	}

	// No usable log: fall back to transfer(address,uint256) calldata.
	to, raw, err := tron.DecodeTransferData(v.Data)
	if err != nil {
		return nil, err
	}
	return []Event{{
		TxID:   tx.TxID,
		Symbol: symbol,
		From:   v.OwnerAddress,
		To:     to,
		Amount: decimal.NewFromBigInt(raw, -decimals),
	}}, nil
}

func (p *Parser) parseTransferLog(txid, symbol string, decimals int32, entry tron.EventLog) (Event, bool, error) {
	wantSymbol, ok := p.contracts[strings.ToLower(entry.Address)]
	if !ok || wantSymbol != symbol || len(entry.Topics) != 3 || entry.Topics[0] != tron.TransferTopic {
		return Event{}, false, nil
	}
	from, err := tron.TopicToAddress(entry.Topics[1])
	if err != nil {
		return Event{}, false, err
	}
	to, err := tron.TopicToAddress(entry.Topics[2])
	if err != nil {
		return Event{}, false, err
	}
	raw, err := tron.DecodeEventData(entry.Data)
	if err != nil {
		return Event{}, false, err
	}
	return Event{
		TxID:   txid,
		Symbol: symbol,
		From:   from,
		To:     to,
		Amount: decimal.NewFromBigInt(raw, -decimals),
	}, true, nil
}
