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

// Package tron is the chain client: a thin typed wrapper over the full-node
// HTTP API plus the address/ABI/signing primitives the gateway needs.
package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
)

// SunPerTRX is the number of sun in one TRX.
const SunPerTRX = 1_000_000

// ToSun converts a TRX-denominated decimal to sun.
func ToSun(trx decimal.Decimal) int64 {
	return trx.Shift(6).IntPart()
}

// FromSun converts a sun amount to TRX.
func FromSun(sun int64) decimal.Decimal {
	return decimal.New(sun, -6)
}

// Client talks to a single full node. It is stateless and cheap to create;
// the connection manager builds one per call against the currently elected
// endpoint.
type Client struct {
	base     string
	username string
	password string
	hc       *http.Client
	log      log.Logger
}

// NewClient builds a client for the node at rawurl. Credentials embedded in
// the URL are extracted and sent as basic auth.
func NewClient(rawurl string) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("bad fullnode url: %w", err)
	}
	c := &Client{
		hc:  &http.Client{Timeout: 30 * time.Second},
		log: log.New("conn", u.Hostname()),
	}
	if u.User != nil {
		c.username = u.User.Username()
		c.password, _ = u.User.Password()
		u.User = nil
	}
	c.base = strings.TrimRight(u.String(), "/")
	return c, nil
}

func (c *Client) post(ctx context.Context, path string, params, out any) error {
	var body io.Reader
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", path, err)
	}
	return nil
}

// GetNowBlock fetches the current head block.
func (c *Client) GetNowBlock(ctx context.Context) (*Block, error) {
	var block Block
	if err := c.post(ctx, "/wallet/getnowblock", map[string]any{"visible": true}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetLatestBlockNumber returns the head height of the node.
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	block, err := c.GetNowBlock(ctx)
	if err != nil {
		return 0, err
	}
	return block.Number(), nil
}

// GetBlockByNum fetches a block by height.
func (c *Client) GetBlockByNum(ctx context.Context, n uint64) (*Block, error) {
	var block Block
	if err := c.post(ctx, "/wallet/getblockbynum", map[string]any{"num": n, "visible": true}, &block); err != nil {
		return nil, err
	}
	if block.BlockID == "" {
		return nil, fmt.Errorf("block %d not found", n)
	}
	return &block, nil
}

// GetTransactionInfoByBlockNum fetches the execution records (logs included)
// of every transaction in a block.
func (c *Client) GetTransactionInfoByBlockNum(ctx context.Context, n uint64) ([]TransactionInfo, error) {
	var infos []TransactionInfo
	if err := c.post(ctx, "/wallet/gettransactioninfobyblocknum", map[string]any{"num": n, "visible": true}, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// GetNodeInfo fetches the node's self-reported status.
func (c *Client) GetNodeInfo(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.post(ctx, "/wallet/getnodeinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetAccount fetches the on-chain state of an address. Returns
// ErrAddressNotFound for addresses that have never been activated.
func (c *Client) GetAccount(ctx context.Context, addr string) (*Account, error) {
	var acc Account
	if err := c.post(ctx, "/wallet/getaccount", map[string]any{"address": addr, "visible": true}, &acc); err != nil {
		return nil, err
	}
	if acc.Address == "" {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, addr)
	}
	return &acc, nil
}

// GetAccountBalance returns the TRX balance of an address. Unactivated
// accounts read as zero.
func (c *Client) GetAccountBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	acc, err := c.GetAccount(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrAddressNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return FromSun(acc.Balance), nil
}

// GetAccountResource fetches the bandwidth/energy state of an address.
func (c *Client) GetAccountResource(ctx context.Context, addr string) (*AccountResource, error) {
	var res AccountResource
	if err := c.post(ctx, "/wallet/getaccountresource", map[string]any{"address": addr, "visible": true}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTransactionByID fetches a raw transaction.
func (c *Client) GetTransactionByID(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.post(ctx, "/wallet/gettransactionbyid", map[string]any{"value": txid, "visible": true}, &tx); err != nil {
		return nil, err
	}
	if tx.TxID == "" {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	return &tx, nil
}

// GetTransactionInfoByID fetches the execution record of a transaction.
// Returns ErrTxNotFound while the transaction is not yet in a block.
func (c *Client) GetTransactionInfoByID(ctx context.Context, txid string) (*TransactionInfo, error) {
	var info TransactionInfo
	if err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]any{"value": txid, "visible": true}, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	return &info, nil
}

// triggerResult is the envelope of triggersmartcontract and
// triggerconstantcontract responses.
type triggerResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string       `json:"constant_result"`
	EnergyUsed     int64          `json:"energy_used"`
	Transaction    map[string]any `json:"transaction"`
}

func (r *triggerResult) err() error {
	if r.Result.Result {
		return nil
	}
	msg := r.Result.Message
	if decoded, err := hex.DecodeString(msg); err == nil {
		msg = string(decoded)
	}
	return fmt.Errorf("node rejected call: %s %s", r.Result.Code, msg)
}

// TriggerConstantContract performs a read-only contract call.
func (c *Client) TriggerConstantContract(ctx context.Context, owner, contract, selector, parameter string) ([]string, error) {
	params := map[string]any{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"visible":           true,
	}
	var res triggerResult
	if err := c.post(ctx, "/wallet/triggerconstantcontract", params, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	return res.ConstantResult, nil
}

// TRC20BalanceOf reads the raw token balance of an address.
func (c *Client) TRC20BalanceOf(ctx context.Context, contract, owner string) (*big.Int, error) {
	param, err := EncodeBalanceOfParams(owner)
	if err != nil {
		return nil, err
	}
	out, err := c.TriggerConstantContract(ctx, owner, contract, balanceOfFn, param)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty balanceOf result", ErrInsufficientDataBytes)
	}
	return DecodeEventData(out[0])
}

// TRC20Decimals reads the token precision from the contract.
func (c *Client) TRC20Decimals(ctx context.Context, contract string) (int32, error) {
	out, err := c.TriggerConstantContract(ctx, contract, contract, decimalsFn, "")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty decimals result", ErrInsufficientDataBytes)
	}
	v, err := DecodeEventData(out[0])
	if err != nil {
		return 0, err
	}
	return int32(v.Int64()), nil
}

// EstimateEnergy asks the node how much energy a contract call would
// consume.
func (c *Client) EstimateEnergy(ctx context.Context, owner, contract, selector, parameter string) (int64, error) {
	params := map[string]any{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"visible":           true,
	}
	var res struct {
		Result struct {
			Result  bool   `json:"result"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"result"`
		EnergyRequired int64 `json:"energy_required"`
	}
	if err := c.post(ctx, "/wallet/estimateenergy", params, &res); err != nil {
		return 0, err
	}
	if !res.Result.Result {
		msg := res.Result.Message
		if decoded, err := hex.DecodeString(msg); err == nil {
			msg = string(decoded)
		}
		return 0, fmt.Errorf("estimateenergy rejected: %s %s", res.Result.Code, msg)
	}
	return res.EnergyRequired, nil
}

// EstimateTransferEnergy estimates the energy cost of a TRC-20
// transfer(to, amount) issued by owner.
func (c *Client) EstimateTransferEnergy(ctx context.Context, owner, contract, to string, amount *big.Int) (int64, error) {
	param, err := EncodeTransferParams(to, amount)
	if err != nil {
		return 0, err
	}
	return c.EstimateEnergy(ctx, owner, contract, transferFn, param)
}

// buildTx runs an endpoint that returns an unsigned transaction object.
func (c *Client) buildTx(ctx context.Context, path string, params map[string]any) (*BuiltTx, error) {
	params["visible"] = true
	var raw map[string]any
	if err := c.post(ctx, path, params, &raw); err != nil {
		return nil, err
	}
	return newBuiltTx(raw, path)
}

// CreateTransaction builds an unsigned TRX transfer.
func (c *Client) CreateTransaction(ctx context.Context, from, to string, amountSun int64) (*BuiltTx, error) {
	return c.buildTx(ctx, "/wallet/createtransaction", map[string]any{
		"owner_address": from,
		"to_address":    to,
		"amount":        amountSun,
	})
}

// TriggerSmartContract builds an unsigned contract call. permissionID 0 is
// the owner permission; a non-zero id selects an account permission, which
// lets a cooperating account sign for an externally managed one.
func (c *Client) TriggerSmartContract(ctx context.Context, owner, contract, selector, parameter string, feeLimitSun int64, permissionID int) (*BuiltTx, error) {
	params := map[string]any{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"fee_limit":         feeLimitSun,
		"call_value":        0,
		"visible":           true,
	}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	var res triggerResult
	if err := c.post(ctx, "/wallet/triggersmartcontract", params, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	return newBuiltTx(res.Transaction, "/wallet/triggersmartcontract")
}

// BuildTRC20Transfer builds an unsigned transfer(to, amount) call.
func (c *Client) BuildTRC20Transfer(ctx context.Context, owner, contract, to string, amount *big.Int, feeLimitSun int64) (*BuiltTx, error) {
	param, err := EncodeTransferParams(to, amount)
	if err != nil {
		return nil, err
	}
	return c.TriggerSmartContract(ctx, owner, contract, transferFn, param, feeLimitSun, 0)
}

// DelegateResource builds an unsigned resource delegation.
func (c *Client) DelegateResource(ctx context.Context, owner, receiver string, balanceSun int64, resource string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{
		"owner_address":    owner,
		"receiver_address": receiver,
		"balance":          balanceSun,
		"resource":         resource,
		"lock":             false,
	}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/delegateresource", params)
}

// UndelegateResource builds an unsigned resource undelegation.
func (c *Client) UndelegateResource(ctx context.Context, owner, receiver string, balanceSun int64, resource string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{
		"owner_address":    owner,
		"receiver_address": receiver,
		"balance":          balanceSun,
		"resource":         resource,
	}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/undelegateresource", params)
}

// FreezeBalanceV2 builds an unsigned stake operation.
func (c *Client) FreezeBalanceV2(ctx context.Context, owner string, amountSun int64, resource string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{
		"owner_address":  owner,
		"frozen_balance": amountSun,
		"resource":       resource,
	}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/freezebalancev2", params)
}

// UnfreezeBalanceV2 builds an unsigned unstake operation.
func (c *Client) UnfreezeBalanceV2(ctx context.Context, owner string, amountSun int64, resource string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{
		"owner_address":    owner,
		"unfreeze_balance": amountSun,
		"resource":         resource,
	}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/unfreezebalancev2", params)
}

// WithdrawExpireUnfreeze builds an unsigned withdrawal of unstaked TRX whose
// lockup expired.
func (c *Client) WithdrawExpireUnfreeze(ctx context.Context, owner string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{"owner_address": owner}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/withdrawexpireunfreeze", params)
}

// WithdrawBalance builds an unsigned voting-reward withdrawal.
func (c *Client) WithdrawBalance(ctx context.Context, owner string, permissionID int) (*BuiltTx, error) {
	params := map[string]any{"owner_address": owner}
	if permissionID != 0 {
		params["Permission_id"] = permissionID
	}
	return c.buildTx(ctx, "/wallet/withdrawbalance", params)
}

// GetDelegatedResourceV2 lists the live delegations between two accounts.
func (c *Client) GetDelegatedResourceV2(ctx context.Context, from, to string) ([]DelegatedResource, error) {
	var res struct {
		DelegatedResource []DelegatedResource `json:"delegatedResource"`
	}
	params := map[string]any{"fromAddress": from, "toAddress": to, "visible": true}
	if err := c.post(ctx, "/wallet/getdelegatedresourcev2", params, &res); err != nil {
		return nil, err
	}
	return res.DelegatedResource, nil
}

// GetDelegatedResourceAccountIndexV2 lists the delegation counterparties of
// an account.
func (c *Client) GetDelegatedResourceAccountIndexV2(ctx context.Context, addr string) (*DelegatedResourceIndex, error) {
	var res DelegatedResourceIndex
	params := map[string]any{"value": addr, "visible": true}
	if err := c.post(ctx, "/wallet/getdelegatedresourceaccountindexv2", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BroadcastTransaction submits a signed transaction and returns its id.
func (c *Client) BroadcastTransaction(ctx context.Context, tx *BuiltTx) (string, error) {
	var res struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx.Raw, &res); err != nil {
		return "", err
	}
	if !res.Result {
		msg := res.Message
		if decoded, err := hex.DecodeString(msg); err == nil {
			msg = string(decoded)
		}
		return "", fmt.Errorf("broadcast rejected: %s %s", res.Code, msg)
	}
	if res.TxID != "" {
		return res.TxID, nil
	}
	return tx.TxID, nil
}

// WaitForReceipt polls until the transaction lands in a block or the timeout
// expires.
func (c *Client) WaitForReceipt(ctx context.Context, txid string, timeout time.Duration) (*TransactionInfo, error) {
	deadline := time.Now().Add(timeout)
	for {
		info, err := c.GetTransactionInfoByID(ctx, txid)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrTxNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for receipt of %s", txid)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}
