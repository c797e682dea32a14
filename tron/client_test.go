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
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubNode serves canned responses per endpoint path and records the last
// request body for assertions.
type stubNode struct {
	*httptest.Server
	responses map[string]string
	lastBody  map[string]map[string]any
	lastAuth  string
}

func newStubNode(t *testing.T) *stubNode {
	s := &stubNode{
		responses: make(map[string]string),
		lastBody:  make(map[string]map[string]any),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		s.lastBody[r.URL.Path] = body
		resp, ok := s.responses[r.URL.Path]
		if !ok {
			t.Fatalf("unexpected request to %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(s.Close)
	return s
}

func TestClientBasicAuthFromURL(t *testing.T) {
	node := newStubNode(t)
	node.responses["/wallet/getnowblock"] = `{"blockID":"abc","block_header":{"raw_data":{"number":100,"timestamp":1700000000000}}}`

	withCreds := "http://scanner:sekret@" + node.Listener.Addr().String()
	c, err := NewClient(withCreds)
	require.NoError(t, err)

	n, err := c.GetLatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
	assert.Equal(t, "Basic c2Nhbm5lcjpzZWtyZXQ=", node.lastAuth)
}

func TestGetBlockByNum(t *testing.T) {
	node := newStubNode(t)
	node.responses["/wallet/getblockbynum"] = `{
		"blockID": "00000000030e9da3",
		"block_header": {"raw_data": {"number": 51289507, "timestamp": 1700000003000}},
		"transactions": [{
			"txID": "deadbeef",
			"ret": [{"contractRet": "SUCCESS"}],
			"raw_data": {"contract": [{
				"type": "TransferContract",
				"parameter": {"value": {"owner_address": "Tfrom", "to_address": "Tto", "amount": 5000000}}
			}]}
		}]
	}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	b, err := c.GetBlockByNum(context.Background(), 51289507)
	require.NoError(t, err)
	assert.Equal(t, uint64(51289507), b.Number())
	assert.Equal(t, int64(1700000003), b.Timestamp())
	require.Len(t, b.Transactions, 1)

	tx := b.Transactions[0]
	assert.Equal(t, ResultSuccess, tx.Result())
	assert.Equal(t, TransferContract, tx.RawData.Contract[0].Type)
	assert.Equal(t, int64(5000000), tx.RawData.Contract[0].Parameter.Value.Amount)

	// visible must be set so addresses come back in base58.
	assert.Equal(t, true, node.lastBody["/wallet/getblockbynum"]["visible"])

	node.responses["/wallet/getblockbynum"] = `{}`
	_, err = c.GetBlockByNum(context.Background(), 99999999)
	assert.Error(t, err)
}

func TestGetAccount(t *testing.T) {
	node := newStubNode(t)
	c, err := NewClient(node.URL)
	require.NoError(t, err)

	node.responses["/wallet/getaccount"] = `{"address":"` + usdtBase58 + `","balance":1500000}`
	acc, err := c.GetAccount(context.Background(), usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), acc.Balance)

	bal, err := c.GetAccountBalance(context.Background(), usdtBase58)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.5")))

	// Unactivated accounts come back as an empty object.
	node.responses["/wallet/getaccount"] = `{}`
	_, err = c.GetAccount(context.Background(), usdtBase58)
	assert.ErrorIs(t, err, ErrAddressNotFound)

	bal, err = c.GetAccountBalance(context.Background(), usdtBase58)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestTRC20BalanceOf(t *testing.T) {
	node := newStubNode(t)
	node.responses["/wallet/triggerconstantcontract"] = `{
		"result": {"result": true},
		"constant_result": ["0000000000000000000000000000000000000000000000000000000049890700"]
	}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	v, err := c.TRC20BalanceOf(context.Background(), usdtBase58, usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, int64(1_234_000_000), v.Int64())

	body := node.lastBody["/wallet/triggerconstantcontract"]
	assert.Equal(t, balanceOfFn, body["function_selector"])
}

func TestTriggerSmartContractRejected(t *testing.T) {
	node := newStubNode(t)
	msg := hex.EncodeToString([]byte("contract validate error"))
	node.responses["/wallet/triggersmartcontract"] = `{
		"result": {"result": false, "code": "CONTRACT_VALIDATE_ERROR", "message": "` + msg + `"}
	}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	_, err = c.TriggerSmartContract(context.Background(), usdtBase58, usdtBase58, transferFn, "", 20_000_000, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract validate error")
}

func TestSignAndBroadcast(t *testing.T) {
	node := newStubNode(t)
	txid := "0a3b5c0000000000000000000000000000000000000000000000000000000000"
	node.responses["/wallet/createtransaction"] = `{"txID":"` + txid + `","raw_data":{"contract":[]}}`
	node.responses["/wallet/broadcasttransaction"] = `{"result": true, "txid": "` + txid + `"}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	tx, err := c.CreateTransaction(context.Background(), "Tfrom", "Tto", 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, txid, tx.TxID)

	priv, _, err := GenerateKey()
	require.NoError(t, err)

	got, err := c.SignAndBroadcast(context.Background(), tx, priv)
	require.NoError(t, err)
	assert.Equal(t, txid, got)

	// The broadcast body must carry the signature over the txID digest.
	sent := node.lastBody["/wallet/broadcasttransaction"]
	sigs, ok := sent["signature"].([]any)
	require.True(t, ok)
	require.Len(t, sigs, 1)

	sig, err := hex.DecodeString(sigs[0].(string))
	require.NoError(t, err)
	digest, _ := hex.DecodeString(txid)
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)

	wantAddr, err := AddressFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, wantAddr, PubkeyToAddress(*pub))
}

func TestBroadcastRejected(t *testing.T) {
	node := newStubNode(t)
	msg := hex.EncodeToString([]byte("Tapos check error"))
	node.responses["/wallet/broadcasttransaction"] = `{"result": false, "code": "TAPOS_ERROR", "message": "` + msg + `"}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	tx := &BuiltTx{TxID: "deadbeef", Raw: map[string]any{"txID": "deadbeef"}}
	_, err = c.BroadcastTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tapos check error")
}

func TestNodeInfoHeadBlockNumber(t *testing.T) {
	node := newStubNode(t)
	node.responses["/wallet/getnodeinfo"] = `{
		"block": "Num:51289507,ID:00000000030e9da3",
		"configNodeInfo": {"codeVersion": "4.7.4"}
	}`

	c, err := NewClient(node.URL)
	require.NoError(t, err)

	info, err := c.GetNodeInfo(context.Background())
	require.NoError(t, err)

	head, err := info.HeadBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(51289507), head)
	assert.Equal(t, "4.7.4", info.ConfigNodeInfo.CodeVersion)
}

func TestSunConversions(t *testing.T) {
	assert.Equal(t, int64(5_000_000), ToSun(decimal.RequireFromString("5")))
	assert.Equal(t, int64(1_100_000), ToSun(decimal.RequireFromString("1.1")))
	assert.True(t, FromSun(5_000_000).Equal(decimal.RequireFromString("5")))
	assert.Equal(t, "0.000001", FromSun(1).String())
}
