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
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// BuiltTx is an unsigned transaction as assembled by the node. The raw JSON
// object is kept verbatim so that broadcasting reproduces exactly the bytes
// the txID commits to.
type BuiltTx struct {
	TxID string
	Raw  map[string]any
}

func newBuiltTx(raw map[string]any, path string) (*BuiltTx, error) {
	if raw == nil {
		return nil, fmt.Errorf("%s: node returned no transaction", path)
	}
	if msg, ok := raw["Error"].(string); ok && msg != "" {
		return nil, fmt.Errorf("%s: %s", path, msg)
	}
	txid, ok := raw["txID"].(string)
	if !ok || txid == "" {
		return nil, fmt.Errorf("%s: transaction without txID", path)
	}
	return &BuiltTx{TxID: txid, Raw: raw}, nil
}

// Sign signs the transaction in place. The txID is the sha256 of the
// serialized raw_data, so signing the decoded id is signing the
// transaction.
func (tx *BuiltTx) Sign(key *ecdsa.PrivateKey) error {
	digest, err := hex.DecodeString(tx.TxID)
	if err != nil || len(digest) != 32 {
		return fmt.Errorf("bad txID %q", tx.TxID)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return err
	}
	tx.Raw["signature"] = []string{hex.EncodeToString(sig)}
	return nil
}

// SignAndBroadcast signs a built transaction with the hex private key and
// submits it.
func (c *Client) SignAndBroadcast(ctx context.Context, tx *BuiltTx, privHex string) (string, error) {
	key, err := ParsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	if err := tx.Sign(key); err != nil {
		return "", err
	}
	return c.BroadcastTransaction(ctx, tx)
}
