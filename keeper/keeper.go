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

// Package keeper is the client of the upstream payment processor: deposit
// and payout notifications flow to it, wallet decryption passphrases flow
// from it.
package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotificationFailed is returned when the processor does not acknowledge
// a notification with status success. The scanner retries the whole chunk on
// it.
var ErrNotificationFailed = errors.New("keeper: notification not accepted")

// authHeader carries the shared backend key on every request.
const authHeader = "X-Shkeeper-Backend-Key"

// Client talks to one processor instance.
type Client struct {
	host string
	key  string
	hc   *http.Client
}

// NewClient builds a client for the processor at host (host[:port], no
// scheme).
func NewClient(host, key string) *Client {
	return &Client{
		host: strings.TrimRight(host, "/"),
		key:  key,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type ackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.host+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(authHeader, c.key)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("keeper %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keeper %s: unexpected status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// WalletNotify reports one observed deposit transaction. Anything but a
// success acknowledgement is ErrNotificationFailed so the caller can retry.
func (c *Client) WalletNotify(ctx context.Context, symbol, txid string) error {
	var ack ackResponse
	path := fmt.Sprintf("/api/v1/walletnotify/%s/%s", symbol, txid)
	if err := c.call(ctx, http.MethodPost, path, nil, &ack); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	if ack.Status != "success" {
		return fmt.Errorf("%w: status %q %s", ErrNotificationFailed, ack.Status, ack.Message)
	}
	return nil
}

// PayoutResult is the outcome of one payout destination, as reported to the
// processor.
type PayoutResult struct {
	Dest    string   `json:"dest"`
	Amount  string   `json:"amount"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	TxIDs   []string `json:"txids"`
}

// PayoutNotify reports the results of a payout batch.
func (c *Client) PayoutNotify(ctx context.Context, symbol string, results []PayoutResult) error {
	var ack ackResponse
	path := fmt.Sprintf("/api/v1/payoutnotify/%s", symbol)
	if err := c.call(ctx, http.MethodPost, path, results, &ack); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	if ack.Status != "success" {
		return fmt.Errorf("%w: status %q %s", ErrNotificationFailed, ack.Status, ack.Message)
	}
	return nil
}

// Persistent encryption statuses reported on a decrypt poll.
const (
	EncryptionDisabled = "disabled"
	EncryptionEnabled  = "enabled"
	EncryptionPending  = "pending"
)

// RuntimeReady is the runtime status that means the passphrase is available.
const RuntimeReady = "success"

// DecryptSettings is the processor's answer to a decrypt poll. Key carries
// the passphrase only when PersistentStatus is enabled and RuntimeStatus is
// RuntimeReady.
type DecryptSettings struct {
	PersistentStatus string `json:"persistent_status"`
	RuntimeStatus    string `json:"runtime_status"`
	Key              string `json:"key"`
}

// Decrypt asks the processor for the wallet encryption settings of a symbol.
func (c *Client) Decrypt(ctx context.Context, symbol string) (*DecryptSettings, error) {
	var settings DecryptSettings
	path := fmt.Sprintf("/api/v1/%s/decrypt", symbol)
	if err := c.call(ctx, http.MethodGet, path, nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
