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

package aml

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
)

// ErrCheckPending means the provider has accepted the transaction but has no
// final score yet; the caller retries later.
var ErrCheckPending = errors.New("aml: risk check still pending")

// RiskClient talks to the external risk-scoring provider. Requests are
// form-encoded and authenticated with a per-transaction md5 token over the
// shared key.
type RiskClient struct {
	cfg config.AMLCheck
	hc  *http.Client
}

// NewRiskClient builds a client from the drain credentials.
func NewRiskClient(cfg config.AMLCheck) *RiskClient {
	return &RiskClient{cfg: cfg, hc: &http.Client{Timeout: 30 * time.Second}}
}

// token derives the request token binding the txid to the credentials.
func (c *RiskClient) token(txid string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", txid, c.cfg.AccessKey, c.cfg.AccessID)))
	return fmt.Sprintf("%x", sum)
}

func (c *RiskClient) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := strings.TrimRight(c.cfg.AccessPoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("risk provider %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("risk provider %s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Check registers a transaction for scoring and returns the provider's
// check id.
func (c *RiskClient) Check(ctx context.Context, txid string) (string, error) {
	form := url.Values{
		"hash":      {txid},
		"flow":      {c.cfg.Flow},
		"access_id": {c.cfg.AccessID},
		"token":     {c.token(txid)},
	}
	var res struct {
		UID     string `json:"uid"`
		Result  bool   `json:"result"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/check", form, &res); err != nil {
		return "", err
	}
	if !res.Result || res.UID == "" {
		return "", fmt.Errorf("aml: check of %s rejected: %s", txid, res.Message)
	}
	return res.UID, nil
}

// Recheck fetches the score of a registered check. Returns ErrCheckPending
// while the provider is still working.
func (c *RiskClient) Recheck(ctx context.Context, txid, uid string) (decimal.Decimal, error) {
	form := url.Values{
		"uid":       {uid},
		"access_id": {c.cfg.AccessID},
		"token":     {c.token(txid)},
	}
	var res struct {
		Result    bool            `json:"result"`
		Status    string          `json:"status"`
		RiskScore decimal.Decimal `json:"riskscore"`
		Message   string          `json:"message"`
	}
	if err := c.post(ctx, "/recheck", form, &res); err != nil {
		return decimal.Zero, err
	}
	if !res.Result {
		return decimal.Zero, fmt.Errorf("aml: recheck of %s rejected: %s", uid, res.Message)
	}
	if res.Status != "success" {
		return decimal.Zero, fmt.Errorf("%w: status %q", ErrCheckPending, res.Status)
	}
	if res.RiskScore.LessThan(decimal.Zero) || res.RiskScore.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("aml: score %s of %s is out of [0; 1]", res.RiskScore, uid)
	}
	return res.RiskScore, nil
}
