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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// External drain configuration (EXTERNAL_DRAIN_CONFIG). Incoming deposits are
// split to external addresses either by a fixed ratio table (regular split)
// or by a table selected from the deposit's AML risk score.

const (
	StateEnabled  = "enabled"
	StateDisabled = "disabled"
)

// SplitAddress is one leg of a split: destination address and its share of
// the deposit. Order matters: the residual after all earlier legs goes to the
// last address, so amounts always conserve exactly.
type SplitAddress struct {
	Address string
	Ratio   decimal.Decimal
}

// SplitTable is an ordered address → ratio table. JSON objects are decoded
// preserving key order, matching the drain semantics above.
type SplitTable []SplitAddress

// UnmarshalJSON decodes a JSON object keeping the key order of the document.
func (t *SplitTable) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("split table must be a JSON object")
	}
	var out SplitTable
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return fmt.Errorf("split ratio for %s: %w", key, err)
		}
		ratio, err := decimal.NewFromString(num.String())
		if err != nil {
			return fmt.Errorf("split ratio for %s: %w", key, err)
		}
		out = append(out, SplitAddress{Address: key, Ratio: ratio})
	}
	*t = out
	return nil
}

func (t SplitTable) validate() error {
	if len(t) == 0 {
		return errors.New("split table is empty")
	}
	sum := decimal.Zero
	for _, e := range t {
		if e.Ratio.LessThanOrEqual(decimal.Zero) || e.Ratio.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("split ratio %s for %s is out of (0; 1]", e.Ratio, e.Address)
		}
		sum = sum.Add(e.Ratio)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("sum of split ratios is %s, should be 1", sum)
	}
	return nil
}

// RegularSplitCrypto configures the fixed split of one symbol.
type RegularSplitCrypto struct {
	Addresses SplitTable `json:"addresses"`
}

// RegularSplit is the non-scored drain workflow.
type RegularSplit struct {
	State   string                        `json:"state"`
	Cryptos map[string]RegularSplitCrypto `json:"cryptos"`
}

// Enabled reports whether the workflow applies to the symbol.
func (r RegularSplit) Enabled(symbol string) bool {
	if r.State != StateEnabled {
		return false
	}
	_, ok := r.Cryptos[symbol]
	return ok
}

// RiskScore is one named score interval with its split table.
type RiskScore struct {
	MinValue  decimal.Decimal `json:"min_value"`
	MaxValue  decimal.Decimal `json:"max_value"`
	Addresses SplitTable      `json:"addresses"`
}

// Contains reports whether the score falls into the interval (inclusive on
// both ends, matching the original rule tables).
func (r RiskScore) Contains(score decimal.Decimal) bool {
	return score.GreaterThanOrEqual(r.MinValue) && score.LessThanOrEqual(r.MaxValue)
}

// AMLCrypto configures the scored split of one symbol.
type AMLCrypto struct {
	MinCheckAmount decimal.Decimal      `json:"min_check_amount"`
	RiskScores     map[string]RiskScore `json:"risk_scores"`
}

// AMLCheck is the risk-scored drain workflow and its provider credentials.
type AMLCheck struct {
	State       string               `json:"state"`
	AccessID    string               `json:"access_id"`
	AccessKey   string               `json:"access_key"`
	AccessPoint string               `json:"access_point"`
	Flow        string               `json:"flow"`
	Cryptos     map[string]AMLCrypto `json:"cryptos"`
}

// Enabled reports whether the workflow applies to the symbol.
func (a AMLCheck) Enabled(symbol string) bool {
	if a.State != StateEnabled {
		return false
	}
	_, ok := a.Cryptos[symbol]
	return ok
}

// ExternalDrain is the root of the EXTERNAL_DRAIN_CONFIG document.
type ExternalDrain struct {
	RegularSplit RegularSplit `json:"regular_split"`
	AMLCheck     AMLCheck     `json:"aml_check"`
}

// ParseExternalDrain decodes and validates an EXTERNAL_DRAIN_CONFIG value.
// An empty value yields nil (drain disabled).
func ParseExternalDrain(raw string) (*ExternalDrain, error) {
	if raw == "" {
		return nil, nil
	}
	var cfg ExternalDrain
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("bad EXTERNAL_DRAIN_CONFIG: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bad EXTERNAL_DRAIN_CONFIG: %w", err)
	}
	return &cfg, nil
}

// Validate checks the structural invariants: at least one workflow enabled,
// every split table sums to 1, and every risk-score set covers [0; 1].
func (d *ExternalDrain) Validate() error {
	amlOn := d.AMLCheck.State == StateEnabled
	regularOn := d.RegularSplit.State == StateEnabled
	if !amlOn && !regularOn {
		return errors.New("at least one workflow should be enabled")
	}
	for symbol, c := range d.RegularSplit.Cryptos {
		if err := c.Addresses.validate(); err != nil {
			return fmt.Errorf("regular_split %s: %w", symbol, err)
		}
	}
	for symbol, c := range d.AMLCheck.Cryptos {
		if len(c.RiskScores) == 0 {
			return fmt.Errorf("aml_check %s: no risk scores", symbol)
		}
		intervals := make([]RiskScore, 0, len(c.RiskScores))
		for name, rs := range c.RiskScores {
			if rs.MinValue.GreaterThan(rs.MaxValue) {
				return fmt.Errorf("aml_check %s %s: min > max", symbol, name)
			}
			if err := rs.Addresses.validate(); err != nil {
				return fmt.Errorf("aml_check %s %s: %w", symbol, name, err)
			}
			intervals = append(intervals, rs)
		}
		sort.Slice(intervals, func(i, j int) bool {
			return intervals[i].MinValue.LessThan(intervals[j].MinValue)
		})
		if !intervals[0].MinValue.IsZero() || !intervals[len(intervals)-1].MaxValue.Equal(decimal.NewFromInt(1)) {
			return fmt.Errorf("aml_check %s: risk scores should cover [0; 1], got [%s; %s]",
				symbol, intervals[0].MinValue, intervals[len(intervals)-1].MaxValue)
		}
	}
	return nil
}

// MatchRiskScore finds the interval containing the score for a symbol.
// The second return is the interval name, for logging.
func (d *ExternalDrain) MatchRiskScore(symbol string, score decimal.Decimal) (RiskScore, string, bool) {
	c, ok := d.AMLCheck.Cryptos[symbol]
	if !ok {
		return RiskScore{}, "", false
	}
	// Deterministic pick when intervals share a boundary score.
	names := make([]string, 0, len(c.RiskScores))
	for name := range c.RiskScores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if rs := c.RiskScores[name]; rs.Contains(score) {
			return rs, name, true
		}
	}
	return RiskScore{}, "", false
}
