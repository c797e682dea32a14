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

package payout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds means the managed accounts together cannot cover the
// requested destinations.
var ErrInsufficientFunds = errors.New("payout: not enough funds across accounts")

// Account is one managed source of funds for planning.
type Account struct {
	Address string
	Balance decimal.Decimal
}

// Destination is one requested payout leg.
type Destination struct {
	Address string          `json:"dest"`
	Amount  decimal.Decimal `json:"amount"`
}

// Step is one planned on-chain transfer.
type Step struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// GenerateSteps plans the transfers that satisfy the destinations from the
// given accounts. Per destination it prefers, in order: an account whose
// balance matches the amount exactly (one transfer that also empties the
// source), a single account that covers the amount, and finally a greedy
// combination of the largest remaining balances. Planned amounts are
// conserved exactly: the steps of each destination sum to its amount.
func GenerateSteps(accounts []Account, dests []Destination) ([]Step, error) {
	remaining := make([]Account, len(accounts))
	copy(remaining, accounts)

	var total decimal.Decimal
	for _, a := range remaining {
		total = total.Add(a.Balance)
	}
	var requested decimal.Decimal
	for _, d := range dests {
		if d.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("payout: non-positive amount %s for %s", d.Amount, d.Address)
		}
		requested = requested.Add(d.Amount)
	}
	if total.LessThan(requested) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, total, requested)
	}

	var steps []Step
	for _, dest := range dests {
		planned, err := planOne(remaining, dest)
		if err != nil {
			return nil, err
		}
		steps = append(steps, planned...)
		for _, s := range planned {
			for i := range remaining {
				if remaining[i].Address == s.From {
					remaining[i].Balance = remaining[i].Balance.Sub(s.Amount)
				}
			}
		}
	}
	return steps, nil
}

func planOne(accounts []Account, dest Destination) ([]Step, error) {
	// Exact match empties a deposit address in a single transfer.
	for _, a := range accounts {
		if a.Balance.Equal(dest.Amount) {
			return []Step{{From: a.Address, To: dest.Address, Amount: dest.Amount}}, nil
		}
	}
	// Smallest single account that covers the amount.
	best := -1
	for i, a := range accounts {
		if a.Balance.GreaterThanOrEqual(dest.Amount) {
			if best == -1 || a.Balance.LessThan(accounts[best].Balance) {
				best = i
			}
		}
	}
	if best != -1 {
		return []Step{{From: accounts[best].Address, To: dest.Address, Amount: dest.Amount}}, nil
	}
	// Combine balances largest-first until the amount is covered.
	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Balance.GreaterThan(sorted[j].Balance)
	})
	var steps []Step
	left := dest.Amount
	for _, a := range sorted {
		if left.Sign() <= 0 {
			break
		}
		if a.Balance.Sign() <= 0 {
			continue
		}
		take := decimal.Min(a.Balance, left)
		steps = append(steps, Step{From: a.Address, To: dest.Address, Amount: take})
		left = left.Sub(take)
	}
	if left.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s short for %s", ErrInsufficientFunds, left, dest.Address)
	}
	return steps, nil
}

// Sources returns the distinct source accounts of a plan, in first-use
// order.
func Sources(steps []Step) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range steps {
		if !seen[s.From] {
			seen[s.From] = true
			out = append(out, s.From)
		}
	}
	return out
}

// EstimateFee returns the worst-case TRX cost of executing a plan: every
// source account is seeded with the configured fee plus 2 TRX of headroom
// for activation and bandwidth.
func EstimateFee(steps []Step, txFee decimal.Decimal) decimal.Decimal {
	n := int64(len(Sources(steps)))
	return txFee.Add(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(n))
}
