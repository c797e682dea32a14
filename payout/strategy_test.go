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
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func accounts(balances map[string]string) []Account {
	var out []Account
	for _, addr := range []string{"Ttreasury", "Tone1", "Tone2", "Tone3"} {
		if b, ok := balances[addr]; ok {
			out = append(out, Account{Address: addr, Balance: dec(b)})
		}
	}
	return out
}

// destSum folds the planned steps of one destination.
func destSum(steps []Step, dest string) decimal.Decimal {
	var sum decimal.Decimal
	for _, s := range steps {
		if s.To == dest {
			sum = sum.Add(s.Amount)
		}
	}
	return sum
}

func TestGenerateStepsExactMatch(t *testing.T) {
	accs := accounts(map[string]string{"Ttreasury": "1000", "Tone1": "25", "Tone2": "40"})
	steps, err := GenerateSteps(accs, []Destination{{Address: "Tdst", Amount: dec("40")}})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	// The exact-match account wins even though the treasury could cover it.
	assert.Equal(t, "Tone2", steps[0].From)
	assert.True(t, steps[0].Amount.Equal(dec("40")))
}

func TestGenerateStepsSmallestCoveringAccount(t *testing.T) {
	accs := accounts(map[string]string{"Ttreasury": "1000", "Tone1": "50", "Tone2": "90"})
	steps, err := GenerateSteps(accs, []Destination{{Address: "Tdst", Amount: dec("45")}})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Tone1", steps[0].From)
}

func TestGenerateStepsGreedyCombination(t *testing.T) {
	accs := accounts(map[string]string{"Tone1": "50", "Tone2": "30", "Tone3": "25"})
	dests := []Destination{{Address: "Tdst", Amount: dec("95")}}
	steps, err := GenerateSteps(accs, dests)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	// Largest first, and amounts conserve exactly.
	assert.Equal(t, "Tone1", steps[0].From)
	assert.True(t, destSum(steps, "Tdst").Equal(dec("95")))
	// The last leg is partial.
	assert.True(t, steps[2].Amount.Equal(dec("15")))
}

func TestGenerateStepsMultipleDestinations(t *testing.T) {
	accs := accounts(map[string]string{"Ttreasury": "60", "Tone1": "50", "Tone2": "30"})
	dests := []Destination{
		{Address: "TdstA", Amount: dec("50")},
		{Address: "TdstB", Amount: dec("70")},
	}
	steps, err := GenerateSteps(accs, dests)
	require.NoError(t, err)
	assert.True(t, destSum(steps, "TdstA").Equal(dec("50")))
	assert.True(t, destSum(steps, "TdstB").Equal(dec("70")))

	// No account is spent past its balance.
	spent := map[string]decimal.Decimal{}
	for _, s := range steps {
		spent[s.From] = spent[s.From].Add(s.Amount)
	}
	for _, a := range accs {
		assert.True(t, spent[a.Address].LessThanOrEqual(a.Balance), "account %s overspent", a.Address)
	}
}

func TestGenerateStepsInsufficientFunds(t *testing.T) {
	accs := accounts(map[string]string{"Tone1": "10"})
	_, err := GenerateSteps(accs, []Destination{{Address: "Tdst", Amount: dec("11")}})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestGenerateStepsRejectsNonPositiveAmount(t *testing.T) {
	accs := accounts(map[string]string{"Tone1": "10"})
	_, err := GenerateSteps(accs, []Destination{{Address: "Tdst", Amount: dec("0")}})
	assert.Error(t, err)
}

func TestSourcesAndEstimateFee(t *testing.T) {
	steps := []Step{
		{From: "Tone1", To: "TdstA", Amount: dec("5")},
		{From: "Tone2", To: "TdstA", Amount: dec("5")},
		{From: "Tone1", To: "TdstB", Amount: dec("3")},
	}
	assert.Equal(t, []string{"Tone1", "Tone2"}, Sources(steps))

	// Two sources at TX_FEE + 2 headroom each.
	fee := EstimateFee(steps, dec("40"))
	assert.True(t, fee.Equal(dec("84")))
}
