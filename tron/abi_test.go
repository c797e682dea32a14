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
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferTopicValue(t *testing.T) {
	// The canonical ERC-20/TRC-20 Transfer event signature hash.
	assert.Equal(t, "ddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", TransferTopic)
}

func TestEncodeTransferParams(t *testing.T) {
	params, err := EncodeTransferParams(usdtBase58, big.NewInt(1_234_000_000))
	require.NoError(t, err)
	assert.Equal(t,
		"000000000000000000000000"+usdtHex[2:]+
			"0000000000000000000000000000000000000000000000000000000049890700",
		params)
}

func TestEncodeTransferParamsRejectsNegative(t *testing.T) {
	_, err := EncodeTransferParams(usdtBase58, big.NewInt(-1))
	assert.Error(t, err)
}

func TestDecodeEventData(t *testing.T) {
	v, err := DecodeEventData("0000000000000000000000000000000000000000000000000000000049890700")
	require.NoError(t, err)
	assert.Equal(t, int64(1_234_000_000), v.Int64())

	// Short payload.
	_, err = DecodeEventData("49890700")
	assert.ErrorIs(t, err, ErrInsufficientDataBytes)

	// Extra words must be all zero.
	_, err = DecodeEventData(strings.Repeat("00", 63) + "01" + strings.Repeat("00", 31) + "05")
	assert.ErrorIs(t, err, ErrNonEmptyPaddingBytes)
}

func TestDecodeTransferData(t *testing.T) {
	calldata := TransferSelector +
		"000000000000000000000000" + usdtHex[2:] +
		"00000000000000000000000000000000000000000000000000000000004c4b40"

	to, amount, err := DecodeTransferData(calldata)
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, to)
	assert.Equal(t, int64(5_000_000), amount.Int64())
}

func TestDecodeTransferDataToleratesPrefixedAddressWord(t *testing.T) {
	// Some wallets encode the address word with the 0x41 version byte in
	// the padding.
	calldata := TransferSelector +
		"0000000000000000000000" + usdtHex +
		"0000000000000000000000000000000000000000000000000000000000000001"

	to, amount, err := DecodeTransferData(calldata)
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, to)
	assert.Equal(t, int64(1), amount.Int64())
}

func TestDecodeTransferDataRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{
			"wrong selector",
			"23b872dd" + strings.Repeat("00", 64),
			ErrUnknownTransactionType,
		},
		{
			"truncated",
			TransferSelector + strings.Repeat("00", 40),
			ErrInsufficientDataBytes,
		},
		{
			"dirty address padding",
			TransferSelector + "ff" + strings.Repeat("00", 11) + usdtHex[2:] + strings.Repeat("00", 32),
			ErrNonEmptyPaddingBytes,
		},
		{
			"dirty tail",
			TransferSelector +
				"000000000000000000000000" + usdtHex[2:] +
				strings.Repeat("00", 31) + "01" + "ff",
			ErrNonEmptyPaddingBytes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeTransferData(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
