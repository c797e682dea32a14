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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The well-known mainnet USDT contract, used as a stable codec fixture.
const (
	usdtBase58 = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	usdtHex    = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"
)

func TestAddressRoundTrip(t *testing.T) {
	h, err := AddressToHex(usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtHex, h)

	b58, err := HexToAddress(usdtHex)
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, b58)
}

func TestHexToAddressForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"prefixed", usdtHex},
		{"bare", usdtHex[2:]},
		{"abi word", "000000000000000000000000" + usdtHex[2:]},
		{"0x prefixed", "0x" + usdtHex},
		{"upper case", "41A614F803B6FD780986A42C78EC9C7F77E6DED13C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, usdtBase58, got)
		})
	}

	_, err := HexToAddress("41a614")
	assert.Error(t, err)
	_, err = HexToAddress("zz14f803b6fd780986a42c78ec9c7f77e6ded13c")
	assert.Error(t, err)
}

func TestIsBase58Address(t *testing.T) {
	assert.True(t, IsBase58Address(usdtBase58))
	assert.False(t, IsBase58Address(""))
	assert.False(t, IsBase58Address("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u")) // bad checksum
	assert.False(t, IsBase58Address("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")) // bitcoin version byte
}

func TestTopicToAddress(t *testing.T) {
	got, err := TopicToAddress("000000000000000000000000" + usdtHex[2:])
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, got)

	_, err = TopicToAddress("a614f803")
	assert.Error(t, err)
}

func TestGenerateKeyDerivation(t *testing.T) {
	priv, addr, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, IsBase58Address(addr))

	derived, err := AddressFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, addr, derived)
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePrivateKey("not-a-key")
	assert.Error(t, err)
}
