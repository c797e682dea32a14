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
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownToken is returned when a symbol or contract address is not in the
// token registry for the active network.
var ErrUnknownToken = errors.New("unknown token")

// Token describes one TRC-20 token the gateway handles.
type Token struct {
	Symbol               string
	ContractAddress      string
	MinTransferThreshold decimal.Decimal
	Network              Network
	Decimals             int32
}

// DefaultTokens is the built-in registry. The nile USDT entry points at the
// JST contract, which is the customary stand-in token on the test network.
var DefaultTokens = []Token{
	{
		Network:              Mainnet,
		Symbol:               "USDT",
		ContractAddress:      "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		MinTransferThreshold: decimal.RequireFromString("5"),
		Decimals:             6,
	},
	{
		Network:              Mainnet,
		Symbol:               "USDC",
		ContractAddress:      "TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8",
		MinTransferThreshold: decimal.RequireFromString("5"),
		Decimals:             6,
	},
	{
		Network:              Nile,
		Symbol:               "USDT",
		ContractAddress:      "TF17BgPaZYbz8oxbjhriubPDsA7ArKoLX3",
		MinTransferThreshold: decimal.Zero,
		Decimals:             18,
	},
}

// NetworkTokens returns the tokens configured for the active network.
func (c *Config) NetworkTokens() []Token {
	var out []Token
	for _, t := range c.Tokens {
		if t.Network == c.Network {
			out = append(out, t)
		}
	}
	return out
}

// Symbols returns the native symbol followed by every configured token
// symbol.
func (c *Config) Symbols() []string {
	out := []string{NativeSymbol}
	for _, t := range c.NetworkTokens() {
		out = append(out, t.Symbol)
	}
	return out
}

func (c *Config) token(symbol string) (Token, error) {
	for _, t := range c.Tokens {
		if t.Network == c.Network && t.Symbol == symbol {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("%w: symbol %q", ErrUnknownToken, symbol)
}

// ContractAddress resolves a token symbol to its contract address.
func (c *Config) ContractAddress(symbol string) (string, error) {
	t, err := c.token(symbol)
	if err != nil {
		return "", err
	}
	return t.ContractAddress, nil
}

// SymbolByContract resolves a contract address to its token symbol.
func (c *Config) SymbolByContract(addr string) (string, error) {
	for _, t := range c.Tokens {
		if t.Network == c.Network && t.ContractAddress == addr {
			return t.Symbol, nil
		}
	}
	return "", fmt.Errorf("%w: contract %q", ErrUnknownToken, addr)
}

// Decimals returns the token precision. The native currency has 6.
func (c *Config) Decimals(symbol string) (int32, error) {
	if symbol == NativeSymbol {
		return 6, nil
	}
	t, err := c.token(symbol)
	if err != nil {
		return 0, err
	}
	return t.Decimals, nil
}

// MinTransferThreshold returns the per-symbol sweep threshold. Balances at or
// below it are not worth moving.
func (c *Config) MinTransferThreshold(symbol string) (decimal.Decimal, error) {
	if symbol == NativeSymbol {
		return c.TRXMinTransferThreshold, nil
	}
	t, err := c.token(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.MinTransferThreshold, nil
}
