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
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Minimal ABI support for the TRC-20 surface the gateway touches: the
// transfer call and its Transfer event. Everything else on chain is treated
// as an unknown transaction type.

const (
	// TransferSelector is the 4-byte selector of transfer(address,uint256).
	TransferSelector = "a9059cbb"

	// BalanceOfSelector is the selector of balanceOf(address).
	BalanceOfSelector = "70a08231"

	transferFn  = "transfer(address,uint256)"
	balanceOfFn = "balanceOf(address)"
	decimalsFn  = "decimals()"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the first
// topic of every TRC-20 Transfer event.
var TransferTopic = hex.EncodeToString(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))

func padAddress(addr string) ([]byte, error) {
	h, err := AddressToHex(addr)
	if err != nil {
		return nil, err
	}
	raw, _ := hex.DecodeString(h)
	word := make([]byte, 32)
	copy(word[12:], raw[1:]) // drop the 0x41 prefix, right-align
	return word, nil
}

func padUint(v *big.Int) ([]byte, error) {
	u, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("amount %s does not fit uint256", v)
	}
	word := u.Bytes32()
	return word[:], nil
}

// EncodeTransferParams builds the parameter blob (without selector) for a
// transfer(address,uint256) call, as expected by triggersmartcontract and
// estimateenergy.
func EncodeTransferParams(to string, amount *big.Int) (string, error) {
	addr, err := padAddress(to)
	if err != nil {
		return "", err
	}
	val, err := padUint(amount)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(append(addr, val...)), nil
}

// EncodeBalanceOfParams builds the parameter blob for balanceOf(address).
func EncodeBalanceOfParams(owner string) (string, error) {
	addr, err := padAddress(owner)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(addr), nil
}

func decodeWord(b []byte) (*big.Int, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: word length %d", ErrInsufficientDataBytes, len(b))
	}
	return new(uint256.Int).SetBytes(b).ToBig(), nil
}

// DecodeEventData decodes the single uint256 payload of a Transfer event.
// Trailing bytes beyond the first word must be zero.
func DecodeEventData(data string) (*big.Int, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientDataBytes, err)
	}
	if len(b) < 32 {
		return nil, fmt.Errorf("%w: event data is %d bytes", ErrInsufficientDataBytes, len(b))
	}
	for _, c := range b[32:] {
		if c != 0 {
			return nil, fmt.Errorf("%w: event data longer than one word", ErrNonEmptyPaddingBytes)
		}
	}
	return decodeWord(b[:32])
}

// DecodeTransferData decodes legacy transfer(address,uint256) calldata into
// the destination address and raw amount. Some contracts emit address words
// carrying the 0x41 network prefix in the padding; that byte is tolerated,
// any other non-zero padding is rejected.
func DecodeTransferData(data string) (to string, amount *big.Int, err error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInsufficientDataBytes, err)
	}
	if len(raw) < 4+32+32 {
		return "", nil, fmt.Errorf("%w: calldata is %d bytes", ErrInsufficientDataBytes, len(raw))
	}
	if hex.EncodeToString(raw[:4]) != TransferSelector {
		return "", nil, fmt.Errorf("%w: selector %x", ErrUnknownTransactionType, raw[:4])
	}
	addrWord := raw[4 : 4+32]
	for i, c := range addrWord[:12] {
		if c != 0 && !(i == 11 && c == AddressPrefix) {
			return "", nil, fmt.Errorf("%w: address word padding", ErrNonEmptyPaddingBytes)
		}
	}
	to, err = HexToAddress(hex.EncodeToString(addrWord[12:]))
	if err != nil {
		return "", nil, err
	}
	amount, err = decodeWord(raw[4+32 : 4+64])
	if err != nil {
		return "", nil, err
	}
	for _, c := range raw[4+64:] {
		if c != 0 {
			return "", nil, fmt.Errorf("%w: calldata tail", ErrNonEmptyPaddingBytes)
		}
	}
	return to, amount, nil
}
