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
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
)

// Tron addresses are the keccak160 of an uncompressed secp256k1 public key,
// prefixed with 0x41 and rendered as base58check. The curve and hash are the
// same as Ethereum's; only the presentation differs.

// AddressPrefix is the base58check version byte of Tron addresses.
const AddressPrefix = 0x41

// IsBase58Address reports whether s is a well-formed base58check Tron
// address.
func IsBase58Address(s string) bool {
	payload, version, err := base58.CheckDecode(s)
	return err == nil && version == AddressPrefix && len(payload) == 20
}

// AddressToHex converts a base58check address to its 21-byte hex form
// ("41" + 40 hex digits), the representation used in raw transactions.
func AddressToHex(s string) (string, error) {
	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return "", fmt.Errorf("bad address %q: %w", s, err)
	}
	if version != AddressPrefix || len(payload) != 20 {
		return "", fmt.Errorf("bad address %q: not a tron address", s)
	}
	return fmt.Sprintf("%02x%x", version, payload), nil
}

// HexToAddress converts a hex address to base58check. It accepts the
// 21-byte 41-prefixed form, the bare 20-byte form and 32-byte ABI words with
// the address right-aligned.
func HexToAddress(h string) (string, error) {
	h = strings.TrimPrefix(strings.ToLower(h), "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("bad hex address %q: %w", h, err)
	}
	switch {
	case len(b) == 21 && b[0] == AddressPrefix:
		b = b[1:]
	case len(b) == 20:
	case len(b) == 32:
		b = b[12:]
	default:
		return "", fmt.Errorf("bad hex address %q: unexpected length %d", h, len(b))
	}
	return base58.CheckEncode(b, AddressPrefix), nil
}

// TopicToAddress extracts the base58check address from a 32-byte event
// topic.
func TopicToAddress(topic string) (string, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(topic, "0x"))
	if err != nil {
		return "", fmt.Errorf("bad topic %q: %w", topic, err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("bad topic %q: length %d", topic, len(b))
	}
	return base58.CheckEncode(b[12:], AddressPrefix), nil
}

// PubkeyToAddress derives the base58check address of a public key.
func PubkeyToAddress(pub ecdsa.PublicKey) string {
	eth := crypto.PubkeyToAddress(pub)
	return base58.CheckEncode(eth.Bytes(), AddressPrefix)
}

// GenerateKey creates a fresh key pair. The private key is returned as a hex
// scalar, the public side as a base58check address.
func GenerateKey() (privHex, address string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), PubkeyToAddress(key.PublicKey), nil
}

// ParsePrivateKey decodes a hex private scalar.
func ParsePrivateKey(privHex string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
}

// AddressFromPrivateKey returns the base58check address controlled by the
// hex private key.
func AddressFromPrivateKey(privHex string) (string, error) {
	key, err := ParsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	return PubkeyToAddress(key.PublicKey), nil
}
