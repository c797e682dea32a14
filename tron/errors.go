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

import "errors"

var (
	// ErrUnknownTransactionType marks a transaction the parser cannot
	// classify: an unhandled contract type, an unknown token contract or
	// a call without a Transfer event. The scanner skips such
	// transactions.
	ErrUnknownTransactionType = errors.New("unknown transaction type")

	// ErrBadContractResult marks a transaction whose on-chain execution
	// did not end in SUCCESS. No notification is sent for it.
	ErrBadContractResult = errors.New("bad contract result")

	// ErrInsufficientDataBytes marks truncated ABI data.
	ErrInsufficientDataBytes = errors.New("insufficient data bytes")

	// ErrNonEmptyPaddingBytes marks ABI words whose padding is not zero.
	ErrNonEmptyPaddingBytes = errors.New("non-empty padding bytes")

	// ErrAddressNotFound is returned for accounts that do not exist
	// on chain yet. A freshly generated deposit address stays in this
	// state until the first transfer activates it.
	ErrAddressNotFound = errors.New("address not found on chain")

	// ErrTxNotFound is returned when a transaction id is unknown to the
	// node.
	ErrTxNotFound = errors.New("transaction not found")
)
