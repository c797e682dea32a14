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

package scanner

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Watchlist is the thread-safe set of addresses the scanner cares about:
// every managed deposit address, the treasury and any watch-only accounts.
type Watchlist struct {
	set mapset.Set[string]
}

// NewWatchlist builds an empty watchlist.
func NewWatchlist() *Watchlist {
	return &Watchlist{set: mapset.NewSet[string]()}
}

// Seed adds a batch of addresses, typically the stored keys at startup.
func (w *Watchlist) Seed(addrs []string) {
	for _, a := range addrs {
		w.set.Add(a)
	}
}

// Add registers a freshly generated deposit address.
func (w *Watchlist) Add(addr string) {
	w.set.Add(addr)
}

// Contains reports whether addr is watched.
func (w *Watchlist) Contains(addr string) bool {
	return w.set.Contains(addr)
}

// Count returns the number of watched addresses.
func (w *Watchlist) Count() int {
	return w.set.Cardinality()
}
