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

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler serves a dedicated registry: scan progress is read live from
// the scanner, balances from the last rescan snapshot in the database.
func (s *Server) metricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(&gatewayCollector{server: s})
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

var (
	cursorDesc = prometheus.NewDesc(
		"tron_scanner_block", "Last block committed by the scanner.", nil, nil)
	headDesc = prometheus.NewDesc(
		"tron_head_block", "Chain head as seen by the scanner.", nil, nil)
	scannedDesc = prometheus.NewDesc(
		"tron_scanned_blocks_total", "Blocks scanned since process start.", nil, nil)
	accountsDesc = prometheus.NewDesc(
		"tron_watched_accounts", "Accounts on the scanner watchlist.", nil, nil)
	balanceDesc = prometheus.NewDesc(
		"tron_account_balance", "Account balance from the last rescan.", []string{"symbol", "account"}, nil)
)

type gatewayCollector struct {
	server *Server
}

func (c *gatewayCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cursorDesc
	ch <- headDesc
	ch <- scannedDesc
	ch <- accountsDesc
	ch <- balanceDesc
}

func (c *gatewayCollector) Collect(ch chan<- prometheus.Metric) {
	progress := c.server.scan.Progress()
	ch <- prometheus.MustNewConstMetric(cursorDesc, prometheus.GaugeValue, float64(progress.Cursor))
	ch <- prometheus.MustNewConstMetric(headDesc, prometheus.GaugeValue, float64(progress.Head))
	ch <- prometheus.MustNewConstMetric(scannedDesc, prometheus.CounterValue, float64(progress.Scanned))
	ch <- prometheus.MustNewConstMetric(accountsDesc, prometheus.GaugeValue, float64(progress.Accounts))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, symbol := range c.server.cfg.Symbols() {
		balances, err := c.server.db.Balances(ctx, symbol)
		if err != nil {
			c.server.log.Warn("Metrics balance read failed", "symbol", symbol, "err", err)
			continue
		}
		for _, b := range balances {
			v, _ := b.Balance.Float64()
			ch <- prometheus.MustNewConstMetric(balanceDesc, prometheus.GaugeValue, v, b.Symbol, b.Account)
		}
	}
}
