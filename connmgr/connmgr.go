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

// Package connmgr elects the best full node out of the configured set and
// hands out clients bound to it. The elected server id is persisted so a
// restart keeps scanning against the same node.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// currentServerKey is the settings row holding the elected server index.
const currentServerKey = "current_server_id"

var (
	// ErrNoServerSet means no election has completed yet.
	ErrNoServerSet = errors.New("connmgr: no full node elected yet")

	// ErrAllServersOffline means every configured node failed its probe.
	ErrAllServersOffline = errors.New("connmgr: all full nodes are offline")

	// ErrUnknownServer means a requested server id is out of range.
	ErrUnknownServer = errors.New("connmgr: unknown server id")
)

// Status is the probe result of one configured node.
type Status struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Online    bool   `json:"online"`
	Current   bool   `json:"current"`
	HeadBlock uint64 `json:"head_block"`
	// LagSeconds is the age of the node's head block.
	LagSeconds int64  `json:"lag_seconds"`
	Version    string `json:"version"`
	Error      string `json:"error,omitempty"`
}

// Manager tracks the configured full nodes and the current election.
type Manager struct {
	servers []config.Fullnode
	db      *store.DB
	period  time.Duration
	log     log.Logger
}

// New builds a manager over the configured server list.
func New(servers []config.Fullnode, db *store.DB, refreshPeriod time.Duration) (*Manager, error) {
	if len(servers) == 0 {
		return nil, errors.New("connmgr: no full nodes configured")
	}
	return &Manager{
		servers: servers,
		db:      db,
		period:  refreshPeriod,
		log:     log.New("module", "connmgr"),
	}, nil
}

// CurrentID returns the elected server index, or ErrNoServerSet.
func (m *Manager) CurrentID(ctx context.Context) (int, error) {
	raw, err := m.db.GetSetting(ctx, currentServerKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNoServerSet
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 || id >= len(m.servers) {
		return 0, fmt.Errorf("%w: stored id %q", ErrUnknownServer, raw)
	}
	return id, nil
}

// Client returns a client for the elected node.
func (m *Manager) Client(ctx context.Context) (*tron.Client, error) {
	id, err := m.CurrentID(ctx)
	if err != nil {
		return nil, err
	}
	return tron.NewClient(m.servers[id].URL)
}

// SwitchTo pins the election to a specific server id.
func (m *Manager) SwitchTo(ctx context.Context, id int) error {
	if id < 0 || id >= len(m.servers) {
		return fmt.Errorf("%w: %d", ErrUnknownServer, id)
	}
	if err := m.db.SetSetting(ctx, currentServerKey, strconv.Itoa(id)); err != nil {
		return err
	}
	m.log.Info("Switched full node", "id", id, "name", m.servers[id].Name)
	return nil
}

func (m *Manager) probe(ctx context.Context, id int) Status {
	s := Status{ID: id, Name: m.servers[id].Name}
	client, err := tron.NewClient(m.servers[id].URL)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	info, err := client.GetNodeInfo(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	head, err := info.HeadBlockNumber()
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Online = true
	s.HeadBlock = head
	s.Version = info.ConfigNodeInfo.CodeVersion
	if block, err := client.GetNowBlock(ctx); err == nil {
		s.LagSeconds = time.Now().Unix() - block.Timestamp()
	}
	return s
}

// ServersStatus probes every configured node.
func (m *Manager) ServersStatus(ctx context.Context) []Status {
	current, _ := m.CurrentID(ctx)
	out := make([]Status, len(m.servers))
	for i := range m.servers {
		out[i] = m.probe(ctx, i)
		out[i].Current = i == current
	}
	return out
}

// bestServerID picks the reachable node with the highest head. Ties go to
// the earlier entry in the configured order.
func (m *Manager) bestServerID(ctx context.Context) (int, error) {
	if len(m.servers) == 1 {
		if s := m.probe(ctx, 0); !s.Online {
			return 0, fmt.Errorf("%w: %s", ErrAllServersOffline, s.Error)
		}
		return 0, nil
	}
	best, bestHead := -1, uint64(0)
	for i := range m.servers {
		s := m.probe(ctx, i)
		if !s.Online {
			m.log.Warn("Full node offline", "name", s.Name, "err", s.Error)
			continue
		}
		if best == -1 || s.HeadBlock > bestHead {
			best, bestHead = i, s.HeadBlock
		}
	}
	if best == -1 {
		return 0, ErrAllServersOffline
	}
	return best, nil
}

// RefreshBestServer re-runs the election. Reports whether the elected node
// changed.
func (m *Manager) RefreshBestServer(ctx context.Context) (bool, error) {
	best, err := m.bestServerID(ctx)
	if err != nil {
		return false, err
	}
	current, err := m.CurrentID(ctx)
	if err == nil && current == best {
		return false, nil
	}
	if err != nil && !errors.Is(err, ErrNoServerSet) && !errors.Is(err, ErrUnknownServer) {
		return false, err
	}
	if err := m.SwitchTo(ctx, best); err != nil {
		return false, err
	}
	return true, nil
}

// Run performs the initial election, retrying until one node answers, then
// re-elects on the configured period.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if _, err := m.RefreshBestServer(ctx); err == nil {
			break
		} else {
			m.log.Warn("Initial full node election failed, retrying", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if changed, err := m.RefreshBestServer(ctx); err != nil {
				m.log.Warn("Full node election failed", "err", err)
			} else if changed {
				m.log.Info("Full node election changed the active server")
			}
		}
	}
}
