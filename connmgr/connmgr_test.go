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

package connmgr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/store"
)

// fakeNode serves getnodeinfo/getnowblock for a fixed head height.
func fakeNode(t *testing.T, head uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wallet/getnodeinfo":
			fmt.Fprintf(w, `{"block": "Num:%d,ID:0000", "configNodeInfo": {"codeVersion": "4.7.4"}}`, head)
		case "/wallet/getnowblock":
			fmt.Fprintf(w, `{"blockID": "0000", "block_header": {"raw_data": {"number": %d, "timestamp": %d}}}`,
				head, time.Now().UnixMilli())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestElectionPicksHighestHead(t *testing.T) {
	servers := []config.Fullnode{
		{Name: "a", URL: fakeNode(t, 100).URL},
		{Name: "b", URL: fakeNode(t, 120).URL},
		{Name: "c", URL: fakeNode(t, 115).URL},
		{Name: "dead", URL: "http://127.0.0.1:1"},
	}
	m, err := New(servers, testDB(t), time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.CurrentID(ctx)
	assert.ErrorIs(t, err, ErrNoServerSet)

	changed, err := m.RefreshBestServer(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	id, err := m.CurrentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	// A second refresh with the same heads is a no-op.
	changed, err = m.RefreshBestServer(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestElectionTieKeepsInputOrder(t *testing.T) {
	servers := []config.Fullnode{
		{Name: "a", URL: fakeNode(t, 100).URL},
		{Name: "b", URL: fakeNode(t, 100).URL},
	}
	m, err := New(servers, testDB(t), time.Minute)
	require.NoError(t, err)

	_, err = m.RefreshBestServer(context.Background())
	require.NoError(t, err)
	id, err := m.CurrentID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestElectionAllOffline(t *testing.T) {
	servers := []config.Fullnode{
		{Name: "dead1", URL: "http://127.0.0.1:1"},
		{Name: "dead2", URL: "http://127.0.0.1:2"},
	}
	m, err := New(servers, testDB(t), time.Minute)
	require.NoError(t, err)

	_, err = m.RefreshBestServer(context.Background())
	assert.ErrorIs(t, err, ErrAllServersOffline)
}

func TestSwitchTo(t *testing.T) {
	servers := []config.Fullnode{
		{Name: "a", URL: fakeNode(t, 100).URL},
		{Name: "b", URL: fakeNode(t, 120).URL},
	}
	m, err := New(servers, testDB(t), time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.SwitchTo(ctx, 0))
	id, err := m.CurrentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	assert.ErrorIs(t, m.SwitchTo(ctx, 5), ErrUnknownServer)

	statuses := m.ServersStatus(ctx)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Current)
	assert.True(t, statuses[0].Online)
	assert.Equal(t, uint64(120), statuses[1].HeadBlock)
}

func TestClientRequiresElection(t *testing.T) {
	servers := []config.Fullnode{{Name: "a", URL: fakeNode(t, 100).URL}}
	m, err := New(servers, testDB(t), time.Minute)
	require.NoError(t, err)

	_, err = m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNoServerSet)

	require.NoError(t, m.SwitchTo(context.Background(), 0))
	c, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)
}
