package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/pemilu/cli/node"
)

func TestPemilu_Scenario(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(serveChainID))
	defer rpc.Close()

	dir := t.TempDir()
	sigs := make(chan os.Signal)

	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		err := runWithCfg([]string{
			os.Args[0], "--config", dir, "start",
			"--rpc-url", rpc.URL,
			"--contract", "0x00000000000000000000000000000000000000c0",
			"--clientaddr", "127.0.0.1:0",
		}, settings{Channel: sigs, Writer: io.Discard})

		require.NoError(t, err)
	}()

	defer func() {
		// Simulate a Ctrl+C
		close(sigs)
		wg.Wait()
	}()

	waitDaemon(t, dir)

	out := new(bytes.Buffer)

	err := runWithCfg([]string{os.Args[0], "--config", dir, "config", "show"},
		settings{Writer: out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "rpc:")

	out.Reset()

	err = runWithCfg([]string{os.Args[0], "--config", dir, "proxy", "prom", "--path", "/metrics"},
		settings{Writer: out})
	require.NoError(t, err)
	require.Contains(t, out.String(), `registered prometheus service on "/metrics"`)
}

func TestPemilu_NoDaemon(t *testing.T) {
	err := run([]string{os.Args[0], "--config", t.TempDir(), "election", "info"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't send action")
}

// -----------------------------------------------------------------------------
// Utility functions

// serveChainID answers every JSON-RPC request with the chain id of a
// development network.
func serveChainID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID json.RawMessage `json:"id"`
	}

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  "0x539",
	})
}

func waitDaemon(t *testing.T, dir string) {
	socket := filepath.Join(dir, node.SocketName)

	for i := 0; i < 100; i++ {
		_, err := os.Stat(socket)
		if err == nil {
			return
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("daemon did not start")
}
