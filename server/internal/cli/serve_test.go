package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-tour/server/internal/model"
)

func startServe(t *testing.T, args ...string) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	addrCh := make(chan string, 1)
	opts := &RootOptions{onListen: func(addr string) { addrCh <- addr }}
	cmd := newRootCommand(opts)
	cmd.SetArgs(append([]string{"serve", "--port", "0"}, args...))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr, cancel, errCh
	case err := <-errCh:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("serve did not start")
	}
	return "", cancel, errCh
}

func TestServeWithSeed(t *testing.T) {
	base, cancel, errCh := startServe(t, "--seed", filepath.Join("..", "..", "configs", "transactions.json"))

	resp, err := http.Get(base + "/api/transactions?name=re")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []model.Transaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	assert.Equal(t, []string{"Rent", "Book store", "Refund"}, names)

	health, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeWithSQLitePersistence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dsn := filepath.Join(dir, "txtour.db")
	cfg := "backend:\n  persistence:\n    driver: sqlite\n    dsn: " + dsn + "\n"
	require.NoError(t, writeFile(cfgPath, cfg))

	base, cancel, errCh := startServe(t, "--config", cfgPath)
	resp, err := http.Post(base+"/api/transactions", "application/json", strings.NewReader(`{"name":"Persisted"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cancel()
	require.NoError(t, <-errCh)

	base, cancel, errCh = startServe(t, "--config", cfgPath)
	defer func() {
		cancel()
		<-errCh
	}()
	resp, err = http.Get(base + "/api/transactions/11")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":11,"name":"Persisted"}`, string(body))
}
