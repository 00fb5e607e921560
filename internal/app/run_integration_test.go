package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/livez", cfg.MetricsAddr))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/orders", cfg.HTTPAddr))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestRun_MissingSeedFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatalogSeedFile = "/nonexistent/catalog.json"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "read catalog seed")
}
