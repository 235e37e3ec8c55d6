package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRunConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = freeAddr(t)
	cfg.StorageDriver = StorageDriverMemory
	return cfg
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := testRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	require.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestRun_PlacesOrderOverHTTP(t *testing.T) {
	cfg := testRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- Run(ctx, cfg) }()
	defer func() {
		cancel()
		select {
		case err := <-runErr:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not stop")
		}
	}()

	base := "http://" + cfg.HTTPAddr
	require.Eventually(t, func() bool { return get("http://"+cfg.MetricsAddr+"/livez") == nil }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/inventory/1")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	body := []byte(`{
		"customer_id": 1,
		"created_by": 7,
		"order_total_amount": "39.98",
		"items": [{"variant_id": 1, "quantity": 2, "price_at_purchase": "19.99"}]
	}`)
	req, err := http.NewRequest(http.MethodPost, base+"/api/orders", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "run-test-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Message string `json:"message"`
		Data    struct {
			OrderID          int64       `json:"order_id"`
			TotalOrderAmount json.Number `json:"total_order_amount"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "Order placed successfully.", created.Message)
	require.Equal(t, "39.98", created.Data.TotalOrderAmount.String())

	orderResp, err := http.Get(fmt.Sprintf("%s/api/orders/%d", base, created.Data.OrderID))
	require.NoError(t, err)
	_ = orderResp.Body.Close()
	require.Equal(t, http.StatusOK, orderResp.StatusCode)
}
