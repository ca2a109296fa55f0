package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/analytics"
	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
	"github.com/astroleaf/ecoflux-exchange/internal/matching"
	"github.com/astroleaf/ecoflux-exchange/internal/orderbook"
	"github.com/astroleaf/ecoflux-exchange/internal/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()
	book := orderbook.New(logger)
	reg := registry.New(logger)
	lc, err := contracts.New(logger, contracts.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(lc.Close)

	sink, closer, err := events.NewInProcessSink(logger)
	require.NoError(t, err)
	t.Cleanup(func() { closer.Close() })

	engine := matching.New(matching.DefaultConfig(), logger, book, reg, lc, sink, nil)
	t.Cleanup(engine.Close)

	agg := analytics.New(analytics.DefaultConfig(), reg, book, lc)
	return New(logger, engine, agg)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitAndGetOrder(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"side": "buy", "category": "solar", "quantity": 10, "limit_price": 0.1, "user_id": "u1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		OrderID string `json:"order_id"`
		Matched bool   `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.False(t, created.Matched)
	require.NotEmpty(t, created.OrderID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+created.OrderID, nil)
	getW := httptest.NewRecorder()
	srv.Router().ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestSubmitInvalidPayloadReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"side": "buy", "category": "geothermal", "quantity": 10, "limit_price": 0.1, "user_id": "u1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUnknownOrderReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeployAndExecuteContract(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"buyer_user_id": "u1", "seller_user_id": "u2",
		"category": "solar", "quantity": 100, "price": 0.11,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var contract struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contract))
	require.NotEmpty(t, contract.ID)
	assert.Equal(t, "active", contract.State)

	execReq := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/"+contract.ID+"/execute", nil)
	execW := httptest.NewRecorder()
	srv.Router().ServeHTTP(execW, execReq)
	require.Equal(t, http.StatusOK, execW.Code)

	var execResp struct {
		Success bool    `json:"success"`
		TxHash  string  `json:"tx_hash"`
		GasUsed float64 `json:"gas_used"`
		State   string  `json:"state"`
	}
	require.NoError(t, json.Unmarshal(execW.Body.Bytes(), &execResp))
	assert.True(t, execResp.Success)
	assert.NotEmpty(t, execResp.TxHash)
	assert.Equal(t, "completed", execResp.State)
}

func TestVerifyMismatchReportsUnverified(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"buyer_user_id": "u1", "seller_user_id": "u2",
		"category": "wind", "quantity": 10, "price": 0.2,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var contract struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contract))

	verifyBody, _ := json.Marshal(map[string]string{
		"tx_hash": "0000000000000000000000000000000000000000000000000000000000000000",
	})
	verifyReq := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/"+contract.ID+"/verify", bytes.NewReader(verifyBody))
	verifyReq.Header.Set("Content-Type", "application/json")
	verifyW := httptest.NewRecorder()
	srv.Router().ServeHTTP(verifyW, verifyReq)
	require.Equal(t, http.StatusOK, verifyW.Code, "a hash mismatch is a negative answer, not an error")

	var verifyResp struct {
		Verified      bool `json:"verified"`
		Confirmations int  `json:"confirmations"`
	}
	require.NoError(t, json.Unmarshal(verifyW.Body.Bytes(), &verifyResp))
	assert.False(t, verifyResp.Verified)
	assert.Zero(t, verifyResp.Confirmations)
}

func TestBatchVerifyLengthMismatchReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"contract_ids": []string{"a", "b"},
		"tx_hashes":    []string{"only-one"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/verify-batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
