package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/sharding-experiment/slotvault/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoke", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var env protocol.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slot := 0
		json.NewEncoder(w).Encode(protocol.Receipt{
			ID:      "inv-1",
			Kind:    env.Message.Kind(),
			Sender:  env.Sender,
			Outcome: protocol.OutcomeAdmitted,
			Slot:    &slot,
			Profit:  new(uint256.Int),
		})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", nil)
	receipt, err := c.Submit(context.Background(), protocol.Envelope{
		Sender:  common.HexToAddress("0x1001"),
		Value:   protocol.MustParseUnits("0.2"),
		Message: protocol.DepositNotification{Custodian: common.HexToAddress("0xa0")},
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeAdmitted, receipt.Outcome)
	assert.Equal(t, protocol.KindDeposit, receipt.Kind)
	require.NotNil(t, receipt.Slot)
	assert.Equal(t, 0, *receipt.Slot)
}

func TestClient_RejectionCarriesReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "bid too low",
			"receipt": protocol.Receipt{ID: "inv-2", Outcome: protocol.OutcomeRejected},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, err := c.Submit(context.Background(), protocol.Envelope{Message: protocol.AdminWithdrawAll{}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "bid too low", apiErr.Message)
	require.NotNil(t, apiErr.Receipt)
	assert.Equal(t, protocol.OutcomeRejected, apiErr.Receipt.Outcome)
}

func TestClient_Queries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/holdings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]registry.Holding{
			{Slot: 0, Asset: common.HexToAddress("0x1001"), Value: uint256.NewInt(1)},
			{Slot: 1, Asset: common.HexToAddress("0x1002"), Value: uint256.NewInt(2)},
		})
	})
	mux.HandleFunc("/holdings/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(registry.Holding{Slot: 1, Asset: common.HexToAddress("0x1002"), Value: uint256.NewInt(2)})
	})
	mux.HandleFunc("/holdings/9", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/fees", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"profit": "1.9", "profit_nano": "1900000000"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, nil)
	ctx := context.Background()

	holdings, err := c.Holdings(ctx)
	require.NoError(t, err)
	assert.Len(t, holdings, 2)

	h, err := c.Holding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1002"), h.Asset)

	_, err = c.Holding(ctx, 9)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Nil(t, apiErr.Receipt)

	fees, err := c.Fees(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.9", fees["profit"])
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, nil).Holdings(context.Background())
	assert.Error(t, err)
}
