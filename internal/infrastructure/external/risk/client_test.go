package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

func testTx() entity.Transaction {
	return entity.Transaction{
		ID:          "tx-1",
		Type:        "expense",
		Amount:      2500,
		Currency:    "USD",
		RequesterID: "req-1",
		OccurredAt:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestClient_Assess(t *testing.T) {
	var got assessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":0.82,"fraud_block":false,"factors":[{"name":"velocity","weight":0.4}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)

	res, err := c.Assess(context.Background(), testTx())
	require.NoError(t, err)
	assert.InDelta(t, 0.82, res.Score, 1e-9)
	assert.False(t, res.FraudBlock)
	assert.Equal(t, "http", res.Source)
	require.Len(t, res.Factors, 1)
	assert.Equal(t, "velocity", res.Factors[0].Name)

	assert.Equal(t, "tx-1", got.TransactionID)
	assert.Equal(t, 2500.0, got.Amount)
	require.NotNil(t, got.OccurredAt)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"bad json", http.StatusOK, `{"score":`},
		{"missing score", http.StatusOK, `{"fraud_block":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			c, err := NewClient(ClientConfig{Endpoint: srv.URL}, zap.NewNop())
			require.NoError(t, err)
			_, err = c.Assess(context.Background(), testTx())
			assert.Error(t, err)
		})
	}
}

func TestClient_HonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Assess(ctx, testTx())
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(ClientConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestStaticAssessor(t *testing.T) {
	a := NewStaticAssessor(StaticConfig{
		BaseScore:         0.5,
		LargeAmount:       1000,
		LargeAmountWeight: 0.7,
		BlockedRequesters: []string{"mallory"},
	})

	res, err := a.Assess(context.Background(), testTx())
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
	assert.False(t, res.FraudBlock)
	assert.Equal(t, "static", res.Source)

	small := testTx()
	small.Amount = 10
	small.RequesterID = "mallory"
	res, err = a.Assess(context.Background(), small)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Score)
	assert.True(t, res.FraudBlock)
}
