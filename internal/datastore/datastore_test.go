//go:build unit

package datastore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/pkg/commons/circuitbreaker"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

var testAccount = bank.Account{UserID: "4632941", Bank: "central"}

// newTestClient builds a client pointed at a test server with a short
// per-call timeout.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := New(Config{BaseURL: baseURL, APIKey: "test-key", RequestTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)

	return client
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("requires a base URL", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{}, nil)
		require.ErrorIs(t, err, ErrBaseURLRequired)

		_, err = New(Config{BaseURL: "   "}, nil)
		require.ErrorIs(t, err, ErrBaseURLRequired)
	})

	t.Run("trims the trailing slash", func(t *testing.T) {
		t.Parallel()

		client, err := New(Config{BaseURL: "http://store.local/"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "http://store.local", client.config.BaseURL)
	})

	t.Run("defaults the request timeout", func(t *testing.T) {
		t.Parallel()

		client, err := New(Config{BaseURL: "http://store.local"}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultRequestTimeout, client.config.RequestTimeout)
	})
}

func TestLatestVersion_ReturnsNewestMarker(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/index/central/4632941/versions", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "test-key", r.Header.Get(constant.HeaderAPIKey))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"versions":["v42","v41"]}`))
	}))
	defer server.Close()

	version, err := newTestClient(t, server.URL).LatestVersion(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, bank.Version("v42"), version)
}

func TestLatestVersion_EmptyIndexIsNotProvisioned(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"versions":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).LatestVersion(context.Background(), testAccount)
	require.ErrorIs(t, err, constant.ErrAccountNotProvisioned)
	assert.ErrorContains(t, err, "central/4632941")
}

func TestLatestVersion_ServerFaultIsUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).LatestVersion(context.Background(), testAccount)
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
}

func TestLatestVersion_MalformedIndexIsUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).LatestVersion(context.Background(), testAccount)
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
}

func TestReadBalance_ReturnsStoredRecord(t *testing.T) {
	t.Parallel()

	// The store may answer with either decimal encoding.
	tests := []struct {
		name string
		body string
		want decimal.Decimal
	}{
		{
			name: "string balance",
			body: `{"balance":"123.45"}`,
			want: decimal.RequireFromString("123.45"),
		},
		{
			name: "numeric balance",
			body: `{"balance":123.45}`,
			want: decimal.RequireFromString("123.45"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/data/central/4632941/v42", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			record, err := newTestClient(t, server.URL).ReadBalance(context.Background(), testAccount, "v42")
			require.NoError(t, err)
			assert.True(t, record.Balance.Equal(tt.want), "got %s", record.Balance)
		})
	}
}

func TestReadBalance_NotFoundIsUnavailable(t *testing.T) {
	t.Parallel()

	// The marker came from the index moments ago; a 404 here means the store
	// is answering inconsistently, not that the account is missing.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).ReadBalance(context.Background(), testAccount, "v42")
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
	require.NotErrorIs(t, err, constant.ErrAccountNotProvisioned)
}

func TestCompareAndWrite_SendsConditionalPut(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/data/central/4632941", r.URL.Path)
		assert.Equal(t, "v42", r.Header.Get(constant.HeaderIfMatch))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"balance":"70"}`, string(body))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	record := bank.BalanceRecord{Balance: decimal.RequireFromString("70")}
	err := newTestClient(t, server.URL).CompareAndWrite(context.Background(), testAccount, "v42", record)
	require.NoError(t, err)
}

func TestCompareAndWrite_StaleVersionConflicts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer server.Close()

	record := bank.BalanceRecord{Balance: decimal.RequireFromString("70")}
	err := newTestClient(t, server.URL).CompareAndWrite(context.Background(), testAccount, "v42", record)
	require.ErrorIs(t, err, constant.ErrBalanceVersionConflict)
	assert.ErrorContains(t, err, "v42")

	// One attempt, no retry. The conflict belongs to the caller.
	assert.Equal(t, int32(1), hits.Load())
}

func TestCompareAndWrite_ServerFaultIsUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	record := bank.BalanceRecord{Balance: decimal.RequireFromString("70")}
	err := newTestClient(t, server.URL).CompareAndWrite(context.Background(), testAccount, "v42", record)
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
}

func TestRequestTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(`{"versions":["v1"]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, RequestTimeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = client.LatestVersion(context.Background(), testAccount)
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
}

func TestOpenBreakerFailsFastWithoutCallingStore(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	// HTTPServiceConfig opens the breaker after five consecutive faults.
	for i := 0; i < 5; i++ {
		_, err := client.LatestVersion(context.Background(), testAccount)
		require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
	}

	require.Equal(t, circuitbreaker.StateOpen, client.breaker.State())

	_, err := client.LatestVersion(context.Background(), testAccount)
	require.ErrorIs(t, err, constant.ErrBalanceStoreUnavailable)
	assert.Equal(t, int32(5), hits.Load())
}
