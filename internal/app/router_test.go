package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/internal/observability"
	"github.com/odyssey-erp/fiscalbridge/internal/ops"
)

func get(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoints(t *testing.T) {
	ready := errors.New("redis: connection refused")
	router := NewRouter(RouterParams{
		Config:  validConfig(),
		Metrics: observability.NewMetrics(),
		Ready:   func(context.Context) error { return ready },
	})

	rr := get(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	require.Equal(t, http.StatusServiceUnavailable, get(router, http.MethodGet, "/readyz", "").Code)
	ready = nil
	require.Equal(t, http.StatusOK, get(router, http.MethodGet, "/readyz", "").Code)

	rr = get(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "fiscal_ops_http_requests_total")
}

func TestOpsRoutesNeedOperatorToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := validConfig()
	cfg.OpsTokenHash = string(hash)

	router := NewRouter(RouterParams{
		Config:     cfg,
		Metrics:    observability.NewMetrics(),
		OpsHandler: ops.NewHandler(nil, emptyHistory{}, nil),
	})

	require.Equal(t, http.StatusUnauthorized, get(router, http.MethodGet, "/ops/submissions/sale/S1", "").Code)
	require.Equal(t, http.StatusUnauthorized, get(router, http.MethodGet, "/ops/submissions/sale/S1", "wrong").Code)

	rr := get(router, http.MethodGet, "/ops/submissions/sale/S1", "s3cret")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Header().Get("Cache-Control"), "no-cache")
}

func TestOperatorAuthWithoutHashRejectsAll(t *testing.T) {
	h := OperatorAuth("", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.Equal(t, http.StatusUnauthorized, get(h, http.MethodPost, "/sweep", "anything").Code)
}

type emptyHistory struct{}

func (emptyHistory) History(context.Context, fiscal.Class, string) ([]ledger.Entry, error) {
	return nil, nil
}

func (emptyHistory) Reprint(context.Context, fiscal.Class, string) (ledger.Entry, error) {
	return ledger.Entry{}, ledger.ErrNotFound
}
