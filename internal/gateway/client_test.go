package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(fiscal.Tenant{BaseURL: srv.URL + "/", TIN: "999000111", BranchID: "00"}, opts...)
	require.NoError(t, err)
	return client
}

func TestSendAcknowledged(t *testing.T) {
	var gotPath string
	var gotBody []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"resultCd":"000","resultMsg":"It is succeeded","resultDt":"20240301093001","data":{"rcptNo":12,"rcptSign":"ABCD"}}`))
	})

	out := client.Send(context.Background(), fiscal.ClassSale.Endpoint(), []byte(`{"invcNo":1}`))
	require.Equal(t, Acknowledged, out.Kind)
	require.Equal(t, "/trnsSales/saveSales", gotPath)
	require.JSONEq(t, `{"invcNo":1}`, string(gotBody))
	require.JSONEq(t, `{"rcptNo":12,"rcptSign":"ABCD"}`, string(out.Data))
	require.False(t, out.IsDuplicate())
	require.Empty(t, out.Detail())
}

func TestSendClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      Kind
		duplicate bool
	}{
		{name: "duplicate", status: 200, body: `{"resultCd":"924","resultMsg":"Invoice number already exists"}`, kind: Rejected, duplicate: true},
		{name: "business rejection", status: 200, body: `{"resultCd":"910","resultMsg":"Request parameter error"}`, kind: Rejected},
		{name: "server error", status: 502, body: `bad gateway`, kind: Unreachable},
		{name: "server error with result code", status: 500, body: `{"resultCd":"000"}`, kind: Unreachable},
		{name: "malformed body", status: 200, body: `<html>`, kind: Unreachable},
		{name: "missing result code", status: 200, body: `{"resultMsg":"ok"}`, kind: Unreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			out := client.Send(context.Background(), "/trnsSales/saveSales", []byte(`{}`))
			require.Equal(t, tc.kind, out.Kind)
			require.Equal(t, tc.duplicate, out.IsDuplicate())
			require.NotEmpty(t, out.Detail())
		})
	}
}

func TestSendTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	out := client.Send(context.Background(), "/trnsSales/saveSales", []byte(`{}`))
	require.Equal(t, Unreachable, out.Kind)
	require.Error(t, out.Err)
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(fiscal.Tenant{BaseURL: url, TIN: "999000111", BranchID: "00"})
	require.NoError(t, err)
	out := client.Send(context.Background(), "/trnsSales/saveSales", []byte(`{}`))
	require.Equal(t, Unreachable, out.Kind)
	require.Error(t, out.Err)
}

func TestCallMergesTenantIdentity(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"resultCd":"000","data":{"clsList":[]}}`))
	})

	data, err := client.Call(context.Background(), "/code/selectCodes", map[string]any{"lastReqDt": "20180520000000", "tin": "spoofed"})
	require.NoError(t, err)
	require.JSONEq(t, `{"clsList":[]}`, string(data))
	require.Equal(t, "999000111", got["tin"])
	require.Equal(t, "00", got["bhfId"])
	require.Equal(t, "20180520000000", got["lastReqDt"])
}

func TestCallRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCd":"001","resultMsg":"There is no search result"}`))
	})
	_, err := client.Call(context.Background(), "/code/selectCodes", nil)
	require.ErrorContains(t, err, "001")
}

func TestNewRejectsIncompleteTenant(t *testing.T) {
	_, err := New(fiscal.Tenant{TIN: "999000111"})
	require.Error(t, err)
}

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ObserveGateway(endpoint, outcome string, elapsed time.Duration) {
	o.calls = append(o.calls, endpoint+" "+outcome)
}

func TestSendReportsToObserver(t *testing.T) {
	observer := &recordingObserver{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCd":"924","resultMsg":"Invoice number already exists"}`))
	}, WithObserver(observer))

	out := client.Send(context.Background(), fiscal.ClassSale.Endpoint(), []byte(`{"invcNo":2}`))
	require.True(t, out.IsDuplicate())
	require.Equal(t, []string{"/trnsSales/saveSales rejected"}, observer.calls)
}

func TestWithTimeoutLeavesCallerClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: 30 * time.Second}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, WithHTTPClient(shared), WithTimeout(50*time.Millisecond))

	out := client.Send(context.Background(), fiscal.ClassSale.Endpoint(), []byte(`{"invcNo":1}`))
	require.Equal(t, Unreachable, out.Kind)
	require.Equal(t, 30*time.Second, shared.Timeout)
	require.NotSame(t, shared, client.http)
}
