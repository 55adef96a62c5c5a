package codes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	endpoint string
	fields   map[string]any
	data     string
	err      error
}

func (s *stubCaller) Call(_ context.Context, endpoint string, fields map[string]any) (json.RawMessage, error) {
	s.endpoint = endpoint
	s.fields = fields
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.data), nil
}

func TestSyncStoresTranslatedCodes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	caller := &stubCaller{data: `{"clsList":[
		{"cdCls":"07","cdClsNm":"Payment Type","dtlList":[
			{"cd":"09","cdNm":"MOBILE WALLET","useYn":"Y"},
			{"cd":"10","cdNm":"RETIRED","useYn":"N"}
		]},
		{"cdCls":"99","cdClsNm":"Unknown Class","dtlList":[{"cd":"1","cdNm":"x","useYn":"Y"}]}
	]}`}

	ctx := context.Background()
	cb, err := Default()
	require.NoError(t, err)
	store := NewStore(client, "999000111:00")

	report, err := Sync(ctx, caller, DefaultTable, cb, store, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, SelectCodesEndpoint, caller.endpoint)
	require.Equal(t, "20240101000000", caller.fields["lastReqDt"])
	require.Equal(t, []string{"Unknown Class"}, report.Skipped)
	require.Equal(t, 2, report.Categories[PaymentType])

	loaded, err := store.Load(ctx, PaymentType)
	require.NoError(t, err)
	require.Equal(t, "09", loaded["mobile wallet"])
	require.Equal(t, "09", loaded["phone"])
	require.NotContains(t, loaded, "retired")

	code, err := cb.Lookup(PaymentType, "Mobile Wallet")
	require.NoError(t, err)
	require.Equal(t, "09", code)
}

func TestIncrementalSyncKeepsUnchangedCodes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cb, err := Default()
	require.NoError(t, err)
	store := NewStore(client, "999000111:00")

	full := &stubCaller{data: `{"clsList":[{"cdCls":"07","cdClsNm":"Payment Type","dtlList":[
		{"cd":"01","cdNm":"CASH","useYn":"Y"},
		{"cd":"09","cdNm":"MOBILE WALLET","useYn":"Y"}
	]}]}`}
	_, err = Sync(ctx, full, DefaultTable, cb, store, time.Time{})
	require.NoError(t, err)

	changed := &stubCaller{data: `{"clsList":[{"cdCls":"07","cdClsNm":"Payment Type","dtlList":[
		{"cd":"11","cdNm":"CRYPTO","useYn":"Y"}
	]}]}`}
	_, err = Sync(ctx, changed, DefaultTable, cb, store, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	loaded, err := store.Load(ctx, PaymentType)
	require.NoError(t, err)
	require.Equal(t, "01", loaded["cash"])
	require.Equal(t, "09", loaded["mobile wallet"])
	require.Equal(t, "11", loaded["crypto"])

	// A full pull replaces the category.
	_, err = Sync(ctx, changed, DefaultTable, cb, store, time.Time{})
	require.NoError(t, err)
	loaded, err = store.Load(ctx, PaymentType)
	require.NoError(t, err)
	require.NotContains(t, loaded, "cash")
	require.Equal(t, "11", loaded["crypto"])
}

func TestSyncPropagatesGatewayFailure(t *testing.T) {
	cb, err := Default()
	require.NoError(t, err)
	_, err = Sync(context.Background(), &stubCaller{err: errors.New("unreachable")}, DefaultTable, cb, nil, time.Time{})
	require.ErrorContains(t, err, "unreachable")
}
