package codes

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDefaultCodebookLookup(t *testing.T) {
	cb, err := Default()
	require.NoError(t, err)

	code, err := cb.Lookup(PaymentType, " Cash ")
	require.NoError(t, err)
	require.Equal(t, "01", code)

	code, err = cb.Lookup(Country, "RW")
	require.NoError(t, err)
	require.Equal(t, "RW", code)

	_, err = cb.Lookup(PaymentType, "barter")
	require.ErrorIs(t, err, ErrUnmappedCode)

	require.True(t, cb.Taxes().Has("B"))
	b, err := cb.Taxes().Resolve("VAT 18%")
	require.NoError(t, err)
	require.Equal(t, "18", b.Rate.String())

	category, ok := cb.CategoryFor("Packing Unit")
	require.True(t, ok)
	require.Equal(t, PackagingUnit, category)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("categories: [oops"))
	require.Error(t, err)
}

func TestTranslatePaymentType(t *testing.T) {
	rec, err := DefaultTable.Translate(string(PaymentType), map[string]any{
		"cd": "06", "cdNm": "MOBILE MONEY", "useYn": "Y",
	})
	require.NoError(t, err)
	require.Equal(t, "06", rec.String("code"))
	require.Equal(t, "MOBILE MONEY", rec.String("label"))
	require.True(t, rec.Bool("active"))
	require.Equal(t, "Phone", rec.String("kind"))

	rec, err = DefaultTable.Translate(string(PaymentType), map[string]any{"cd": "07", "cdNm": "OTHER", "useYn": "N"})
	require.NoError(t, err)
	require.False(t, rec.Bool("active"))
	require.Equal(t, "General", rec.String("kind"))
}

func TestTranslatePackagingClassification(t *testing.T) {
	rec, err := DefaultTable.Translate(string(PackagingUnit), map[string]any{"cd": "BG", "cdNm": "Bag", "useYn": "Y", "cdClsNm": "Packing Unit"})
	require.NoError(t, err)
	require.Equal(t, "1", rec.String("packaging"))

	rec, err = DefaultTable.Translate(string(QuantityUnit), map[string]any{"cd": "KG", "cdNm": "Kilogram", "useYn": "Y", "cdClsNm": "Quantity Unit"})
	require.NoError(t, err)
	require.Equal(t, "0", rec.String("packaging"))
}

func TestTranslateUnknownTransform(t *testing.T) {
	table := Table{{TargetType: "x", FieldName: "f", Source: "s", Transform: Transform{Kind: "eval"}}}
	_, err := table.Translate("x", map[string]any{"s": "1"})
	require.Error(t, err)
	_, err = table.Translate("y", map[string]any{})
	require.Error(t, err)
}

func TestStoreOverlay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewStore(client, "999000111:00")
	require.NoError(t, store.Save(ctx, PaymentType, map[string]string{"Crypto Wallet": "08"}))

	loaded, err := store.Load(ctx, PaymentType)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"crypto wallet": "08"}, loaded)

	cb, err := Default()
	require.NoError(t, err)
	require.NoError(t, store.Overlay(ctx, cb))
	code, err := cb.Lookup(PaymentType, "crypto wallet")
	require.NoError(t, err)
	require.Equal(t, "08", code)

	code, err = cb.Lookup(PaymentType, "cash")
	require.NoError(t, err)
	require.Equal(t, "01", code)
}
