package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryReserveRelease(t *testing.T) {
	inv := New(d("0"), d("1000"))
	require.NoError(t, inv.Reserve(AssetQuote, d("250.25")))
	assert.True(t, inv.Available(AssetQuote).Equal(d("749.75")))

	err := inv.Reserve(AssetQuote, d("800"))
	var ib *InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, AssetQuote, ib.Asset)
	assert.True(t, ib.Available.Equal(d("749.75")))
	// 失败的冻结不改变状态
	assert.True(t, inv.ReservedQuote.Equal(d("250.25")))

	inv.Release(AssetQuote, d("250.25"))
	assert.True(t, inv.ReservedQuote.IsZero())
	assert.NoError(t, inv.Verify())
}

func TestInventoryVerify(t *testing.T) {
	inv := New(d("1"), d("0"))
	inv.ReservedBase = d("2")
	assert.Error(t, inv.Verify())

	inv = New(d("1"), d("0"))
	inv.Debit(AssetBase, d("1.5"))
	assert.Error(t, inv.Verify())
}
