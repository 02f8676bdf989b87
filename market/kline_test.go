package market

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTicksCSV(t *testing.T) {
	data := `timestamp,open,high,low,close,volume
1700000000000,25100,25200,24900,25050,12.5
2023-11-14T22:14:20Z,25050,25300,25000,25250,8
`
	var got []Tick
	for tk, err := range ReadTicksCSV(strings.NewReader(data)) {
		require.NoError(t, err)
		got = append(got, tk)
	}
	require.Len(t, got, 2)
	assert.True(t, got[0].Low.Equal(decimal.RequireFromString("24900")))
	assert.Equal(t, int64(1700000000000), got[0].Timestamp.UnixMilli())
	assert.True(t, got[1].Volume.Equal(decimal.NewFromInt(8)))
	assert.True(t, got[1].Bullish())
}

func TestReadTicksCSVNoHeaderNoVolume(t *testing.T) {
	data := "1,10,11,9,10.5\n2,10.5,12,10,11\n"
	n := 0
	for tk, err := range ReadTicksCSV(strings.NewReader(data)) {
		require.NoError(t, err)
		assert.True(t, tk.Volume.IsZero())
		n++
	}
	assert.Equal(t, 2, n)
}

func TestReadTicksCSVBadRow(t *testing.T) {
	data := "1,10,11,9,10.5\n2,abc,12,10,11\n3,1,1,1,1\n"
	var errs, rows int
	for _, err := range ReadTicksCSV(strings.NewReader(data)) {
		if err != nil {
			errs++
			assert.Contains(t, err.Error(), "line 2")
			continue
		}
		rows++
	}
	assert.Equal(t, 1, rows)
	assert.Equal(t, 1, errs)
}

func TestFromSliceStopsEarly(t *testing.T) {
	ticks := []Tick{{}, {}, {}}
	n := 0
	for range FromSlice(ticks) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestReadTicksCSVRejectsTimestampRegression(t *testing.T) {
	data := "timestamp,open,high,low,close\n120000,10,11,9,10\n120000,10,11,9,10\n60000,10,11,9,10\n"
	var rows int
	var gotErr error
	for _, err := range ReadTicksCSV(strings.NewReader(data)) {
		if err != nil {
			gotErr = err
			break
		}
		rows++
	}
	assert.Equal(t, 2, rows)
	var ooo *OutOfOrderDataError
	require.ErrorAs(t, gotErr, &ooo)
	assert.Equal(t, 2, ooo.Index)
	assert.Contains(t, gotErr.Error(), "line 4")
}
