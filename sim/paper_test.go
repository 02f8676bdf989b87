package sim_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/order"
	"grid-trader-go/sim"
)

func TestPaperAdapter_DeliversFillsThenTick(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	var got []order.Event
	p := sim.NewPaperAdapter(m, func(ev order.Event) error {
		got = append(got, ev)
		return nil
	})

	id, err := p.Place(context.Background(), order.SideBuy, dec("100"), dec("1"))
	require.NoError(t, err)
	require.NoError(t, p.OnTick(tick(0, "101", "102", "99", "100")))

	require.Len(t, got, 2)
	assert.Equal(t, order.EventFill, got[0].Kind)
	assert.Equal(t, id, got[0].ExchangeID)
	assert.Equal(t, order.EventTick, got[1].Kind)
}

func TestPaperAdapter_SinkErrorStopsDelivery(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	boom := errors.New("queue closed")
	calls := 0
	p := sim.NewPaperAdapter(m, func(order.Event) error {
		calls++
		return boom
	})
	_, _ = p.Place(context.Background(), order.SideBuy, dec("100"), dec("1"))
	err := p.OnTick(tick(0, "101", "102", "99", "100"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPaperAdapter_CancelForwarded(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	p := sim.NewPaperAdapter(m, func(order.Event) error { return nil })
	id, err := p.Place(context.Background(), order.SideSell, dec("100"), dec("1"))
	require.NoError(t, err)
	require.NoError(t, p.Cancel(context.Background(), id))
	assert.Equal(t, 0, m.Resting())
}
