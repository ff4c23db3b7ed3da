package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/wire"
)

func order(id, price, qty string) wire.Level3Order {
	return wire.Level3Order{OrderID: id, LimitPrice: d(price), OrderQty: d(qty)}
}

func TestL3BookSnapshotIndexesBothSides(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{
		Bids: []wire.Level3Order{order("b1", "100", "1"), order("b2", "100", "2"), order("b3", "99", "1")},
		Asks: []wire.Level3Order{order("a1", "101", "1")},
	})

	assert.Equal(t, 4, book.OrderCount())
	price, qty, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(d("100")))
	assert.True(t, qty.Equal(d("3")), "both orders resting at 100 should aggregate")
	assert.Equal(t, 2, book.OrdersAtBest(SideBid))
}

func TestL3BookAddModifyDelete(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{})

	addOrder := order("o1", "100", "1")
	addOrder.Event = wire.EventAdd
	errs := book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{addOrder}})
	assert.Empty(t, errs)
	assert.Equal(t, int64(1), book.AddEvents)
	assert.Equal(t, 1, book.OrderCount())

	modOrder := order("o1", "105", "2")
	modOrder.Event = wire.EventModify
	errs = book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{modOrder}})
	assert.Empty(t, errs)
	price, qty, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(d("105")))
	assert.True(t, qty.Equal(d("2")))
	assert.Equal(t, int64(1), book.ModifyEvents)

	delOrder := wire.Level3Order{OrderID: "o1", Event: wire.EventDelete}
	errs = book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{delOrder}})
	assert.Empty(t, errs)
	assert.Equal(t, 0, book.OrderCount())
	assert.Equal(t, int64(1), book.DeleteEvents)
}

func TestL3BookModifyUnknownOrderIsDropped(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{})

	modOrder := order("ghost", "100", "1")
	modOrder.Event = wire.EventModify
	errs := book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{modOrder}})

	require.Len(t, errs, 1)
	var target *kerrors.UnknownOrderError
	assert.ErrorAs(t, errs[0], &target)
	assert.Equal(t, int64(1), book.DroppedCount)
}

func TestL3BookModifySideMismatchIsDropped(t *testing.T) {
	book := NewL3Book("BTC/USD")
	addOrder := order("o1", "100", "1")
	addOrder.Event = wire.EventAdd
	book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{addOrder}})

	modOrder := order("o1", "100", "1")
	modOrder.Event = wire.EventModify
	errs := book.ApplyUpdate(wire.BookL3Record{Asks: []wire.Level3Order{modOrder}})

	require.Len(t, errs, 1)
	var target *kerrors.SideMismatchError
	require.ErrorAs(t, errs[0], &target)
	assert.Equal(t, "bid", target.ActualSide)
	assert.Equal(t, "ask", target.WireSide)

	// the order must remain untouched on its original side
	price, _, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(d("100")))
}

func TestL3BookDeleteUnknownOrderIsDropped(t *testing.T) {
	book := NewL3Book("BTC/USD")
	errs := book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{{OrderID: "ghost", Event: wire.EventDelete}}})

	require.Len(t, errs, 1)
	var target *kerrors.UnknownOrderError
	assert.ErrorAs(t, errs[0], &target)
}

func TestL3BookDuplicateAddReplaces(t *testing.T) {
	book := NewL3Book("BTC/USD")
	first := order("o1", "100", "1")
	first.Event = wire.EventAdd
	book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{first}})

	second := order("o1", "200", "9")
	second.Event = wire.EventAdd
	errs := book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{second}})

	assert.Empty(t, errs)
	assert.Equal(t, 1, book.OrderCount())
	price, qty, _ := book.BestBid()
	assert.True(t, price.Equal(d("200")))
	assert.True(t, qty.Equal(d("9")))
}

func TestL3BookOrderCountMatchesPriceIndexInvariant(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{
		Bids: []wire.Level3Order{order("b1", "100", "1"), order("b2", "99", "1")},
		Asks: []wire.Level3Order{order("a1", "101", "1")},
	})

	assert.Equal(t, book.OrderCount(), book.TotalOrders(SideBid)+book.TotalOrders(SideAsk))
}

func TestL3BookResetEventCounters(t *testing.T) {
	book := NewL3Book("BTC/USD")
	addOrder := order("o1", "100", "1")
	addOrder.Event = wire.EventAdd
	book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{addOrder}})
	require.Equal(t, int64(1), book.AddEvents)

	book.ResetEventCounters()
	assert.Zero(t, book.AddEvents)
	assert.Zero(t, book.ModifyEvents)
	assert.Zero(t, book.DeleteEvents)
}

func TestL3BookValidateChecksum(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{
		Bids: []wire.Level3Order{order("b1", "100", "1")},
		Asks: []wire.Level3Order{order("a1", "101", "1")},
	})

	want := ChecksumL3(book)
	assert.NoError(t, book.ValidateChecksum(want))
	assert.Error(t, book.ValidateChecksum(want+1))
}

func TestL3BookCompactRemapsIndices(t *testing.T) {
	book := NewL3Book("BTC/USD")
	book.ApplySnapshot(wire.BookL3Record{
		Bids: []wire.Level3Order{order("b1", "100", "1"), order("b2", "99", "1")},
	})
	book.ApplyUpdate(wire.BookL3Record{Bids: []wire.Level3Order{{OrderID: "b1", Event: wire.EventDelete}}})

	book.Compact()

	assert.Equal(t, 1, book.OrderCount())
	price, qty, ok := book.BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(d("99")))
	assert.True(t, qty.Equal(d("1")))
}
