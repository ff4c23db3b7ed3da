package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/wire"
)

var bps10000 = decimal.NewFromInt(10000)

// L2Metrics is the microstructure snapshot computed on demand for an L2
// book (§4.3, shared metric set).
type L2Metrics struct {
	BestBid        decimal.Decimal
	BestBidQty     decimal.Decimal
	BestAsk        decimal.Decimal
	BestAskQty     decimal.Decimal
	Spread         decimal.Decimal
	SpreadBps      decimal.Decimal
	MidPrice       decimal.Decimal
	BidVolumeTop10 decimal.Decimal
	AskVolumeTop10 decimal.Decimal
	Imbalance      decimal.Decimal
	Depth10Bps     decimal.Decimal
	Depth25Bps     decimal.Decimal
	Depth50Bps     decimal.Decimal
}

// CalculateMetrics computes the standard microstructure metric set for an
// L2 book. Returns a CrossedBookError if best bid >= best ask; the metrics
// are still returned (§7: CrossedBook is reported but the row is still
// written).
func (b *L2Book) CalculateMetrics() (L2Metrics, error) {
	var m L2Metrics
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return m, nil
	}
	m.BestBid, m.BestBidQty = bid.Price, bid.Qty
	m.BestAsk, m.BestAskQty = ask.Price, ask.Qty
	m.MidPrice = bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
	m.Spread = ask.Price.Sub(bid.Price)

	var crossErr error
	if bid.Price.GreaterThanOrEqual(ask.Price) {
		crossErr = &kerrors.CrossedBookError{Symbol: b.Symbol, BestBid: bid.Price.String(), BestAsk: ask.Price.String()}
	}
	if !m.MidPrice.IsZero() {
		m.SpreadBps = m.Spread.Div(m.MidPrice).Mul(bps10000)
	}

	m.BidVolumeTop10 = sumQty(b.TopN(SideBid, 10))
	m.AskVolumeTop10 = sumQty(b.TopN(SideAsk, 10))
	total := m.BidVolumeTop10.Add(m.AskVolumeTop10)
	if !total.IsZero() {
		m.Imbalance = m.BidVolumeTop10.Sub(m.AskVolumeTop10).Div(total)
	}

	m.Depth10Bps = b.VolumeWithinBps(m.MidPrice, 10, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 10, SideAsk))
	m.Depth25Bps = b.VolumeWithinBps(m.MidPrice, 25, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 25, SideAsk))
	m.Depth50Bps = b.VolumeWithinBps(m.MidPrice, 50, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 50, SideAsk))

	return m, crossErr
}

func sumQty(levels []wire.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Qty)
	}
	return total
}

// L3Metrics is the microstructure snapshot computed on demand for an L3
// book, extending L2Metrics with per-order statistics (§4.3).
type L3Metrics struct {
	L2Metrics

	BidOrderCount    int
	AskOrderCount    int
	BidOrdersAtBest  int
	AskOrdersAtBest  int
	AvgBidOrderSize  decimal.Decimal
	AvgAskOrderSize  decimal.Decimal
	AddEvents        int64
	ModifyEvents     int64
	DeleteEvents     int64
	OrderArrivalRate decimal.Decimal
	OrderCancelRate  decimal.Decimal
}

// CalculateMetrics computes the full L3 metric set. intervalSeconds is used
// to derive arrival/cancel flow rates from the event counters accumulated
// since the last ResetEventCounters (§4.9); pass 0 to skip rate
// computation. Calling CalculateMetrics does not reset the counters.
func (b *L3Book) CalculateMetrics(intervalSeconds decimal.Decimal) (L3Metrics, error) {
	var m L3Metrics

	bidPrice, bidQty, hasBid := b.BestBid()
	askPrice, askQty, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return m, nil
	}
	m.BestBid, m.BestBidQty = bidPrice, bidQty
	m.BestAsk, m.BestAskQty = askPrice, askQty
	m.MidPrice = bidPrice.Add(askPrice).Div(decimal.NewFromInt(2))
	m.Spread = askPrice.Sub(bidPrice)

	var crossErr error
	if bidPrice.GreaterThanOrEqual(askPrice) {
		crossErr = &kerrors.CrossedBookError{Symbol: b.Symbol, BestBid: bidPrice.String(), BestAsk: askPrice.String()}
	}
	if !m.MidPrice.IsZero() {
		m.SpreadBps = m.Spread.Div(m.MidPrice).Mul(bps10000)
	}

	m.BidVolumeTop10 = b.TopNVolume(SideBid, 10)
	m.AskVolumeTop10 = b.TopNVolume(SideAsk, 10)
	total := m.BidVolumeTop10.Add(m.AskVolumeTop10)
	if !total.IsZero() {
		m.Imbalance = m.BidVolumeTop10.Sub(m.AskVolumeTop10).Div(total)
	}

	m.Depth10Bps = b.VolumeWithinBps(m.MidPrice, 10, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 10, SideAsk))
	m.Depth25Bps = b.VolumeWithinBps(m.MidPrice, 25, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 25, SideAsk))
	m.Depth50Bps = b.VolumeWithinBps(m.MidPrice, 50, SideBid).Add(b.VolumeWithinBps(m.MidPrice, 50, SideAsk))

	m.BidOrderCount = b.TotalOrders(SideBid)
	m.AskOrderCount = b.TotalOrders(SideAsk)
	m.BidOrdersAtBest = b.OrdersAtBest(SideBid)
	m.AskOrdersAtBest = b.OrdersAtBest(SideAsk)
	if m.BidOrderCount > 0 {
		m.AvgBidOrderSize = b.TotalVolume(SideBid).Div(decimal.NewFromInt(int64(m.BidOrderCount)))
	}
	if m.AskOrderCount > 0 {
		m.AvgAskOrderSize = b.TotalVolume(SideAsk).Div(decimal.NewFromInt(int64(m.AskOrderCount)))
	}

	m.AddEvents, m.ModifyEvents, m.DeleteEvents = b.AddEvents, b.ModifyEvents, b.DeleteEvents
	if !intervalSeconds.IsZero() {
		m.OrderArrivalRate = decimal.NewFromInt(b.AddEvents).Div(intervalSeconds)
		m.OrderCancelRate = decimal.NewFromInt(b.DeleteEvents).Div(intervalSeconds)
	}

	return m, crossErr
}
