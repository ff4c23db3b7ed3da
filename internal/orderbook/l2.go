// Package orderbook reconstructs authoritative in-memory book state from
// the snapshot+delta wire protocol (C2, C3), verifies the announced CRC32
// checksum (C4), and derives microstructure metrics. The L2 and L3 books are
// adapted from the teacher's exchanges/orderbook package and
// exchanges/okx's checksum routine, generalised from that package's
// slice-of-levels idiom to the price-indexed, side-ordered structure this
// protocol's snapshot/delta semantics need.
package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/klog"
	"github.com/kdepth/krakenfeed/internal/wire"
)

// state is the L2 lifecycle: Empty until the first snapshot, Initialized
// thereafter (§4.2).
type state int

const (
	stateEmpty state = iota
	stateInitialized
)

// L2Book maintains the aggregated price->qty book for a single symbol.
// Bids are kept descending by price, asks ascending, as a sorted slice --
// idiomatic Go has no builtin ordered map, and a sorted slice gives O(1)
// best-of-book and O(log n) lookup via binary search; inserting or
// removing a level shifts the slice, which is O(n).
type L2Book struct {
	Symbol string

	bids []wire.PriceLevel // descending by price
	asks []wire.PriceLevel // ascending by price

	state state
}

// NewL2Book constructs an empty L2 book for symbol.
func NewL2Book(symbol string) *L2Book {
	return &L2Book{Symbol: symbol, state: stateEmpty}
}

// Apply folds one decoded L2 record into book state (§4.2).
func (b *L2Book) Apply(rec wire.BookL2Record) {
	if rec.Kind == wire.TypeSnapshot {
		b.bids = b.bids[:0]
		b.asks = b.asks[:0]
		for _, lvl := range rec.Bids {
			if lvl.Qty.Sign() > 0 {
				b.bids = insertLevel(b.bids, lvl, true)
			}
		}
		for _, lvl := range rec.Asks {
			if lvl.Qty.Sign() > 0 {
				b.asks = insertLevel(b.asks, lvl, false)
			}
		}
		b.state = stateInitialized
		return
	}

	if b.state == stateEmpty {
		klog.Debugf(klog.OrderBookMgr, "%s: applying update before any snapshot", b.Symbol)
	}
	for _, lvl := range rec.Bids {
		b.bids = applyLevel(b.bids, lvl, true)
	}
	for _, lvl := range rec.Asks {
		b.asks = applyLevel(b.asks, lvl, false)
	}
}

// applyLevel sets/removes one price level: qty>0 upserts, qty==0 removes
// (benign no-op if the price was not present).
func applyLevel(levels []wire.PriceLevel, lvl wire.PriceLevel, descending bool) []wire.PriceLevel {
	idx, found := searchLevel(levels, lvl.Price, descending)
	if lvl.Qty.Sign() == 0 {
		if found {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}
	if found {
		levels[idx].Qty = lvl.Qty
		return levels
	}
	out := make([]wire.PriceLevel, len(levels)+1)
	copy(out, levels[:idx])
	out[idx] = lvl
	copy(out[idx+1:], levels[idx:])
	return out
}

// insertLevel inserts an already-known-new level during snapshot
// construction, where input order is not guaranteed to match book order.
func insertLevel(levels []wire.PriceLevel, lvl wire.PriceLevel, descending bool) []wire.PriceLevel {
	idx, _ := searchLevel(levels, lvl.Price, descending)
	out := make([]wire.PriceLevel, len(levels)+1)
	copy(out, levels[:idx])
	out[idx] = lvl
	copy(out[idx+1:], levels[idx:])
	return out
}

// searchLevel returns the insertion index for price and whether it is
// already present.
func searchLevel(levels []wire.PriceLevel, price decimal.Decimal, descending bool) (int, bool) {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})
	if idx < len(levels) && levels[idx].Price.Equal(price) {
		return idx, true
	}
	return idx, false
}

// BestBid returns the highest bid, or ok=false if the book has no bids.
func (b *L2Book) BestBid() (wire.PriceLevel, bool) {
	if len(b.bids) == 0 {
		return wire.PriceLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask, or ok=false if the book has no asks.
func (b *L2Book) BestAsk() (wire.PriceLevel, bool) {
	if len(b.asks) == 0 {
		return wire.PriceLevel{}, false
	}
	return b.asks[0], true
}

// Side selects bid or ask.
type Side int

// Recognised sides.
const (
	SideBid Side = iota
	SideAsk
)

// TopN returns up to n levels from the given side in natural (best-first)
// order.
func (b *L2Book) TopN(side Side, n int) []wire.PriceLevel {
	src := b.bids
	if side == SideAsk {
		src = b.asks
	}
	if n > len(src) {
		n = len(src)
	}
	out := make([]wire.PriceLevel, n)
	copy(out, src[:n])
	return out
}

// VolumeWithinBps sums qty on side within bps of refPrice, terminating at
// the first out-of-range level since both sides are kept sorted (§4.2).
func (b *L2Book) VolumeWithinBps(refPrice decimal.Decimal, bps int64, side Side) decimal.Decimal {
	src := b.bids
	if side == SideAsk {
		src = b.asks
	}
	bound := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
	var limit decimal.Decimal
	if side == SideBid {
		limit = refPrice.Mul(decimal.NewFromInt(1).Sub(bound))
	} else {
		limit = refPrice.Mul(decimal.NewFromInt(1).Add(bound))
	}

	total := decimal.Zero
	for _, lvl := range src {
		if side == SideBid && lvl.Price.LessThan(limit) {
			break
		}
		if side == SideAsk && lvl.Price.GreaterThan(limit) {
			break
		}
		total = total.Add(lvl.Qty)
	}
	return total
}

// ValidateChecksum delegates to the CRC32 verifier (C4) over this book's
// current top-of-book.
func (b *L2Book) ValidateChecksum(expected uint32) error {
	got := ChecksumL2(b.asks, b.bids)
	if got != expected {
		return &kerrors.ChecksumMismatchError{Symbol: b.Symbol, Expected: expected, Got: got}
	}
	return nil
}

// Bids exposes the current bid side, best-first. Callers must not mutate
// the returned slice.
func (b *L2Book) Bids() []wire.PriceLevel { return b.bids }

// Asks exposes the current ask side, best-first. Callers must not mutate
// the returned slice.
func (b *L2Book) Asks() []wire.PriceLevel { return b.asks }

// Initialized reports whether at least one snapshot has been applied.
func (b *L2Book) Initialized() bool { return b.state == stateInitialized }
