package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/wire"
)

// Order is one resting order in an L3 book.
type Order struct {
	OrderID    string
	LimitPrice decimal.Decimal
	OrderQty   decimal.Decimal
	Timestamp  string
	live       bool // false once tombstoned
}

// l3Side tracks which array an order was inserted from; stable across
// modifies (§3).
type l3Side int

const (
	l3SideBid l3Side = iota
	l3SideAsk
)

// L3Book maintains the dual-indexed order-by-order book for a single
// symbol using the arena option from §3.1/§9 design note (a): orders live
// in a single backing slice addressed by stable integer index, and both
// `by_id` and the two price-ordered indices hold that index rather than a
// second copy of the Order or a pointer web, which keeps GC pressure and
// cross-reference bookkeeping to a minimum.
type L3Book struct {
	Symbol string

	arena    []Order
	freeList []int
	sides    []l3Side // parallel to arena: side each slot was inserted on

	byID map[string]int // order_id -> arena index

	bidsByPrice []priceBucket // descending by price
	asksByPrice []priceBucket // ascending by price

	AddEvents    int64
	ModifyEvents int64
	DeleteEvents int64
	DroppedCount int64
}

// priceBucket is one price level's list of arena indices, never empty while
// present in the slice (§3 invariant: empty buckets are removed).
type priceBucket struct {
	price   decimal.Decimal
	indices []int
}

// NewL3Book constructs an empty L3 book for symbol.
func NewL3Book(symbol string) *L3Book {
	return &L3Book{Symbol: symbol, byID: make(map[string]int)}
}

// ApplySnapshot drops all orders and rebuilds from rec (§4.3).
func (b *L3Book) ApplySnapshot(rec wire.BookL3Record) {
	b.arena = b.arena[:0]
	b.freeList = b.freeList[:0]
	b.sides = b.sides[:0]
	b.byID = make(map[string]int, len(rec.Bids)+len(rec.Asks))
	b.bidsByPrice = nil
	b.asksByPrice = nil

	for _, o := range rec.Bids {
		b.insertNew(o, l3SideBid)
	}
	for _, o := range rec.Asks {
		b.insertNew(o, l3SideAsk)
	}
}

// ApplyUpdate dispatches each order item on its event discriminator
// (§4.3). The wire side (bids[] vs asks[]) of each item is passed through
// as the side that array belongs to.
func (b *L3Book) ApplyUpdate(rec wire.BookL3Record) []error {
	var errs []error
	for _, o := range rec.Bids {
		if err := b.applyOne(o, l3SideBid); err != nil {
			errs = append(errs, err)
		}
	}
	for _, o := range rec.Asks {
		if err := b.applyOne(o, l3SideAsk); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (b *L3Book) applyOne(o wire.Level3Order, wireSide l3Side) error {
	switch o.Event {
	case wire.EventAdd:
		if _, exists := b.byID[o.OrderID]; exists {
			// Duplicate add: treat the wire as authoritative and replace,
			// rather than silently diverging from it.
			b.removeOrder(o.OrderID)
		}
		b.insertNew(wire.Level3Order{OrderID: o.OrderID, LimitPrice: o.LimitPrice, OrderQty: o.OrderQty, Timestamp: o.Timestamp}, wireSide)
		b.AddEvents++
		return nil
	case wire.EventModify:
		return b.modifyOrder(o, wireSide)
	case wire.EventDelete:
		idx, ok := b.byID[o.OrderID]
		if !ok {
			b.DroppedCount++
			return &kerrors.UnknownOrderError{Symbol: b.Symbol, OrderID: o.OrderID, Event: "delete"}
		}
		_ = idx
		b.removeOrder(o.OrderID)
		b.DeleteEvents++
		return nil
	default:
		return nil
	}
}

func (b *L3Book) modifyOrder(o wire.Level3Order, wireSide l3Side) error {
	idx, ok := b.byID[o.OrderID]
	if !ok {
		b.DroppedCount++
		return &kerrors.UnknownOrderError{Symbol: b.Symbol, OrderID: o.OrderID, Event: "modify"}
	}
	actualSide := b.sides[idx]
	if actualSide != wireSide {
		b.DroppedCount++
		return &kerrors.SideMismatchError{
			Symbol:     b.Symbol,
			OrderID:    o.OrderID,
			WireSide:   sideName(wireSide),
			ActualSide: sideName(actualSide),
		}
	}

	oldPrice := b.arena[idx].LimitPrice
	b.removeFromPriceIndex(idx, oldPrice, actualSide)
	b.arena[idx].LimitPrice = o.LimitPrice
	b.arena[idx].OrderQty = o.OrderQty
	b.insertIntoPriceIndex(idx, o.LimitPrice, actualSide)
	b.ModifyEvents++
	return nil
}

func sideName(s l3Side) string {
	if s == l3SideBid {
		return "bid"
	}
	return "ask"
}

// insertNew allocates (or reuses a tombstoned) arena slot for a brand-new
// order and indexes it.
func (b *L3Book) insertNew(o wire.Level3Order, side l3Side) {
	ord := Order{OrderID: o.OrderID, LimitPrice: o.LimitPrice, OrderQty: o.OrderQty, Timestamp: o.Timestamp, live: true}

	var idx int
	if n := len(b.freeList); n > 0 {
		idx = b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		b.arena[idx] = ord
		b.sides[idx] = side
	} else {
		idx = len(b.arena)
		b.arena = append(b.arena, ord)
		b.sides = append(b.sides, side)
	}
	b.byID[o.OrderID] = idx
	b.insertIntoPriceIndex(idx, o.LimitPrice, side)
}

// removeOrder tombstones an order's arena slot and removes it from its
// price bucket and the by-id index.
func (b *L3Book) removeOrder(orderID string) {
	idx, ok := b.byID[orderID]
	if !ok {
		return
	}
	side := b.sides[idx]
	price := b.arena[idx].LimitPrice
	b.removeFromPriceIndex(idx, price, side)
	b.arena[idx].live = false
	delete(b.byID, orderID)
	b.freeList = append(b.freeList, idx)
}

func (b *L3Book) insertIntoPriceIndex(idx int, price decimal.Decimal, side l3Side) {
	buckets := &b.bidsByPrice
	descending := true
	if side == l3SideAsk {
		buckets = &b.asksByPrice
		descending = false
	}
	pos := bucketSearch(*buckets, price, descending)
	if pos < len(*buckets) && (*buckets)[pos].price.Equal(price) {
		(*buckets)[pos].indices = append((*buckets)[pos].indices, idx)
		return
	}
	nb := priceBucket{price: price, indices: []int{idx}}
	out := make([]priceBucket, len(*buckets)+1)
	copy(out, (*buckets)[:pos])
	out[pos] = nb
	copy(out[pos+1:], (*buckets)[pos:])
	*buckets = out
}

func (b *L3Book) removeFromPriceIndex(idx int, price decimal.Decimal, side l3Side) {
	buckets := &b.bidsByPrice
	descending := true
	if side == l3SideAsk {
		buckets = &b.asksByPrice
		descending = false
	}
	pos := bucketSearch(*buckets, price, descending)
	if pos >= len(*buckets) || !(*buckets)[pos].price.Equal(price) {
		return
	}
	ids := (*buckets)[pos].indices
	for i, v := range ids {
		if v == idx {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		*buckets = append((*buckets)[:pos], (*buckets)[pos+1:]...)
		return
	}
	(*buckets)[pos].indices = ids
}

func bucketSearch(buckets []priceBucket, price decimal.Decimal, descending bool) int {
	return sort.Search(len(buckets), func(i int) bool {
		if descending {
			return buckets[i].price.LessThanOrEqual(price)
		}
		return buckets[i].price.GreaterThanOrEqual(price)
	})
}

// BestBid returns the best bid's price and aggregate qty at that price.
func (b *L3Book) BestBid() (price, qty decimal.Decimal, ok bool) {
	return b.bestOf(b.bidsByPrice)
}

// BestAsk returns the best ask's price and aggregate qty at that price.
func (b *L3Book) BestAsk() (price, qty decimal.Decimal, ok bool) {
	return b.bestOf(b.asksByPrice)
}

func (b *L3Book) bestOf(buckets []priceBucket) (price, qty decimal.Decimal, ok bool) {
	if len(buckets) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	qty = decimal.Zero
	for _, idx := range buckets[0].indices {
		qty = qty.Add(b.arena[idx].OrderQty)
	}
	return buckets[0].price, qty, true
}

// OrdersAtBest returns the number of orders resting at the best price on
// the given side.
func (b *L3Book) OrdersAtBest(side Side) int {
	buckets := b.bidsByPrice
	if side == SideAsk {
		buckets = b.asksByPrice
	}
	if len(buckets) == 0 {
		return 0
	}
	return len(buckets[0].indices)
}

// TotalOrders returns the order count on the given side.
func (b *L3Book) TotalOrders(side Side) int {
	buckets := b.bidsByPrice
	if side == SideAsk {
		buckets = b.asksByPrice
	}
	n := 0
	for _, bucket := range buckets {
		n += len(bucket.indices)
	}
	return n
}

// TotalVolume returns the aggregate resting qty on the given side.
func (b *L3Book) TotalVolume(side Side) decimal.Decimal {
	buckets := b.bidsByPrice
	if side == SideAsk {
		buckets = b.asksByPrice
	}
	total := decimal.Zero
	for _, bucket := range buckets {
		for _, idx := range bucket.indices {
			total = total.Add(b.arena[idx].OrderQty)
		}
	}
	return total
}

// TopNVolume sums qty across the first n price levels on the given side.
func (b *L3Book) TopNVolume(side Side, n int) decimal.Decimal {
	buckets := b.bidsByPrice
	if side == SideAsk {
		buckets = b.asksByPrice
	}
	if n > len(buckets) {
		n = len(buckets)
	}
	total := decimal.Zero
	for i := 0; i < n; i++ {
		for _, idx := range buckets[i].indices {
			total = total.Add(b.arena[idx].OrderQty)
		}
	}
	return total
}

// VolumeWithinBps sums resting qty on side within bps of refPrice, walking
// the price buckets in their stored order and stopping at the first
// out-of-range bucket, mirroring L2Book.VolumeWithinBps (§4.3).
func (b *L3Book) VolumeWithinBps(refPrice decimal.Decimal, bps int64, side Side) decimal.Decimal {
	buckets := b.bidsByPrice
	if side == SideAsk {
		buckets = b.asksByPrice
	}
	bound := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
	var limit decimal.Decimal
	if side == SideBid {
		limit = refPrice.Mul(decimal.NewFromInt(1).Sub(bound))
	} else {
		limit = refPrice.Mul(decimal.NewFromInt(1).Add(bound))
	}

	total := decimal.Zero
	for _, bucket := range buckets {
		if side == SideBid && bucket.price.LessThan(limit) {
			break
		}
		if side == SideAsk && bucket.price.GreaterThan(limit) {
			break
		}
		for _, idx := range bucket.indices {
			total = total.Add(b.arena[idx].OrderQty)
		}
	}
	return total
}

// aggregateTop renders the first depth price buckets as price-aggregated
// levels, used by ChecksumL3 to reuse the L2 canonical encoding.
func (b *L3Book) aggregateTop(buckets []priceBucket, depth int) []wire.PriceLevel {
	if depth > len(buckets) {
		depth = len(buckets)
	}
	levels := make([]wire.PriceLevel, depth)
	for i := 0; i < depth; i++ {
		qty := decimal.Zero
		for _, idx := range buckets[i].indices {
			qty = qty.Add(b.arena[idx].OrderQty)
		}
		levels[i] = wire.PriceLevel{Price: buckets[i].price, Qty: qty}
	}
	return levels
}

// ResetEventCounters zeroes the add/modify/delete counters, called by the
// offline snapshotter between sampling intervals (§4.9).
func (b *L3Book) ResetEventCounters() {
	b.AddEvents, b.ModifyEvents, b.DeleteEvents = 0, 0, 0
}

// ValidateChecksum delegates to the CRC32 verifier (C4) over this book's
// current top-of-book, mirroring L2Book.ValidateChecksum.
func (b *L3Book) ValidateChecksum(expected uint32) error {
	got := ChecksumL3(b)
	if got != expected {
		return &kerrors.ChecksumMismatchError{Symbol: b.Symbol, Expected: expected, Got: got}
	}
	return nil
}

// OrderCount returns len(by_id); used by tests to check the §8 invariant
// that it equals the sum of both price index bucket lengths.
func (b *L3Book) OrderCount() int { return len(b.byID) }

// Compact rebuilds the arena without tombstoned slots, remapping indices in
// both the by-id map and the price buckets. Optional maintenance the owner
// may call between bursts (§9 design note (a)).
func (b *L3Book) Compact() {
	newArena := make([]Order, 0, len(b.byID))
	newSides := make([]l3Side, 0, len(b.byID))
	remap := make(map[int]int, len(b.byID))
	for oldIdx, ord := range b.arena {
		if !ord.live {
			continue
		}
		remap[oldIdx] = len(newArena)
		newArena = append(newArena, ord)
		newSides = append(newSides, b.sides[oldIdx])
	}
	for id, oldIdx := range b.byID {
		b.byID[id] = remap[oldIdx]
	}
	for i := range b.bidsByPrice {
		remapIndices(b.bidsByPrice[i].indices, remap)
	}
	for i := range b.asksByPrice {
		remapIndices(b.asksByPrice[i].indices, remap)
	}
	b.arena = newArena
	b.sides = newSides
	b.freeList = b.freeList[:0]
}

func remapIndices(indices []int, remap map[int]int) {
	for i, old := range indices {
		indices[i] = remap[old]
	}
}
