package orderbook

import (
	"hash/crc32"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/wire"
)

// topOfBookDepth is the number of levels per side the checksum covers (C4).
const topOfBookDepth = 10

// priceFractionDigits and qtyFractionDigits are the fixed-precision widths
// the canonical checksum encoding uses, reproducing exactly what the
// original implementation hashes (its format_for_checksum: ten fractional
// digits for price, eight for quantity, zero-padded, no separators).
const (
	priceFractionDigits = 10
	qtyFractionDigits   = 8
)

// ChecksumL2 computes the IEEE CRC32 checksum over the canonical rendering
// of the top of book: asks first (ascending), then bids (descending), each
// level contributing its fixed-precision price immediately followed by its
// fixed-precision quantity, with no separators (§4.4).
func ChecksumL2(asks, bids []wire.PriceLevel) uint32 {
	return crc32.ChecksumIEEE([]byte(canonicalEncoding(asks, bids)))
}

func canonicalEncoding(asks, bids []wire.PriceLevel) string {
	var b strings.Builder
	n := topOfBookDepth
	if len(asks) < n {
		n = len(asks)
	}
	if len(bids) < n {
		n = len(bids)
	}
	for i := 0; i < n; i++ {
		writeFixed(&b, asks[i].Price, priceFractionDigits)
		writeFixed(&b, asks[i].Qty, qtyFractionDigits)
	}
	for i := 0; i < n; i++ {
		writeFixed(&b, bids[i].Price, priceFractionDigits)
		writeFixed(&b, bids[i].Qty, qtyFractionDigits)
	}
	return b.String()
}

func writeFixed(b *strings.Builder, v decimal.Decimal, digits int32) {
	b.WriteString(v.StringFixed(digits))
}

// ChecksumL3 computes the same canonical top-of-book CRC32 as ChecksumL2,
// but over an L3 book's price-aggregated levels (price + sum of resting qty
// at that price), since the wire checksum is announced over depth, not
// individual orders.
func ChecksumL3(book *L3Book) uint32 {
	asks := book.aggregateTop(book.asksByPrice, topOfBookDepth)
	bids := book.aggregateTop(book.bidsByPrice, topOfBookDepth)
	return ChecksumL2(asks, bids)
}
