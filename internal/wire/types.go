// Package wire decodes inbound WebSocket v2 text frames into typed events
// (C1). It uses github.com/buger/jsonparser for a streaming, on-demand scan
// of each frame rather than a full json.Unmarshal, the same pattern the
// teacher's coinbasepro/huobi/gateio connectors use to peek at a message's
// discriminating fields before deciding how (or whether) to decode the rest.
package wire

import "github.com/shopspring/decimal"

// Kind discriminates the decoded event types produced by Decode.
type Kind int

// Event kinds, in the classification order §4.1 evaluates them.
const (
	KindUnknown Kind = iota
	KindSubscribeAck
	KindHeartbeat
	KindTicker
	KindBookL2
	KindBookL3
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSubscribeAck:
		return "subscribe_ack"
	case KindHeartbeat:
		return "heartbeat"
	case KindTicker:
		return "ticker"
	case KindBookL2:
		return "book"
	case KindBookL3:
		return "level3"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// BatchType is the snapshot/update discriminator carried by ticker and book
// channels.
type BatchType string

// Recognised batch types.
const (
	TypeSnapshot BatchType = "snapshot"
	TypeUpdate   BatchType = "update"
)

// TimestampFormat is the client receive-time stamp format applied to every
// decoded record: UTC, millisecond precision (§4.1).
const TimestampFormat = "2006-01-02 15:04:05.000"

// TickerRecord is one L1 ticker snapshot/update (§3).
type TickerRecord struct {
	Timestamp string
	Symbol    string
	Kind      BatchType
	Bid       decimal.Decimal
	BidQty    decimal.Decimal
	Ask       decimal.Decimal
	AskQty    decimal.Decimal
	Last      decimal.Decimal
	Volume    decimal.Decimal
	VWAP      decimal.Decimal
	Low       decimal.Decimal
	High      decimal.Decimal
	Change    decimal.Decimal
	ChangePct decimal.Decimal
}

// PriceLevel is one (price, qty) pair on the wire. A qty of zero is a
// deletion sentinel and must never be stored (§3).
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BookL2Record is one L2 snapshot/update batch entry for a single symbol.
type BookL2Record struct {
	Timestamp string
	Symbol    string
	Kind      BatchType
	Bids      []PriceLevel
	Asks      []PriceLevel
	Checksum  uint32
}

// OrderEvent discriminates L3 update entries.
type OrderEvent string

// Recognised L3 order events.
const (
	EventAdd    OrderEvent = "add"
	EventModify OrderEvent = "modify"
	EventDelete OrderEvent = "delete"
)

// Level3Order is one order entry on an L3 book message.
type Level3Order struct {
	OrderID    string
	LimitPrice decimal.Decimal
	OrderQty   decimal.Decimal
	Timestamp  string
	Event      OrderEvent // only populated on update batches
}

// BookL3Record is one L3 snapshot/update batch entry for a single symbol.
type BookL3Record struct {
	Timestamp string
	Symbol    string
	Kind      BatchType
	Bids      []Level3Order
	Asks      []Level3Order
	Checksum  uint32
}

// SubscribeAck is the response to the client's subscribe request.
type SubscribeAck struct {
	Channel string
	Success bool
	Error   string
}

// Event is the single decoded output of Decode: exactly one of the typed
// fields below is populated, selected by Kind.
type Event struct {
	Kind    Kind
	Ack     *SubscribeAck
	Tickers []TickerRecord
	BooksL2 []BookL2Record
	BooksL3 []BookL3Record
	Err     error
}
