package wire

import (
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/klog"
)

// Decode classifies and parses one complete WebSocket text frame into
// exactly one Event, per the rule order in §4.1. now is the client's
// receive-time clock, injected for testability; callers pass time.Now.
func Decode(raw []byte, now func() time.Time) *Event {
	if method, err := jsonparser.GetString(raw, "method"); err == nil && method == "subscribe" {
		return decodeSubscribeAck(raw)
	}

	channel, chErr := jsonparser.GetString(raw, "channel")
	if chErr != nil {
		// Not a recognised shape at all -- treat as a decode failure so the
		// caller's error callback fires rather than silently dropping it.
		klog.Debugf(klog.WebsocketMgr, "frame has no channel field: %s", truncate(raw))
		return &Event{Kind: KindError, Err: kerrors.NewDecoderError(raw, chErr)}
	}

	switch channel {
	case "heartbeat":
		return &Event{Kind: KindHeartbeat}
	case "ticker":
		return decodeTicker(raw, now)
	case "book":
		return decodeBookL2(raw, now)
	case "level3":
		return decodeBookL3(raw, now)
	default:
		klog.Debugf(klog.WebsocketMgr, "unknown channel %q: %s", channel, truncate(raw))
		return &Event{Kind: KindUnknown}
	}
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

func decodeSubscribeAck(raw []byte) *Event {
	ack := &SubscribeAck{}
	ack.Success, _ = jsonparser.GetBoolean(raw, "success")
	ack.Error, _ = jsonparser.GetString(raw, "error")
	if params, _, _, err := jsonparser.Get(raw, "params"); err == nil {
		ack.Channel, _ = jsonparser.GetString(params, "channel")
	}
	return &Event{Kind: KindSubscribeAck, Ack: ack}
}

func decodeTicker(raw []byte, now func() time.Time) *Event {
	kind := batchType(raw)
	stamp := now().UTC().Format(TimestampFormat)

	data, _, _, err := jsonparser.Get(raw, "data")
	if err != nil {
		return &Event{Kind: KindError, Err: kerrors.NewDecoderError(raw, err)}
	}

	var records []TickerRecord
	var parseErr error
	_, err = jsonparser.ArrayEach(data, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil {
			return
		}
		rec := TickerRecord{Timestamp: stamp, Kind: kind}
		rec.Symbol, _ = jsonparser.GetString(item, "symbol")
		rec.Bid = decimalField(item, "bid")
		rec.BidQty = decimalField(item, "bid_qty")
		rec.Ask = decimalField(item, "ask")
		rec.AskQty = decimalField(item, "ask_qty")
		rec.Last = decimalField(item, "last")
		rec.Volume = decimalField(item, "volume")
		rec.VWAP = decimalField(item, "vwap")
		rec.Low = decimalField(item, "low")
		rec.High = decimalField(item, "high")
		rec.Change = decimalField(item, "change")
		rec.ChangePct = decimalField(item, "change_pct")
		records = append(records, rec)
	})
	if err != nil && len(records) == 0 {
		return &Event{Kind: KindError, Err: kerrors.NewDecoderError(raw, err)}
	}
	return &Event{Kind: KindTicker, Tickers: records}
}

func decodeBookL2(raw []byte, now func() time.Time) *Event {
	kind := batchType(raw)
	stamp := now().UTC().Format(TimestampFormat)

	data, _, _, err := jsonparser.Get(raw, "data")
	if err != nil {
		return &Event{Kind: KindError, Err: kerrors.NewDecoderError(raw, err)}
	}

	var records []BookL2Record
	_, _ = jsonparser.ArrayEach(data, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		rec := BookL2Record{Timestamp: stamp, Kind: kind}
		rec.Symbol, _ = jsonparser.GetString(item, "symbol")
		if cs, cErr := jsonparser.GetInt(item, "checksum"); cErr == nil {
			rec.Checksum = uint32(cs)
		}
		if bids, _, _, bErr := jsonparser.Get(item, "bids"); bErr == nil {
			rec.Bids = decodeLevels(bids)
		}
		if asks, _, _, aErr := jsonparser.Get(item, "asks"); aErr == nil {
			rec.Asks = decodeLevels(asks)
		}
		records = append(records, rec)
	})
	return &Event{Kind: KindBookL2, BooksL2: records}
}

func decodeLevels(arr []byte) []PriceLevel {
	var levels []PriceLevel
	_, _ = jsonparser.ArrayEach(arr, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		levels = append(levels, PriceLevel{
			Price: decimalField(item, "price"),
			Qty:   decimalField(item, "qty"),
		})
	})
	return levels
}

func decodeBookL3(raw []byte, now func() time.Time) *Event {
	kind := batchType(raw)
	stamp := now().UTC().Format(TimestampFormat)

	data, _, _, err := jsonparser.Get(raw, "data")
	if err != nil {
		return &Event{Kind: KindError, Err: kerrors.NewDecoderError(raw, err)}
	}

	var records []BookL3Record
	_, _ = jsonparser.ArrayEach(data, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		rec := BookL3Record{Timestamp: stamp, Kind: kind}
		rec.Symbol, _ = jsonparser.GetString(item, "symbol")
		if cs, cErr := jsonparser.GetInt(item, "checksum"); cErr == nil {
			rec.Checksum = uint32(cs)
		}
		if bids, _, _, bErr := jsonparser.Get(item, "bids"); bErr == nil {
			rec.Bids = decodeOrders(bids)
		}
		if asks, _, _, aErr := jsonparser.Get(item, "asks"); aErr == nil {
			rec.Asks = decodeOrders(asks)
		}
		records = append(records, rec)
	})
	return &Event{Kind: KindBookL3, BooksL3: records}
}

func decodeOrders(arr []byte) []Level3Order {
	var orders []Level3Order
	_, _ = jsonparser.ArrayEach(arr, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		o := Level3Order{}
		o.OrderID, _ = jsonparser.GetString(item, "order_id")
		o.LimitPrice = decimalField(item, "limit_price")
		o.OrderQty = decimalField(item, "order_qty")
		o.Timestamp, _ = jsonparser.GetString(item, "timestamp")
		if ev, evErr := jsonparser.GetString(item, "event"); evErr == nil {
			o.Event = OrderEvent(ev)
		}
		orders = append(orders, o)
	})
	return orders
}

// batchType reads the top-level "type" field, defaulting to update when
// absent or unrecognised -- snapshot is the only value that resets state, so
// an unrecognised type is treated conservatively as an incremental delta.
func batchType(raw []byte) BatchType {
	t, err := jsonparser.GetString(raw, "type")
	if err != nil {
		return TypeUpdate
	}
	switch BatchType(t) {
	case TypeSnapshot:
		return TypeSnapshot
	default:
		return TypeUpdate
	}
}

// decimalField parses a numeric or string-encoded numeric field, decoding
// as jsonparser sees it (both shapes appear on the wire across exchanges in
// this family of protocols). Absent fields decode as zero, per §3.
func decimalField(item []byte, key string) decimal.Decimal {
	if s, err := jsonparser.GetString(item, key); err == nil {
		if d, dErr := decimal.NewFromString(s); dErr == nil {
			return d
		}
		return decimal.Zero
	}
	if f, err := jsonparser.GetFloat(item, key); err == nil {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}
