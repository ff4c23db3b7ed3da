// Package snapshotter replays a JSONL book stream through the C2/C3 state
// machines at a fixed sampling cadence and emits metrics rows via the
// snapshot CSV writer (C9). Grounded on the original implementation's
// snapshot-processing tool described in SPEC_FULL.md §4.9.
package snapshotter

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/kdepth/krakenfeed/internal/klog"
	"github.com/kdepth/krakenfeed/internal/orderbook"
	"github.com/kdepth/krakenfeed/internal/wire"
	"github.com/kdepth/krakenfeed/internal/writer"
)

// newRunID mints a correlation id for one RunL2/RunL3 invocation, logged
// alongside every warning so multiple concurrent replay runs can be told
// apart in a shared log stream.
func newRunID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// l2jsonLine mirrors the nested schema BookL2JSONLWriter produces (§4.6):
// price levels as two-element [price, qty] string arrays.
type l2jsonLine struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Type      string `json:"type"`
	Data      struct {
		Symbol   string      `json:"symbol"`
		Checksum uint32      `json:"checksum"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
	} `json:"data"`
}

func (l l2jsonLine) toRecord() wire.BookL2Record {
	return wire.BookL2Record{
		Timestamp: l.Timestamp,
		Symbol:    l.Data.Symbol,
		Kind:      wire.BatchType(l.Type),
		Bids:      toLevels(l.Data.Bids),
		Asks:      toLevels(l.Data.Asks),
		Checksum:  l.Data.Checksum,
	}
}

func toLevels(pairs [][2]string) []wire.PriceLevel {
	if pairs == nil {
		return nil
	}
	levels := make([]wire.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, _ := decimal.NewFromString(p[0])
		qty, _ := decimal.NewFromString(p[1])
		levels = append(levels, wire.PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

type l2SymbolState struct {
	book           *orderbook.L2Book
	nextSampleTime int64
}

// RunL2 replays r (a C6 BookL2JSONLWriter stream) through per-symbol L2
// state, sampling metrics every intervalSeconds and writing rows through
// out. symbolFilter, if non-empty, restricts processing to that set.
func RunL2(r io.Reader, out *writer.SnapshotCSVWriter, intervalSeconds int64, symbolFilter map[string]bool) error {
	runID := newRunID()
	klog.Infof(klog.SnapshotMgr, "run %s: starting L2 replay, interval=%ds", runID, intervalSeconds)

	states := make(map[string]*l2SymbolState)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var line l2jsonLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			klog.Warnf(klog.SnapshotMgr, "run %s: skipping malformed line: %v", runID, err)
			continue
		}
		if line.Channel != "book" {
			continue
		}
		symbol := line.Data.Symbol
		if len(symbolFilter) > 0 && !symbolFilter[symbol] {
			continue
		}

		epoch, err := parseEpoch(line.Timestamp)
		if err != nil {
			klog.Warnf(klog.SnapshotMgr, "run %s: skipping line with unparsable timestamp %q: %v", runID, line.Timestamp, err)
			continue
		}

		st, ok := states[symbol]
		if !ok {
			st = &l2SymbolState{book: orderbook.NewL2Book(symbol), nextSampleTime: epoch + intervalSeconds}
			states[symbol] = st
		}

		st.book.Apply(line.toRecord())

		if epoch >= st.nextSampleTime {
			metrics, err := st.book.CalculateMetrics()
			if err != nil {
				klog.Warnf(klog.SnapshotMgr, "run %s: %s: %v", runID, symbol, err)
			}
			if err := out.WriteSnapshot(writer.SnapshotCSVRow{
				Timestamp: line.Timestamp,
				Symbol:    symbol,
				Metrics:   metrics,
			}); err != nil {
				return err
			}
			st.nextSampleTime += intervalSeconds
		}
	}
	return scanner.Err()
}

// l3jsonLine mirrors the nested schema BookL3JSONLWriter produces (§4.6).
type l3jsonLine struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Type      string `json:"type"`
	Data      struct {
		Symbol   string        `json:"symbol"`
		Checksum uint32        `json:"checksum"`
		Bids     []l3jsonOrder `json:"bids"`
		Asks     []l3jsonOrder `json:"asks"`
	} `json:"data"`
}

type l3jsonOrder struct {
	OrderID    string `json:"order_id"`
	LimitPrice string `json:"limit_price"`
	OrderQty   string `json:"order_qty"`
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event,omitempty"`
}

func (l l3jsonLine) toRecord() wire.BookL3Record {
	return wire.BookL3Record{
		Timestamp: l.Timestamp,
		Symbol:    l.Data.Symbol,
		Kind:      wire.BatchType(l.Type),
		Bids:      toOrders(l.Data.Bids),
		Asks:      toOrders(l.Data.Asks),
		Checksum:  l.Data.Checksum,
	}
}

func toOrders(src []l3jsonOrder) []wire.Level3Order {
	if src == nil {
		return nil
	}
	out := make([]wire.Level3Order, 0, len(src))
	for _, o := range src {
		price, _ := decimal.NewFromString(o.LimitPrice)
		qty, _ := decimal.NewFromString(o.OrderQty)
		out = append(out, wire.Level3Order{
			OrderID:    o.OrderID,
			LimitPrice: price,
			OrderQty:   qty,
			Timestamp:  o.Timestamp,
			Event:      wire.OrderEvent(o.Event),
		})
	}
	return out
}

type l3SymbolState struct {
	book           *orderbook.L3Book
	nextSampleTime int64
	intervalStart  int64
}

// RunL3 replays r (a C6 BookL3JSONLWriter stream) through per-symbol L3
// state, attributing the last interval's event counters as flow rates
// before each sampled row and zeroing them afterward (§4.9).
func RunL3(r io.Reader, out *writer.Level3SnapshotCSVWriter, intervalSeconds int64, symbolFilter map[string]bool) error {
	runID := newRunID()
	klog.Infof(klog.SnapshotMgr, "run %s: starting L3 replay, interval=%ds", runID, intervalSeconds)

	states := make(map[string]*l3SymbolState)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var line l3jsonLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			klog.Warnf(klog.SnapshotMgr, "run %s: skipping malformed line: %v", runID, err)
			continue
		}
		if line.Channel != "level3" {
			continue
		}
		symbol := line.Data.Symbol
		if len(symbolFilter) > 0 && !symbolFilter[symbol] {
			continue
		}

		epoch, err := parseEpoch(line.Timestamp)
		if err != nil {
			klog.Warnf(klog.SnapshotMgr, "run %s: skipping line with unparsable timestamp %q: %v", runID, line.Timestamp, err)
			continue
		}

		st, ok := states[symbol]
		if !ok {
			st = &l3SymbolState{book: orderbook.NewL3Book(symbol), nextSampleTime: epoch + intervalSeconds, intervalStart: epoch}
			states[symbol] = st
		}

		rec := line.toRecord()
		if rec.Kind == wire.TypeSnapshot {
			st.book.ApplySnapshot(rec)
		} else {
			for _, err := range st.book.ApplyUpdate(rec) {
				klog.Warnf(klog.SnapshotMgr, "run %s: %v", runID, err)
			}
		}

		if epoch >= st.nextSampleTime {
			elapsed := decimal.NewFromInt(intervalSeconds)
			metrics, err := st.book.CalculateMetrics(elapsed)
			if err != nil {
				klog.Warnf(klog.SnapshotMgr, "run %s: %s: %v", runID, symbol, err)
			}
			if err := out.WriteSnapshot(writer.Level3SnapshotCSVRow{
				Timestamp: line.Timestamp,
				Symbol:    symbol,
				Metrics:   metrics,
			}); err != nil {
				return err
			}
			st.book.ResetEventCounters()
			st.nextSampleTime += intervalSeconds
			st.intervalStart = epoch
		}
	}
	return scanner.Err()
}

func parseEpoch(stamp string) (int64, error) {
	t, err := time.Parse(wire.TimestampFormat, stamp)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
