package writer

import (
	"bufio"
	"encoding/csv"
	"os"
	"sync"
	"time"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/wire"
)

var tickerHeader = []string{
	"timestamp", "pair", "type", "bid", "bid_qty", "ask", "ask_qty",
	"last", "volume", "vwap", "low", "high", "change", "change_pct",
}

// tickerRecordSize is a fixed estimate used for the memory-based flush
// trigger; the writer never inspects actual buffer byte length.
const tickerRecordSize = 160

// TickerCSVWriter appends TickerRecords to a CSV file, flushing and
// rotating per the embedded flush policy (C6, C5).
type TickerCSVWriter struct {
	policy flushPolicy

	mu       sync.Mutex
	buffered []wire.TickerRecord
	file     *os.File
	bw       *bufio.Writer
	cw       *csv.Writer

	headerWritten bool
	recordCount   int64
}

// NewTickerCSVWriter constructs a writer targeting filename (append mode
// preserves any existing header).
func NewTickerCSVWriter(filename string, append bool) (*TickerCSVWriter, error) {
	w := &TickerCSVWriter{policy: newFlushPolicy()}
	w.policy.setBaseFilename(filename)
	if err := w.open(filename, append); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *TickerCSVWriter) open(filename string, append bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
		if fi, err := os.Stat(filename); err == nil && fi.Size() > 0 {
			w.headerWritten = true
		}
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(filename, flags, 0o644)
	if err != nil {
		return kerrors.NewWriterIOError(filename, err)
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	w.cw = csv.NewWriter(w.bw)
	if !w.headerWritten {
		if err := w.cw.Write(tickerHeader); err != nil {
			return kerrors.NewWriterIOError(filename, err)
		}
		w.headerWritten = true
	}
	return nil
}

// SetFlushInterval configures the time-based flush trigger (0 disables).
func (w *TickerCSVWriter) SetFlushInterval(interval time.Duration) { w.policy.setFlushInterval(interval) }

// SetMemoryThreshold configures the memory-based flush trigger in bytes.
func (w *TickerCSVWriter) SetMemoryThreshold(bytes int64) { w.policy.setMemoryThreshold(bytes) }

// SetSegmentMode enables hourly/daily file rotation.
func (w *TickerCSVWriter) SetSegmentMode(mode SegmentMode) { w.policy.setSegmentMode(mode, w) }

// SetOnFlush registers a callback fired after every successful disk flush,
// and once more when a failed flush puts the writer into degraded mode.
func (w *TickerCSVWriter) SetOnFlush(fn func()) { w.policy.setOnFlush(fn) }

// WriteRecord buffers one ticker record and runs the flush policy check.
// Once a prior flush has failed, the writer is degraded and drops
// subsequent records instead of growing an unbounded buffer (§4.6/§7).
func (w *TickerCSVWriter) WriteRecord(rec wire.TickerRecord) error {
	if err := w.policy.guardWrite(); err != nil {
		return err
	}
	w.mu.Lock()
	w.buffered = append(w.buffered, rec)
	w.mu.Unlock()
	return w.policy.checkAndFlush(w)
}

// ForceFlush flushes unconditionally, for shutdown.
func (w *TickerCSVWriter) ForceFlush() error { return w.policy.forceFlush(w) }

// RecordCount returns the number of records written to disk so far.
func (w *TickerCSVWriter) RecordCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recordCount
}

// Close force-flushes and closes the underlying file.
func (w *TickerCSVWriter) Close() error {
	if err := w.ForceFlush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *TickerCSVWriter) bufferSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffered)
}

func (w *TickerCSVWriter) recordSize() int       { return tickerRecordSize }
func (w *TickerCSVWriter) fileExtension() string { return ".csv" }
func (w *TickerCSVWriter) onSegmentModeSet()     {}

func (w *TickerCSVWriter) performFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rec := range w.buffered {
		row := []string{
			rec.Timestamp, rec.Symbol, string(rec.Kind),
			rec.Bid.String(), rec.BidQty.String(), rec.Ask.String(), rec.AskQty.String(),
			rec.Last.String(), rec.Volume.String(), rec.VWAP.String(),
			rec.Low.String(), rec.High.String(), rec.Change.String(), rec.ChangePct.String(),
		}
		if err := w.cw.Write(row); err != nil {
			return kerrors.NewWriterIOError(w.file.Name(), err)
		}
		w.recordCount++
	}
	w.buffered = w.buffered[:0]
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return kerrors.NewWriterIOError(w.file.Name(), err)
	}
	return w.bw.Flush()
}

func (w *TickerCSVWriter) performSegmentTransition(newFilename string) error {
	w.mu.Lock()
	old := w.file
	w.headerWritten = false
	w.mu.Unlock()
	if err := w.open(newFilename, false); err != nil {
		return err
	}
	return old.Close()
}

