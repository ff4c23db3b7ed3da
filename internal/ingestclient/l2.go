package ingestclient

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdepth/krakenfeed/internal/klog"
	"github.com/kdepth/krakenfeed/internal/kmetrics"
	"github.com/kdepth/krakenfeed/internal/orderbook"
	"github.com/kdepth/krakenfeed/internal/wire"
	"github.com/kdepth/krakenfeed/internal/writer"
)

// BookL2UpdateCallback fires synchronously on the worker for every decoded
// L2 book record.
type BookL2UpdateCallback func(wire.BookL2Record)

// BookL2Client ingests the book (L2) channel: maintains one L2Book per
// symbol, verifies the announced checksum, and writes raw records to JSONL
// (§4.7).
type BookL2Client struct {
	eng *engine

	skipValidation atomic.Bool

	dataMu  sync.Mutex
	books   map[string]*orderbook.L2Book
	pending []wire.BookL2Record

	jsonlWriter *writer.BookL2JSONLWriter

	updateCallback BookL2UpdateCallback
	callbackMu     sync.Mutex
}

// NewBookL2Client constructs an L2 book ingestion client with the given
// depth (symbol book subscription depth, e.g. 10).
func NewBookL2Client(depth int) *BookL2Client {
	eng := newEngine("book")
	eng.depth = depth
	return &BookL2Client{eng: eng, books: make(map[string]*orderbook.L2Book)}
}

// SetURL overrides the websocket endpoint.
func (c *BookL2Client) SetURL(u string) { c.eng.setURL(u) }

// SetSkipValidation disables announced-checksum verification entirely,
// useful when feeding an endpoint that does not publish checksums.
func (c *BookL2Client) SetSkipValidation(skip bool) { c.skipValidation.Store(skip) }

// SetConnectionCallback registers the connect/disconnect observer.
func (c *BookL2Client) SetConnectionCallback(cb ConnectionCallback) { c.eng.setConnectionCallback(cb) }

// SetErrorCallback registers the diagnostic observer.
func (c *BookL2Client) SetErrorCallback(cb ErrorCallback) { c.eng.setErrorCallback(cb) }

// SetUpdateCallback registers the per-record observer.
func (c *BookL2Client) SetUpdateCallback(cb BookL2UpdateCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.updateCallback = cb
}

// SetOutputFile configures the JSONL sink; call before Start. Once the
// writer durably flushes a batch, the pending buffer is cleared: a
// consumer that never calls GetUpdates still sees records persisted
// rather than an unboundedly growing in-memory queue.
func (c *BookL2Client) SetOutputFile(filename string) error {
	w, err := writer.NewBookL2JSONLWriter(filename, false)
	if err != nil {
		return err
	}
	w.SetOnFlush(c.clearPending)
	c.dataMu.Lock()
	c.jsonlWriter = w
	c.dataMu.Unlock()
	return nil
}

func (c *BookL2Client) clearPending() {
	c.dataMu.Lock()
	c.pending = nil
	c.dataMu.Unlock()
}

// SetFlushInterval delegates to the configured writer.
func (c *BookL2Client) SetFlushInterval(d time.Duration) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetFlushInterval(d)
	}
}

// SetMemoryThreshold delegates to the configured writer.
func (c *BookL2Client) SetMemoryThreshold(bytes int64) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetMemoryThreshold(bytes)
	}
}

// SetSegmentMode delegates to the configured writer.
func (c *BookL2Client) SetSegmentMode(mode writer.SegmentMode) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetSegmentMode(mode)
	}
}

// Flush force-flushes the configured writer, a no-op if none is set.
func (c *BookL2Client) Flush() error {
	c.dataMu.Lock()
	w := c.jsonlWriter
	c.dataMu.Unlock()
	if w == nil {
		return nil
	}
	return w.ForceFlush()
}

// Start begins the worker for symbols.
func (c *BookL2Client) Start(symbols []string) error {
	return c.eng.start(symbols, c.onFrame)
}

// Stop signals shutdown and joins the worker.
func (c *BookL2Client) Stop() error {
	err := c.eng.stop()
	if flushErr := c.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// IsRunning reports whether the worker is active.
func (c *BookL2Client) IsRunning() bool { return c.eng.isRunning() }

// IsConnected reports whether the websocket handshake has completed.
func (c *BookL2Client) IsConnected() bool { return c.eng.isConnected() }

// PendingCount returns the number of buffered records awaiting GetUpdates.
func (c *BookL2Client) PendingCount() int {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return len(c.pending)
}

// GetUpdates moves the pending buffer out and clears it.
func (c *BookL2Client) GetUpdates() []wire.BookL2Record {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Book returns the live L2Book for symbol, or nil if unseen.
func (c *BookL2Client) Book(symbol string) *orderbook.L2Book {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.books[symbol]
}

func (c *BookL2Client) onFrame(raw []byte) {
	ev := wire.Decode(raw, time.Now)
	if ev.Kind == wire.KindError {
		kmetrics.DecodeErrors.Inc()
		c.eng.notifyError(ev.Err)
		return
	}
	if ev.Kind != wire.KindBookL2 {
		return
	}
	for _, rec := range ev.BooksL2 {
		c.applyRecord(rec)
	}
}

func (c *BookL2Client) applyRecord(rec wire.BookL2Record) {
	c.dataMu.Lock()
	book, ok := c.books[rec.Symbol]
	if !ok {
		book = orderbook.NewL2Book(rec.Symbol)
		c.books[rec.Symbol] = book
	}
	book.Apply(rec)
	c.pending = append(c.pending, rec)
	w := c.jsonlWriter
	c.dataMu.Unlock()

	if rec.Checksum != 0 && !c.skipValidation.Load() {
		if err := book.ValidateChecksum(rec.Checksum); err != nil {
			kmetrics.ChecksumMismatches.WithLabelValues(rec.Symbol).Inc()
			klog.Warnf(klog.OrderBookMgr, "%v", err)
			c.eng.notifyError(err)
		}
	}

	if w != nil {
		if err := w.WriteRecord(rec); err != nil {
			kmetrics.LogWriterDegraded("book_l2_jsonl", err)
			c.eng.notifyError(err)
		} else {
			kmetrics.RecordsWritten.WithLabelValues("book_l2_jsonl").Inc()
		}
	}

	c.callbackMu.Lock()
	cb := c.updateCallback
	c.callbackMu.Unlock()
	if cb != nil {
		cb(rec)
	}
	kmetrics.PendingQueueDepth.WithLabelValues("book").Set(float64(c.PendingCount()))
}
