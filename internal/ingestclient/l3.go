package ingestclient

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kdepth/krakenfeed/internal/kerrors"
	"github.com/kdepth/krakenfeed/internal/klog"
	"github.com/kdepth/krakenfeed/internal/kmetrics"
	"github.com/kdepth/krakenfeed/internal/orderbook"
	"github.com/kdepth/krakenfeed/internal/wire"
	"github.com/kdepth/krakenfeed/internal/writer"
)

// tokenEnvVar is the fallback L3 auth token environment variable (§4.7's
// SetTokenFromEnv, §6 Environment).
const tokenEnvVar = "KRAKEN_WS_TOKEN"

// BookL3UpdateCallback fires synchronously on the worker for every decoded
// L3 book record.
type BookL3UpdateCallback func(wire.BookL3Record)

// BookL3Client ingests the level3 channel: maintains one arena-backed
// L3Book per symbol, requires an auth token, and writes raw records to
// JSONL (§4.7).
type BookL3Client struct {
	eng *engine

	dataMu  sync.Mutex
	books   map[string]*orderbook.L3Book
	pending []wire.BookL3Record

	jsonlWriter *writer.BookL3JSONLWriter

	updateCallback BookL3UpdateCallback
	callbackMu     sync.Mutex
}

// NewBookL3Client constructs an L3 book ingestion client with the given
// depth (e.g. 10, 100, 1000).
func NewBookL3Client(depth int) *BookL3Client {
	eng := newEngine("level3")
	eng.depth = depth
	return &BookL3Client{eng: eng, books: make(map[string]*orderbook.L3Book)}
}

// SetURL overrides the websocket endpoint.
func (c *BookL3Client) SetURL(u string) { c.eng.setURL(u) }

// SetToken sets the auth token explicitly, overwriting any token already
// set from a file or the environment (§4.7).
func (c *BookL3Client) SetToken(token string) { c.eng.token = token }

// SetTokenFromFile reads the token from path, trimming surrounding
// whitespace, unless a token has already been set by any setter. The
// setters do not record where a token came from, so a file read after
// SetTokenFromEnv has set a token is ignored.
func (c *BookL3Client) SetTokenFromFile(path string) error {
	if c.eng.token != "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return kerrors.NewWriterIOError(path, err)
	}
	c.eng.token = strings.TrimSpace(string(data))
	return nil
}

// SetTokenFromEnv reads the token from KRAKEN_WS_TOKEN, unless a token has
// already been resolved from an explicit value or a file.
func (c *BookL3Client) SetTokenFromEnv() {
	if c.eng.token != "" {
		return
	}
	c.eng.token = os.Getenv(tokenEnvVar)
}

// SetConnectionCallback registers the connect/disconnect observer.
func (c *BookL3Client) SetConnectionCallback(cb ConnectionCallback) { c.eng.setConnectionCallback(cb) }

// SetErrorCallback registers the diagnostic observer.
func (c *BookL3Client) SetErrorCallback(cb ErrorCallback) { c.eng.setErrorCallback(cb) }

// SetUpdateCallback registers the per-record observer.
func (c *BookL3Client) SetUpdateCallback(cb BookL3UpdateCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.updateCallback = cb
}

// SetOutputFile configures the JSONL sink; call before Start. Once the
// writer durably flushes a batch, the pending buffer is cleared: a
// consumer that never calls GetUpdates still sees records persisted
// rather than an unboundedly growing in-memory queue.
func (c *BookL3Client) SetOutputFile(filename string) error {
	w, err := writer.NewBookL3JSONLWriter(filename, false)
	if err != nil {
		return err
	}
	w.SetOnFlush(c.clearPending)
	c.dataMu.Lock()
	c.jsonlWriter = w
	c.dataMu.Unlock()
	return nil
}

func (c *BookL3Client) clearPending() {
	c.dataMu.Lock()
	c.pending = nil
	c.dataMu.Unlock()
}

// SetFlushInterval delegates to the configured writer.
func (c *BookL3Client) SetFlushInterval(d time.Duration) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetFlushInterval(d)
	}
}

// SetMemoryThreshold delegates to the configured writer.
func (c *BookL3Client) SetMemoryThreshold(bytes int64) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetMemoryThreshold(bytes)
	}
}

// SetSegmentMode delegates to the configured writer.
func (c *BookL3Client) SetSegmentMode(mode writer.SegmentMode) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.jsonlWriter != nil {
		c.jsonlWriter.SetSegmentMode(mode)
	}
}

// Flush force-flushes the configured writer, a no-op if none is set.
func (c *BookL3Client) Flush() error {
	c.dataMu.Lock()
	w := c.jsonlWriter
	c.dataMu.Unlock()
	if w == nil {
		return nil
	}
	return w.ForceFlush()
}

// Start begins the worker for symbols. Fails with AuthMissingError if no
// token has been resolved (§7).
func (c *BookL3Client) Start(symbols []string) error {
	if c.eng.token == "" {
		return &kerrors.AuthMissingError{}
	}
	return c.eng.start(symbols, c.onFrame)
}

// Stop signals shutdown and joins the worker.
func (c *BookL3Client) Stop() error {
	err := c.eng.stop()
	if flushErr := c.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// IsRunning reports whether the worker is active.
func (c *BookL3Client) IsRunning() bool { return c.eng.isRunning() }

// IsConnected reports whether the websocket handshake has completed.
func (c *BookL3Client) IsConnected() bool { return c.eng.isConnected() }

// PendingCount returns the number of buffered records awaiting GetUpdates.
func (c *BookL3Client) PendingCount() int {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return len(c.pending)
}

// GetUpdates moves the pending buffer out and clears it.
func (c *BookL3Client) GetUpdates() []wire.BookL3Record {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Book returns the live L3Book for symbol, or nil if unseen.
func (c *BookL3Client) Book(symbol string) *orderbook.L3Book {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.books[symbol]
}

func (c *BookL3Client) onFrame(raw []byte) {
	ev := wire.Decode(raw, time.Now)
	if ev.Kind == wire.KindError {
		kmetrics.DecodeErrors.Inc()
		c.eng.notifyError(ev.Err)
		return
	}
	if ev.Kind != wire.KindBookL3 {
		return
	}
	for _, rec := range ev.BooksL3 {
		c.applyRecord(rec)
	}
}

func (c *BookL3Client) applyRecord(rec wire.BookL3Record) {
	c.dataMu.Lock()
	book, ok := c.books[rec.Symbol]
	if !ok {
		book = orderbook.NewL3Book(rec.Symbol)
		c.books[rec.Symbol] = book
	}
	if rec.Kind == wire.TypeSnapshot {
		book.ApplySnapshot(rec)
	} else {
		for _, err := range book.ApplyUpdate(rec) {
			var unknown *kerrors.UnknownOrderError
			if errors.As(err, &unknown) {
				// Lost adds are routine (the add frame may simply not have
				// arrived yet); book.DroppedCount already counts these.
				continue
			}
			klog.Warnf(klog.OrderBookMgr, "%v", err)
			c.eng.notifyError(err)
		}
	}
	c.pending = append(c.pending, rec)
	w := c.jsonlWriter
	c.dataMu.Unlock()

	if rec.Checksum != 0 {
		if err := book.ValidateChecksum(rec.Checksum); err != nil {
			kmetrics.ChecksumMismatches.WithLabelValues(rec.Symbol).Inc()
			klog.Warnf(klog.OrderBookMgr, "%v", err)
			c.eng.notifyError(err)
		}
	}

	if w != nil {
		if err := w.WriteRecord(rec); err != nil {
			kmetrics.LogWriterDegraded("book_l3_jsonl", err)
			c.eng.notifyError(err)
		} else {
			kmetrics.RecordsWritten.WithLabelValues("book_l3_jsonl").Inc()
		}
	}

	c.callbackMu.Lock()
	cb := c.updateCallback
	c.callbackMu.Unlock()
	if cb != nil {
		cb(rec)
	}
	kmetrics.PendingQueueDepth.WithLabelValues("level3").Set(float64(c.PendingCount()))
}
