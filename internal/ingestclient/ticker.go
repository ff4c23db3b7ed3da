package ingestclient

import (
	"sync"
	"time"

	"github.com/kdepth/krakenfeed/internal/kmetrics"
	"github.com/kdepth/krakenfeed/internal/wire"
	"github.com/kdepth/krakenfeed/internal/writer"
)

// TickerUpdateCallback fires synchronously on the worker for every decoded
// ticker record.
type TickerUpdateCallback func(wire.TickerRecord)

// TickerClient ingests the ticker channel: no book state, a flat pending
// buffer, and an optional CSV writer (§4.7).
type TickerClient struct {
	eng *engine

	dataMu  sync.Mutex
	pending []wire.TickerRecord

	csvWriter *writer.TickerCSVWriter

	updateCallback TickerUpdateCallback
	callbackMu     sync.Mutex
}

// NewTickerClient constructs a ticker ingestion client.
func NewTickerClient() *TickerClient {
	return &TickerClient{eng: newEngine("ticker")}
}

// SetURL overrides the websocket endpoint.
func (c *TickerClient) SetURL(u string) { c.eng.setURL(u) }

// SetConnectionCallback registers the connect/disconnect observer.
func (c *TickerClient) SetConnectionCallback(cb ConnectionCallback) { c.eng.setConnectionCallback(cb) }

// SetErrorCallback registers the diagnostic observer.
func (c *TickerClient) SetErrorCallback(cb ErrorCallback) { c.eng.setErrorCallback(cb) }

// SetUpdateCallback registers the per-record observer, invoked synchronously
// on the worker goroutine.
func (c *TickerClient) SetUpdateCallback(cb TickerUpdateCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.updateCallback = cb
}

// SetOutputFile configures the CSV sink; call before Start. Once the
// writer durably flushes a batch, the pending buffer is cleared: a
// consumer that never calls GetUpdates still sees records persisted
// rather than an unboundedly growing in-memory queue.
func (c *TickerClient) SetOutputFile(filename string) error {
	w, err := writer.NewTickerCSVWriter(filename, false)
	if err != nil {
		return err
	}
	w.SetOnFlush(c.clearPending)
	c.dataMu.Lock()
	c.csvWriter = w
	c.dataMu.Unlock()
	return nil
}

func (c *TickerClient) clearPending() {
	c.dataMu.Lock()
	c.pending = nil
	c.dataMu.Unlock()
}

// SetFlushInterval delegates to the configured writer.
func (c *TickerClient) SetFlushInterval(d time.Duration) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.csvWriter != nil {
		c.csvWriter.SetFlushInterval(d)
	}
}

// SetMemoryThreshold delegates to the configured writer.
func (c *TickerClient) SetMemoryThreshold(bytes int64) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.csvWriter != nil {
		c.csvWriter.SetMemoryThreshold(bytes)
	}
}

// SetSegmentMode delegates to the configured writer.
func (c *TickerClient) SetSegmentMode(mode writer.SegmentMode) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.csvWriter != nil {
		c.csvWriter.SetSegmentMode(mode)
	}
}

// Flush force-flushes the configured writer, a no-op if none is set.
func (c *TickerClient) Flush() error {
	c.dataMu.Lock()
	w := c.csvWriter
	c.dataMu.Unlock()
	if w == nil {
		return nil
	}
	return w.ForceFlush()
}

// Start begins the worker for symbols. Idempotent-with-error if running.
func (c *TickerClient) Start(symbols []string) error {
	return c.eng.start(symbols, c.onFrame)
}

// Stop signals shutdown and joins the worker.
func (c *TickerClient) Stop() error {
	err := c.eng.stop()
	if flushErr := c.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// IsRunning reports whether the worker is active.
func (c *TickerClient) IsRunning() bool { return c.eng.isRunning() }

// IsConnected reports whether the websocket handshake has completed.
func (c *TickerClient) IsConnected() bool { return c.eng.isConnected() }

// PendingCount returns the number of buffered records awaiting GetUpdates.
func (c *TickerClient) PendingCount() int {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return len(c.pending)
}

// GetUpdates moves the pending buffer out and clears it (§4.7).
func (c *TickerClient) GetUpdates() []wire.TickerRecord {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *TickerClient) onFrame(raw []byte) {
	ev := wire.Decode(raw, time.Now)
	if ev.Kind == wire.KindError {
		kmetrics.DecodeErrors.Inc()
		c.eng.notifyError(ev.Err)
		return
	}
	if ev.Kind != wire.KindTicker {
		return
	}
	for _, rec := range ev.Tickers {
		c.addRecord(rec)
	}
}

func (c *TickerClient) addRecord(rec wire.TickerRecord) {
	c.dataMu.Lock()
	c.pending = append(c.pending, rec)
	w := c.csvWriter
	c.dataMu.Unlock()

	if w != nil {
		if err := w.WriteRecord(rec); err != nil {
			kmetrics.LogWriterDegraded("ticker_csv", err)
			c.eng.notifyError(err)
		} else {
			kmetrics.RecordsWritten.WithLabelValues("ticker_csv").Inc()
		}
	}

	c.callbackMu.Lock()
	cb := c.updateCallback
	c.callbackMu.Unlock()
	if cb != nil {
		cb(rec)
	}
	kmetrics.PendingQueueDepth.WithLabelValues("ticker").Set(float64(c.PendingCount()))
}
