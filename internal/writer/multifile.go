package writer

import (
	"strings"
	"sync"
	"time"

	"github.com/kdepth/krakenfeed/internal/wire"
)

// sanitizeSymbol replaces the pair separator with an underscore so the
// symbol can appear in a filename (§4.6: "BTC/USD" -> "BTC_USD").
func sanitizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

// insertSymbolToken renders "base.ext" as "base_SYMBOL.ext", matching the
// original multi-file writers' create_filename convention.
func insertSymbolToken(base, symbol, ext string) string {
	pos := strings.LastIndex(base, ext)
	token := sanitizeSymbol(symbol)
	if pos < 0 {
		return base + "_" + token + ext
	}
	return base[:pos] + "_" + token + base[pos:]
}

// MultiFileTickerCSVWriter opens one TickerCSVWriter per symbol on first
// use, forwarding configuration to every member writer.
type MultiFileTickerCSVWriter struct {
	mu           sync.Mutex
	baseFilename string
	append       bool
	flushInt     time.Duration
	memThreshold int64
	segmentMode  SegmentMode
	writers      map[string]*TickerCSVWriter
}

// NewMultiFileTickerCSVWriter constructs a per-symbol ticker CSV writer set.
func NewMultiFileTickerCSVWriter(baseFilename string, append bool) *MultiFileTickerCSVWriter {
	return &MultiFileTickerCSVWriter{
		baseFilename: baseFilename,
		append:       append,
		writers:      make(map[string]*TickerCSVWriter),
	}
}

func (m *MultiFileTickerCSVWriter) SetFlushInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushInt = d
	for _, w := range m.writers {
		w.SetFlushInterval(d)
	}
}

func (m *MultiFileTickerCSVWriter) SetMemoryThreshold(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memThreshold = bytes
	for _, w := range m.writers {
		w.SetMemoryThreshold(bytes)
	}
}

func (m *MultiFileTickerCSVWriter) SetSegmentMode(mode SegmentMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segmentMode = mode
	for _, w := range m.writers {
		w.SetSegmentMode(mode)
	}
}

func (m *MultiFileTickerCSVWriter) writerFor(symbol string) (*TickerCSVWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[symbol]; ok {
		return w, nil
	}
	filename := insertSymbolToken(m.baseFilename, symbol, ".csv")
	w, err := NewTickerCSVWriter(filename, m.append)
	if err != nil {
		return nil, err
	}
	w.SetFlushInterval(m.flushInt)
	w.SetMemoryThreshold(m.memThreshold)
	if m.segmentMode != SegmentNone {
		w.SetSegmentMode(m.segmentMode)
	}
	m.writers[symbol] = w
	return w, nil
}

// WriteRecord routes rec to its symbol's writer, creating it if needed.
func (m *MultiFileTickerCSVWriter) WriteRecord(rec wire.TickerRecord) error {
	w, err := m.writerFor(rec.Symbol)
	if err != nil {
		return err
	}
	return w.WriteRecord(rec)
}

// FlushAll force-flushes every open member writer.
func (m *MultiFileTickerCSVWriter) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.ForceFlush(); err != nil {
			return err
		}
	}
	return nil
}

// FileCount returns the number of open member writers.
func (m *MultiFileTickerCSVWriter) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writers)
}

// TotalRecordCount sums RecordCount across all member writers.
func (m *MultiFileTickerCSVWriter) TotalRecordCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, w := range m.writers {
		total += w.RecordCount()
	}
	return total
}

// Close flushes and closes every member writer.
func (m *MultiFileTickerCSVWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// MultiFileBookL2JSONLWriter opens one BookL2JSONLWriter per symbol.
type MultiFileBookL2JSONLWriter struct {
	mu           sync.Mutex
	baseFilename string
	append       bool
	flushInt     time.Duration
	memThreshold int64
	segmentMode  SegmentMode
	writers      map[string]*BookL2JSONLWriter
}

// NewMultiFileBookL2JSONLWriter constructs a per-symbol L2 JSONL writer set.
func NewMultiFileBookL2JSONLWriter(baseFilename string, append bool) *MultiFileBookL2JSONLWriter {
	return &MultiFileBookL2JSONLWriter{baseFilename: baseFilename, append: append, writers: make(map[string]*BookL2JSONLWriter)}
}

func (m *MultiFileBookL2JSONLWriter) SetFlushInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushInt = d
	for _, w := range m.writers {
		w.SetFlushInterval(d)
	}
}

func (m *MultiFileBookL2JSONLWriter) SetMemoryThreshold(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memThreshold = bytes
	for _, w := range m.writers {
		w.SetMemoryThreshold(bytes)
	}
}

func (m *MultiFileBookL2JSONLWriter) SetSegmentMode(mode SegmentMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segmentMode = mode
	for _, w := range m.writers {
		w.SetSegmentMode(mode)
	}
}

func (m *MultiFileBookL2JSONLWriter) writerFor(symbol string) (*BookL2JSONLWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[symbol]; ok {
		return w, nil
	}
	filename := insertSymbolToken(m.baseFilename, symbol, ".jsonl")
	w, err := NewBookL2JSONLWriter(filename, m.append)
	if err != nil {
		return nil, err
	}
	w.SetFlushInterval(m.flushInt)
	w.SetMemoryThreshold(m.memThreshold)
	if m.segmentMode != SegmentNone {
		w.SetSegmentMode(m.segmentMode)
	}
	m.writers[symbol] = w
	return w, nil
}

// WriteRecord routes rec to its symbol's writer, creating it if needed.
func (m *MultiFileBookL2JSONLWriter) WriteRecord(rec wire.BookL2Record) error {
	w, err := m.writerFor(rec.Symbol)
	if err != nil {
		return err
	}
	return w.WriteRecord(rec)
}

// FlushAll force-flushes every open member writer.
func (m *MultiFileBookL2JSONLWriter) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.ForceFlush(); err != nil {
			return err
		}
	}
	return nil
}

// FileCount returns the number of open member writers.
func (m *MultiFileBookL2JSONLWriter) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writers)
}

// TotalRecordCount sums RecordCount across all member writers.
func (m *MultiFileBookL2JSONLWriter) TotalRecordCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, w := range m.writers {
		total += w.RecordCount()
	}
	return total
}

// Close flushes and closes every member writer.
func (m *MultiFileBookL2JSONLWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// MultiFileBookL3JSONLWriter opens one BookL3JSONLWriter per symbol.
type MultiFileBookL3JSONLWriter struct {
	mu           sync.Mutex
	baseFilename string
	append       bool
	flushInt     time.Duration
	memThreshold int64
	segmentMode  SegmentMode
	writers      map[string]*BookL3JSONLWriter
}

// NewMultiFileBookL3JSONLWriter constructs a per-symbol L3 JSONL writer set.
func NewMultiFileBookL3JSONLWriter(baseFilename string, append bool) *MultiFileBookL3JSONLWriter {
	return &MultiFileBookL3JSONLWriter{baseFilename: baseFilename, append: append, writers: make(map[string]*BookL3JSONLWriter)}
}

func (m *MultiFileBookL3JSONLWriter) SetFlushInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushInt = d
	for _, w := range m.writers {
		w.SetFlushInterval(d)
	}
}

func (m *MultiFileBookL3JSONLWriter) SetMemoryThreshold(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memThreshold = bytes
	for _, w := range m.writers {
		w.SetMemoryThreshold(bytes)
	}
}

func (m *MultiFileBookL3JSONLWriter) SetSegmentMode(mode SegmentMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segmentMode = mode
	for _, w := range m.writers {
		w.SetSegmentMode(mode)
	}
}

func (m *MultiFileBookL3JSONLWriter) writerFor(symbol string) (*BookL3JSONLWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[symbol]; ok {
		return w, nil
	}
	filename := insertSymbolToken(m.baseFilename, symbol, ".jsonl")
	w, err := NewBookL3JSONLWriter(filename, m.append)
	if err != nil {
		return nil, err
	}
	w.SetFlushInterval(m.flushInt)
	w.SetMemoryThreshold(m.memThreshold)
	if m.segmentMode != SegmentNone {
		w.SetSegmentMode(m.segmentMode)
	}
	m.writers[symbol] = w
	return w, nil
}

// WriteRecord routes rec to its symbol's writer, creating it if needed.
func (m *MultiFileBookL3JSONLWriter) WriteRecord(rec wire.BookL3Record) error {
	w, err := m.writerFor(rec.Symbol)
	if err != nil {
		return err
	}
	return w.WriteRecord(rec)
}

// FlushAll force-flushes every open member writer.
func (m *MultiFileBookL3JSONLWriter) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.ForceFlush(); err != nil {
			return err
		}
	}
	return nil
}

// FileCount returns the number of open member writers.
func (m *MultiFileBookL3JSONLWriter) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writers)
}

// TotalRecordCount sums RecordCount across all member writers.
func (m *MultiFileBookL3JSONLWriter) TotalRecordCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, w := range m.writers {
		total += w.RecordCount()
	}
	return total
}

// Close flushes and closes every member writer.
func (m *MultiFileBookL3JSONLWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
