// Package kerrors defines the error taxonomy shared across the ingestion
// client, order book reconstructor, and writer: each error kind named in the
// design is its own type so callers can discriminate with errors.As, and
// each wraps its cause with github.com/pkg/errors the way the teacher's
// exchange packages do.
package kerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for boundary conditions that are not one of the named
// kinds below.
var (
	ErrNotRunning       = errors.New("client is not running")
	ErrAlreadyRunning   = errors.New("client is already running")
	ErrEmptySymbolList  = errors.New("symbol list is empty")
	ErrWriterDegraded   = errors.New("writer has degraded and is dropping records")
	ErrNoSnapshotYet    = errors.New("metrics requested before any snapshot was applied")
	ErrSegmentModeRange = errors.New("unrecognised segment mode")
)

// DecoderError wraps a malformed-JSON parse failure from the message
// decoder (C1). The frame is dropped; ingestion continues.
type DecoderError struct {
	Raw   string
	Cause error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("decoder: %v (raw=%q)", e.Cause, e.Raw)
}

// Unwrap allows errors.As/errors.Is to see through to the cause.
func (e *DecoderError) Unwrap() error { return e.Cause }

// NewDecoderError wraps cause with the offending raw payload.
func NewDecoderError(raw []byte, cause error) *DecoderError {
	return &DecoderError{Raw: string(raw), Cause: errors.Wrap(cause, "decode frame")}
}

// SubscribeFailedError describes a method=subscribe,success=false
// acknowledgement. No ingestion client constructs it: the clients ignore
// decoded subscribe acknowledgements, failed or not, and a failed
// subscription neither stops the worker nor reaches the error callback.
type SubscribeFailedError struct {
	Channel string
	Reason  string
}

func (e *SubscribeFailedError) Error() string {
	return fmt.Sprintf("subscribe failed for channel %q: %s", e.Channel, e.Reason)
}

// ChecksumMismatchError reports a CRC32 divergence between the locally
// computed top-of-book hash and the exchange-announced value (C4). State is
// left unmutated; the next snapshot re-syncs.
type ChecksumMismatchError struct {
	Symbol   string
	Expected uint32
	Got      uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %08x got %08x", e.Symbol, e.Expected, e.Got)
}

// UnknownOrderError reports a modify/delete against an order_id absent from
// the L3 by-id index (C3). The update is silently dropped; this error exists
// only for bookkeeping/telemetry, it is not surfaced to the error callback
// by default.
type UnknownOrderError struct {
	Symbol  string
	OrderID string
	Event   string
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("%s on unknown order %s for %s", e.Event, e.OrderID, e.Symbol)
}

// SideMismatchError reports a modify whose order_id currently lives on the
// price-index side opposite the wire array it arrived in (C3, §4.3). The
// order is left untouched; the modify is dropped.
type SideMismatchError struct {
	Symbol     string
	OrderID    string
	WireSide   string
	ActualSide string
}

func (e *SideMismatchError) Error() string {
	return fmt.Sprintf("order %s for %s arrived on side %q but is indexed on side %q",
		e.OrderID, e.Symbol, e.WireSide, e.ActualSide)
}

// CrossedBookError reports max(bid) >= min(ask), a protocol violation
// detected while computing metrics (C2). The book is not pruned; the
// metrics row is still written.
type CrossedBookError struct {
	Symbol  string
	BestBid string
	BestAsk string
}

func (e *CrossedBookError) Error() string {
	return fmt.Sprintf("crossed book for %s: best_bid=%s best_ask=%s", e.Symbol, e.BestBid, e.BestAsk)
}

// WriterIOError reports a failed open/write/flush/fsync from the durable
// writer (C5/C6). The writer degrades and begins dropping records.
type WriterIOError struct {
	Path  string
	Cause error
}

func (e *WriterIOError) Error() string {
	return fmt.Sprintf("writer I/O error on %s: %v", e.Path, e.Cause)
}

func (e *WriterIOError) Unwrap() error { return e.Cause }

// NewWriterIOError wraps cause with the path that failed.
func NewWriterIOError(path string, cause error) *WriterIOError {
	return &WriterIOError{Path: path, Cause: errors.Wrap(cause, "writer io")}
}

// ConnectionLostError reports a transport failure. The worker exits its
// event loop; the caller decides whether to restart.
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Cause)
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }

// AuthMissingError reports that no L3 token could be resolved from explicit
// arg, file, or environment. Startup fails before the worker is spawned.
type AuthMissingError struct{}

func (e *AuthMissingError) Error() string {
	return "no websocket auth token resolvable (arg/file/env all empty)"
}

// InputSpecError reports a malformed subscription-target specification
// (C8), with enough context to render a useful diagnostic.
type InputSpecError struct {
	Spec   string
	Reason string
}

func (e *InputSpecError) Error() string {
	return fmt.Sprintf("invalid input specification %q: %s", e.Spec, e.Reason)
}

// SegmentRotationError reports a failure while closing the old segment file
// or opening the new one during rotation (C5). The writer degrades.
type SegmentRotationError struct {
	From, To string
	Cause    error
}

func (e *SegmentRotationError) Error() string {
	return fmt.Sprintf("segment rotation %s -> %s failed: %v", e.From, e.To, e.Cause)
}

func (e *SegmentRotationError) Unwrap() error { return e.Cause }
