package ingestclient

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBookL2SnapshotFrame = `{"channel":"book","type":"snapshot","data":[` +
	`{"symbol":"BTC/USD","checksum":1234567,` +
	`"bids":[{"price":"50000.0","qty":"1.0"}],` +
	`"asks":[{"price":"50001.0","qty":"2.0"}]}]}`

const sampleBookL2UpdateFrame = `{"channel":"book","type":"update","data":[` +
	`{"symbol":"BTC/USD","checksum":1234567,` +
	`"bids":[{"price":"50000.0","qty":"0"}],` +
	`"asks":[]}]}`

func TestBookL2ClientApplySnapshotBuildsBook(t *testing.T) {
	c := NewBookL2Client(10)
	c.onFrame([]byte(sampleBookL2SnapshotFrame))

	book := c.Book("BTC/USD")
	require.NotNil(t, book)
	assert.True(t, book.Initialized())
	assert.Equal(t, 1, c.PendingCount())
}

func TestBookL2ClientApplyUpdateDeletesZeroQtyLevel(t *testing.T) {
	c := NewBookL2Client(10)
	c.onFrame([]byte(sampleBookL2SnapshotFrame))
	c.onFrame([]byte(sampleBookL2UpdateFrame))

	book := c.Book("BTC/USD")
	_, ok := book.BestBid()
	assert.False(t, ok, "the zero-qty update must remove the only bid level")
}

func TestBookL2ClientChecksumMismatchNotifiesError(t *testing.T) {
	c := NewBookL2Client(10)

	var notifiedErrs int
	c.SetErrorCallback(func(err error) { notifiedErrs++ })

	// checksum in the frame does not match what the book would compute.
	c.onFrame([]byte(sampleBookL2SnapshotFrame))
	assert.GreaterOrEqual(t, notifiedErrs, 1)
}

func TestBookL2ClientSkipValidationSuppressesChecksumCheck(t *testing.T) {
	c := NewBookL2Client(10)
	c.SetSkipValidation(true)

	var notifiedErrs int
	c.SetErrorCallback(func(err error) { notifiedErrs++ })

	c.onFrame([]byte(sampleBookL2SnapshotFrame))
	assert.Zero(t, notifiedErrs)
}

func TestBookL2ClientOutputFileFlushClearsPending(t *testing.T) {
	c := NewBookL2Client(10)
	path := filepath.Join(t.TempDir(), "book.jsonl")
	require.NoError(t, c.SetOutputFile(path))
	// The writer's first check always flushes (no prior flush time), so
	// turn the time trigger off to keep the record buffered until Flush.
	c.SetFlushInterval(0)

	c.onFrame([]byte(sampleBookL2SnapshotFrame))
	require.Equal(t, 1, c.PendingCount())
	require.NoError(t, c.Flush())
	assert.Zero(t, c.PendingCount(), "a durable flush must clear pending even without GetUpdates")
}

func TestBookL2ClientOnFrameIgnoresOtherChannels(t *testing.T) {
	c := NewBookL2Client(10)
	c.onFrame([]byte(`{"channel":"ticker","type":"snapshot","data":[]}`))
	assert.Nil(t, c.Book("BTC/USD"))
}
