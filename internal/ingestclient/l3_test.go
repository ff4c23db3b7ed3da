package ingestclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdepth/krakenfeed/internal/kerrors"
)

const sampleBookL3SnapshotFrame = `{"channel":"level3","type":"snapshot","data":[` +
	`{"symbol":"BTC/USD","checksum":1234567,` +
	`"bids":[{"order_id":"b1","limit_price":"50000.0","order_qty":"1.0","timestamp":"t"}],` +
	`"asks":[{"order_id":"a1","limit_price":"50001.0","order_qty":"2.0","timestamp":"t"}]}]}`

const sampleBookL3DeleteFrame = `{"channel":"level3","type":"update","data":[` +
	`{"symbol":"BTC/USD",` +
	`"bids":[{"order_id":"b1","limit_price":"50000.0","order_qty":"0","timestamp":"t","event":"delete"}],` +
	`"asks":[]}]}`

func TestBookL3ClientStartWithoutTokenErrorsAuthMissing(t *testing.T) {
	c := NewBookL3Client(10)
	err := c.Start([]string{"BTC/USD"})
	var target *kerrors.AuthMissingError
	assert.ErrorAs(t, err, &target)
}

func TestBookL3ClientSetTokenTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("KRAKEN_WS_TOKEN", "from-env")

	c := NewBookL3Client(10)
	c.SetToken("explicit-token")
	c.SetTokenFromEnv()

	assert.Equal(t, "explicit-token", c.eng.token)
}

func TestBookL3ClientSetTokenFromFileTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("KRAKEN_WS_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o644))

	c := NewBookL3Client(10)
	require.NoError(t, c.SetTokenFromFile(path))
	c.SetTokenFromEnv()

	assert.Equal(t, "from-file", c.eng.token)
}

func TestBookL3ClientSetTokenFromFileNoopsWhenExplicitAlreadySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o644))

	c := NewBookL3Client(10)
	c.SetToken("explicit-token")
	require.NoError(t, c.SetTokenFromFile(path))

	assert.Equal(t, "explicit-token", c.eng.token)
}

func TestBookL3ClientSetTokenFromEnvFallsBackWhenUnset(t *testing.T) {
	t.Setenv("KRAKEN_WS_TOKEN", "from-env")

	c := NewBookL3Client(10)
	c.SetTokenFromEnv()

	assert.Equal(t, "from-env", c.eng.token)
}

func TestBookL3ClientApplySnapshotThenDeleteRemovesOrder(t *testing.T) {
	c := NewBookL3Client(10)
	c.onFrame([]byte(sampleBookL3SnapshotFrame))

	book := c.Book("BTC/USD")
	require.NotNil(t, book)
	assert.Equal(t, 2, book.OrderCount())

	c.onFrame([]byte(sampleBookL3DeleteFrame))
	assert.Equal(t, 1, book.OrderCount())
}

func TestBookL3ClientOutputFileFlushClearsPending(t *testing.T) {
	c := NewBookL3Client(10)
	path := filepath.Join(t.TempDir(), "book.jsonl")
	require.NoError(t, c.SetOutputFile(path))
	// The writer's first check always flushes (no prior flush time), so
	// turn the time trigger off to keep the record buffered until Flush.
	c.SetFlushInterval(0)

	c.onFrame([]byte(sampleBookL3SnapshotFrame))
	require.Equal(t, 1, c.PendingCount())
	require.NoError(t, c.Flush())
	assert.Zero(t, c.PendingCount(), "a durable flush must clear pending even without GetUpdates")
}

func TestBookL3ClientApplyUpdateUnknownOrderIsDroppedSilently(t *testing.T) {
	c := NewBookL3Client(10)

	var notified int
	c.SetErrorCallback(func(err error) { notified++ })

	c.onFrame([]byte(sampleBookL3DeleteFrame)) // deletes an order that was never added
	assert.Zero(t, notified, "an unknown-order delete is a routine lost-add, not reported")
}

func TestBookL3ClientApplyUpdateSideMismatchNotifiesError(t *testing.T) {
	c := NewBookL3Client(10)
	c.onFrame([]byte(sampleBookL3SnapshotFrame)) // b1 is indexed on the bid side

	var notified []error
	c.SetErrorCallback(func(err error) { notified = append(notified, err) })

	mismatchFrame := `{"channel":"level3","type":"update","data":[` +
		`{"symbol":"BTC/USD",` +
		`"bids":[],` +
		`"asks":[{"order_id":"b1","limit_price":"50000.0","order_qty":"2.0","timestamp":"t","event":"modify"}]}]}`
	c.onFrame([]byte(mismatchFrame))

	require.Len(t, notified, 1)
	var target *kerrors.SideMismatchError
	assert.ErrorAs(t, notified[0], &target)
}

func TestBookL3ClientStartWithTokenReachesEngine(t *testing.T) {
	_, wsURL := newLoopbackServer(t)

	c := NewBookL3Client(10)
	c.SetURL(wsURL)
	c.SetToken("explicit-token")

	require.NoError(t, c.Start([]string{"BTC/USD"}))
	defer c.Stop()
	assert.True(t, c.IsRunning())
}
