package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriter_OneLinePerRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink, err := NewJSONLWriter(&buf, false)
	require.NoError(t, err)

	require.NoError(t, sink.Submit(testRecord(true)))
	require.NoError(t, sink.Submit(testRecord(false)))
	assert.Zero(t, buf.Len(), "records stay buffered until flushed")

	require.NoError(t, sink.Flush(context.Background()))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"operationName":"azrefapp"`)
	assert.Contains(t, lines[1], `"success":false`)

	recs, err := ReadJSONL(&buf, false)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testRecord(true).Properties, recs[0].Properties)
	assert.True(t, recs[0].Timestamp.Equal(testRecord(true).Timestamp))
}

func TestJSONLSink_CompressedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl"+ZstdSuffix)
	sink, err := NewJSONLSink(JSONLOptions{Path: path})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, sink.Submit(testRecord(i%2 == 0)))
	}
	require.NoError(t, sink.Flush(context.Background()))
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Submit(testRecord(true)), ErrSinkClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	recs, err := ReadJSONL(f, true)
	require.NoError(t, err)
	assert.Len(t, recs, 100)
}

func TestJSONLSink_AppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := NewJSONLSink(JSONLOptions{Path: path})
		require.NoError(t, err)
		require.NoError(t, sink.Submit(testRecord(true)))
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	recs, err := ReadJSONL(bytes.NewReader(data), false)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestJSONLSink_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewJSONLSink(JSONLOptions{})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestJSONLSink_FlushHonoursContext(t *testing.T) {
	t.Parallel()

	sink, err := NewJSONLWriter(&bytes.Buffer{}, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Flush(ctx), context.Canceled)
}

// brokenFile refuses writes and records whether it was closed.
type brokenFile struct {
	closed int
}

func (f *brokenFile) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (f *brokenFile) Sync() error { return nil }
func (f *brokenFile) Close() error { f.closed++; return nil }

func TestJSONLSink_CloseReleasesFileWhenFlushFails(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		f := &brokenFile{}
		sink, err := NewJSONLWriter(f, compress)
		require.NoError(t, err)
		sink.file = f

		require.NoError(t, sink.Submit(testRecord(true)))

		err = sink.Close()
		require.Error(t, err, "compress=%v", compress)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 1, f.closed, "compress=%v", compress)

		assert.NoError(t, sink.Close(), "second close is a no-op")
		assert.Equal(t, 1, f.closed)
		assert.ErrorIs(t, sink.Submit(testRecord(true)), ErrSinkClosed)
	}
}
