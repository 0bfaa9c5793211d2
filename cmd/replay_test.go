package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samplerelay/internal/listener"
	"samplerelay/internal/stats"
	"samplerelay/internal/storage"
	"samplerelay/internal/telemetry"
)

const replayJTL = `timeStamp,elapsed,label,responseCode,responseMessage,threadName,dataType,success,failureMessage,bytes,sentBytes,grpThreads,allThreads,URL,Latency,IdleTime,Connect,responseHeaders
1700000000000,120,Home,200,OK,Thread Group 1-1,text,true,,512,128,5,10,http://localhost:8080/fast,100,0,12,"HTTP/1.1 200 OK
AzRef-PodName: pod-7
"
1700000000100,oops,Home,200,OK,Thread Group 1-2,text,true,,512,128,5,10,,100,0,12,
1700000000200,300,Login,500,Internal Server Error,Thread Group 1-3,text,false,boom,64,32,5,10,,290,3,20,
1700000000300,80,Admin,200,OK,Thread Group 1-4,text,true,,64,32,5,10,,70,0,5,
1700000000400,90,Home,200,OK,Thread Group 1-5,text,true,,64,32,5,10,,70,0,5,
`

func setupReplayListener(t *testing.T, params listener.Params) (*listener.Listener, *telemetry.MemorySink, *stats.Stats) {
	t.Helper()
	sink := telemetry.NewMemorySink()
	st := stats.New()
	l, err := listener.Setup(params, sink, listener.Options{
		Logger:     testLog(),
		Recorder:   st,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return l, sink, st
}

func TestReplayReader_BatchesAndCountsRowErrors(t *testing.T) {
	t.Parallel()

	params := listener.DefaultParameters().
		Set(listener.KeySamplersList, "Home;Login").
		Set(listener.KeyResponseHeaders, "AzRef-PodName")
	l, sink, st := setupReplayListener(t, params)

	n, err := replayReader(context.Background(), strings.NewReader(replayJTL), 2, l, st, testLog())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, l.Teardown(context.Background()))

	recs := sink.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "Home", recs[0].Properties[listener.PropSampleLabel])
	assert.Equal(t, "pod-7", recs[0].Properties["aih.azref-podname"])
	assert.Equal(t, "Login", recs[1].Properties[listener.PropSampleLabel])
	assert.False(t, recs[1].Success)

	snap := st.Snapshot()
	assert.Equal(t, uint64(4), snap.Samples)
	assert.Equal(t, uint64(3), snap.Submitted)
	assert.Equal(t, uint64(1), snap.Filtered)
	assert.Equal(t, uint64(1), snap.RowErrors)
	assert.Equal(t, 1, sink.Flushes())
}

func TestReplayReader_StopsOnCancel(t *testing.T) {
	t.Parallel()

	l, sink, st := setupReplayListener(t, listener.DefaultParameters())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := replayReader(ctx, strings.NewReader(replayJTL), 2, l, st, testLog())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, sink.Records())
}

func TestReplayReader_MissingColumns(t *testing.T) {
	t.Parallel()

	l, _, st := setupReplayListener(t, listener.DefaultParameters())
	_, err := replayReader(context.Background(), strings.NewReader("label,elapsed\nHome,1\n"), 10, l, st, testLog())
	assert.Error(t, err)
}

func TestRelay_FinishSavesHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, sink, st := setupReplayListener(t, listener.DefaultParameters().Set(listener.KeyTestName, "smoke"))
	rel := &relay{
		source:   "replay",
		sinkKind: SinkMemory,
		listener: l,
		stats:    st,
		close:    func(context.Context) error { return sink.Close() },
		started:  time.Now(),
		log:      testLog(),
	}

	_, err := replayReader(context.Background(), strings.NewReader(replayJTL), 100, l, st, testLog())
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, rel.finish(context.Background(), &out, dir))
	assert.Contains(t, out.String(), "RELAY RESULTS")
	assert.Contains(t, out.String(), "Row errors     : 1")

	h, err := storage.OpenHistory(dir)
	require.NoError(t, err)
	items := h.List()
	require.Len(t, items, 1)
	assert.Equal(t, "smoke", items[0].TestName)
	assert.Equal(t, "replay", items[0].Source)
	assert.Equal(t, uint64(4), items[0].Summary.Submitted)

	_, err = os.Stat(filepath.Join(dir, "history.json"))
	assert.NoError(t, err)
}
