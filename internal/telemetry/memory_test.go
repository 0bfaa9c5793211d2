package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	t.Parallel()

	m := NewMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Submit(&Record{Name: "azrefapp"}))
		}()
	}
	wg.Wait()

	require.NoError(t, m.Flush(context.Background()))
	assert.Len(t, m.Records(), 20)
	assert.Equal(t, 1, m.Flushes())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Flush(ctx), context.Canceled)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Submit(&Record{}), ErrSinkClosed)
	assert.Len(t, m.Records(), 20)
}
