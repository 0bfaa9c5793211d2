package runner

import (
	"context"
	"sync"
	"time"

	"samplerelay/internal/sample"
)

// BatchHandler receives completed samples. It may be called from several
// goroutines at once.
type BatchHandler func(batch []*sample.Sample)

type batcher struct {
	mu     sync.Mutex
	buf    []*sample.Sample
	size   int
	handle BatchHandler
}

func newBatcher(size int, handle BatchHandler) *batcher {
	return &batcher{size: size, handle: handle, buf: make([]*sample.Sample, 0, size)}
}

func (b *batcher) add(s *sample.Sample) {
	b.mu.Lock()
	b.buf = append(b.buf, s)
	var full []*sample.Sample
	if len(b.buf) >= b.size {
		full = b.buf
		b.buf = make([]*sample.Sample, 0, b.size)
	}
	b.mu.Unlock()

	if full != nil {
		b.handle(full)
	}
}

func (b *batcher) flush() {
	b.mu.Lock()
	pending := b.buf
	b.buf = make([]*sample.Sample, 0, b.size)
	b.mu.Unlock()

	if len(pending) > 0 {
		b.handle(pending)
	}
}

// flushEvery hands off partial batches until ctx is done.
func (b *batcher) flushEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush()
		}
	}
}
