package telemetry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrSinkClosed is returned by Submit once a sink has been closed.
var ErrSinkClosed = errors.New("telemetry: sink closed")

// MemorySink keeps submitted records in memory. It backs dry runs and tests.
type MemorySink struct {
	mu      sync.Mutex
	records []*Record
	flushes int
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Submit(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSinkClosed
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return ctx.Err()
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything submitted so far.
func (m *MemorySink) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	copy(out, m.records)
	return out
}

// Flushes returns how many times Flush was called.
func (m *MemorySink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
