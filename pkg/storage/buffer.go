package storage

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/pkg/data"
)

// defaultFlushSize triggers an early flush once a stream accumulates this
// many pending records.
const defaultFlushSize = 1000

// Buffer accumulates live records pushed by connectors and flushes them
// to storage in batches, on a timer or once a stream's backlog crosses
// the size threshold. It is the write-side adapter between push callbacks
// and the merge-on-write store.
type Buffer struct {
	registry  *Registry
	flushSize int

	mu      sync.Mutex
	pending map[data.StreamKey][]data.Record
}

// NewBuffer builds a buffer over a registry. flushSize <= 0 selects the
// default threshold.
func NewBuffer(registry *Registry, flushSize int) *Buffer {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	return &Buffer{
		registry:  registry,
		flushSize: flushSize,
		pending:   make(map[data.StreamKey][]data.Record),
	}
}

// OnRecordsReceived is the connector push callback. It never blocks on
// storage I/O; oversized backlogs are flushed asynchronously.
func (b *Buffer) OnRecordsReceived(key data.StreamKey, records []data.Record) {
	if len(records) == 0 {
		return
	}
	b.mu.Lock()
	b.pending[key] = append(b.pending[key], records...)
	overflow := len(b.pending[key]) >= b.flushSize
	b.mu.Unlock()

	if overflow {
		go func() {
			if err := b.FlushKey(context.Background(), key); err != nil {
				logx.Errorf("buffer: flush %s: %v", key, err)
			}
		}()
	}
}

// Pending returns the number of buffered records for a stream.
func (b *Buffer) Pending(key data.StreamKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[key])
}

// FlushKey persists and clears the backlog of one stream.
func (b *Buffer) FlushKey(ctx context.Context, key data.StreamKey) error {
	b.mu.Lock()
	records := b.pending[key]
	delete(b.pending, key)
	b.mu.Unlock()
	if len(records) == 0 {
		return nil
	}
	if err := b.registry.GetStorage(key, nil).Save(ctx, records); err != nil {
		// Put the batch back so the next flush retries it.
		b.mu.Lock()
		b.pending[key] = append(records, b.pending[key]...)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Flush persists all pending streams. The first error is returned after
// attempting every stream.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	keys := make([]data.StreamKey, 0, len(b.pending))
	for key := range b.pending {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := b.FlushKey(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run flushes on the given interval until the context is cancelled, then
// performs a final flush.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := b.Flush(context.Background()); err != nil {
				logx.Errorf("buffer: final flush: %v", err)
			}
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				logx.Errorf("buffer: flush: %v", err)
			}
		}
	}
}
