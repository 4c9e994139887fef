package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

// DefaultChunkSize is the number of entities submitted per table transaction.
const DefaultChunkSize = 4

// BatchWriter splits writes into fixed-size chunks, one table transaction per chunk.
// Chunks are not atomic with each other: when chunk k fails, chunks before k stay committed.
type BatchWriter struct {
	chunkSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewBatchWriter(chunkSize int, logger *zap.Logger) *BatchWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{chunkSize: chunkSize, logger: logger}
}

func (w *BatchWriter) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

func (w *BatchWriter) ChunkSize() int { return w.chunkSize }

// Write submits entities to table in order. It stops at the first failing chunk.
func (w *BatchWriter) Write(ctx context.Context, table tablestore.Table, entities []tablestore.Entity, kind tablestore.ActionKind) error {
	for index, chunk := range chunkEntities(entities, w.chunkSize) {
		actions := make([]tablestore.Action, 0, len(chunk))
		for _, e := range chunk {
			if e.BodyBlobName != "" {
				e.Body = nil
			}
			actions = append(actions, tablestore.Action{Kind: kind, Entity: e})
		}

		if err := table.SubmitTransaction(ctx, actions); err != nil {
			w.metrics.IncChunkTransaction(table.Name(), "error")
			w.logger.Error("chunk transaction failed",
				zap.String("table", table.Name()),
				zap.Int("chunk", index),
				zap.Int("size", len(actions)),
				zap.Stringer("action", kind),
				zap.Error(err),
			)
			return fmt.Errorf("%w: table %s chunk %d: %v", domain.ErrStoreTransaction, table.Name(), index, err)
		}
		w.metrics.IncChunkTransaction(table.Name(), "ok")
	}
	return nil
}

// WriteBatch writes entities with a one-off writer of the given chunk size.
func WriteBatch(ctx context.Context, table tablestore.Table, entities []tablestore.Entity, kind tablestore.ActionKind, chunkSize int) error {
	return NewBatchWriter(chunkSize, nil).Write(ctx, table, entities, kind)
}

func chunkEntities(entities []tablestore.Entity, size int) [][]tablestore.Entity {
	if len(entities) == 0 {
		return nil
	}
	chunks := make([][]tablestore.Entity, 0, (len(entities)+size-1)/size)
	for start := 0; start < len(entities); start += size {
		end := min(start+size, len(entities))
		chunks = append(chunks, entities[start:end])
	}
	return chunks
}
