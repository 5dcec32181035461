package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 10 * time.Second

// WriteJob represents a unit of work to execute against the database.
type WriteJob interface {
	Execute(ctx context.Context, pool *pgxpool.Pool) error
}

// WriteJobFunc adapts a function into a WriteJob.
type WriteJobFunc func(ctx context.Context, pool *pgxpool.Pool) error

func (f WriteJobFunc) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	return f(ctx, pool)
}

// BatchWriter collects write jobs and flushes them in batches. Archiving
// must never slow the chat down, so a full queue drops jobs.
type BatchWriter struct {
	pool      *pgxpool.Pool
	jobs      chan WriteJob
	batchSize int
	flushMs   int
	wg        sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewBatchWriter(pool *pgxpool.Pool, bufferSize, batchSize, flushMs int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMs <= 0 {
		flushMs = 100
	}
	w := &BatchWriter{
		pool:      pool,
		jobs:      make(chan WriteJob, bufferSize),
		batchSize: batchSize,
		flushMs:   flushMs,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue reports whether the job was accepted.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		log.Warn().Msg("write queue full, dropping job")
		return false
	}
}

// Dropped returns how many jobs were rejected by a full queue.
func (w *BatchWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many jobs returned an error.
func (w *BatchWriter) Failed() int64 { return w.failed.Load() }

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.flushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for _, job := range batch {
		if err := job.Execute(ctx, w.pool); err != nil {
			w.failed.Add(1)
			log.Error().Err(err).Msg("write job failed")
		}
	}
}

// Shutdown flushes pending jobs and stops the writer. Enqueue must not be
// called afterwards.
func (w *BatchWriter) Shutdown() {
	close(w.jobs)
	w.wg.Wait()
}
