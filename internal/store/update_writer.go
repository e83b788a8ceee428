package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-labs/riskfeed/internal/model"
	"github.com/sentra-labs/riskfeed/internal/pipeline"
)

// UpdateWriter drains data updates from the pipeline and writes them to
// the feed_updates table, payload preserved as JSONB.
type UpdateWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the pipeline
	input *pipeline.Buffer[model.UpdateRecord]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []updateRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewUpdateWriter creates a new UpdateWriter.
func NewUpdateWriter(
	cfg WriterConfig,
	input *pipeline.Buffer[model.UpdateRecord],
	db *pgxpool.Pool,
	logger *slog.Logger,
) *UpdateWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]updateRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (w *UpdateWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("update writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *UpdateWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping update writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("update writer stopped")
	case <-ctx.Done():
		w.logger.Warn("update writer stop timed out")
	}

	// Drain what the consumer left behind, then final flush
	for _, rec := range w.input.Drain(0) {
		w.appendRow(w.transform(rec))
	}
	w.flush(context.Background())

	return nil
}

// Stats returns current metrics.
func (w *UpdateWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *UpdateWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			rec, ok := w.input.TryPop()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleUpdate(rec)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *UpdateWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleUpdate transforms and adds an update to the batch.
func (w *UpdateWriter) handleUpdate(rec model.UpdateRecord) {
	if w.appendRow(w.transform(rec)) {
		w.flush(w.ctx)
	}
}

// appendRow adds a row to the batch, reporting whether the batch is full.
func (w *UpdateWriter) appendRow(row updateRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an UpdateRecord to an updateRow.
func (w *UpdateWriter) transform(rec model.UpdateRecord) updateRow {
	return updateRow{
		IngestID:   uuid.New().String(),
		Kind:       rec.Kind,
		EventTime:  parseEventTime(rec.EventTime, rec.ReceivedAt),
		ReceivedAt: rec.ReceivedAt.UnixMicro(),
		Payload:    rec.Payload,
	}
}

// flush writes the current batch to the database.
func (w *UpdateWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]updateRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed updates",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *UpdateWriter) batchInsert(ctx context.Context, rows []updateRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO feed_updates (ingest_id, kind, event_time, received_at, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (kind, event_time, received_at) DO NOTHING
		`, r.IngestID, r.Kind, r.EventTime, r.ReceivedAt, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
