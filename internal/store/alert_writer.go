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

// AlertWriter drains normalized alerts from the pipeline and writes them
// to the risk_alerts table.
type AlertWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the pipeline
	input *pipeline.Buffer[model.Alert]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []alertRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewAlertWriter creates a new AlertWriter.
func NewAlertWriter(
	cfg WriterConfig,
	input *pipeline.Buffer[model.Alert],
	db *pgxpool.Pool,
	logger *slog.Logger,
) *AlertWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]alertRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming alerts and writing to the database.
func (w *AlertWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("alert writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *AlertWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping alert writer")

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
		w.logger.Info("alert writer stopped")
	case <-ctx.Done():
		w.logger.Warn("alert writer stop timed out")
	}

	// Drain what the consumer left behind, then final flush
	for _, alert := range w.input.Drain(0) {
		w.appendRow(w.transform(alert))
	}
	w.flush(context.Background())

	return nil
}

// Stats returns current metrics.
func (w *AlertWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *AlertWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			alert, ok := w.input.TryPop()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleAlert(alert)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *AlertWriter) flushLoop() {
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

// handleAlert transforms and adds an alert to the batch.
func (w *AlertWriter) handleAlert(alert model.Alert) {
	if w.appendRow(w.transform(alert)) {
		w.flush(w.ctx)
	}
}

// appendRow adds a row to the batch, reporting whether the batch is full.
func (w *AlertWriter) appendRow(row alertRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an Alert to an alertRow.
func (w *AlertWriter) transform(alert model.Alert) alertRow {
	now := time.Now()
	return alertRow{
		IngestID:    uuid.New().String(),
		AlertID:     alert.ID,
		AlertType:   alert.Type,
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		CreatedAt:   parseEventTime(alert.CreatedAt, now),
		ReceivedAt:  now.UnixMicro(),
		Metadata:    metadataToJSONB(alert.Metadata),
	}
}

// flush writes the current batch to the database.
func (w *AlertWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]alertRow, 0, w.cfg.BatchSize)
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

	w.logger.Debug("flushed alerts",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *AlertWriter) batchInsert(ctx context.Context, rows []alertRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO risk_alerts (ingest_id, alert_id, alert_type, severity, title, description, created_at, received_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (alert_id, created_at) DO NOTHING
		`, r.IngestID, r.AlertID, r.AlertType, r.Severity, r.Title, r.Description, r.CreatedAt, r.ReceivedAt, r.Metadata)
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
