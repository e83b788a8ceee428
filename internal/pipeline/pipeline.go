// Package pipeline buffers dispatched feed messages between the feed
// handlers and the store writers. The feed core itself stays unbuffered
// and fire-and-forget; buffering is a collector-side concern.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/sentra-labs/riskfeed/internal/feed"
	"github.com/sentra-labs/riskfeed/internal/model"
)

// Config holds initial buffer capacities.
type Config struct {
	AlertBufferSize  int
	UpdateBufferSize int
}

// DefaultConfig returns default capacities.
func DefaultConfig() Config {
	return Config{
		AlertBufferSize:  1000,
		UpdateBufferSize: 5000,
	}
}

// Pipeline binds feed handlers to typed buffers the writers drain.
type Pipeline struct {
	logger *slog.Logger

	alerts  *Buffer[model.Alert]
	updates *Buffer[model.UpdateRecord]
}

// New creates a Pipeline.
func New(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AlertBufferSize == 0 {
		cfg.AlertBufferSize = DefaultConfig().AlertBufferSize
	}
	if cfg.UpdateBufferSize == 0 {
		cfg.UpdateBufferSize = DefaultConfig().UpdateBufferSize
	}
	return &Pipeline{
		logger:  logger,
		alerts:  NewBuffer[model.Alert](cfg.AlertBufferSize),
		updates: NewBuffer[model.UpdateRecord](cfg.UpdateBufferSize),
	}
}

// HandleAlert is the feed's alert callback.
func (p *Pipeline) HandleAlert(alert model.Alert) {
	if !p.alerts.Push(alert) {
		p.logger.Warn("alert arrived after pipeline close", "alert_id", alert.ID)
	}
}

// HandleUpdate is the feed's data-update callback. The envelope payload
// is carried through unmodified.
func (p *Pipeline) HandleUpdate(env feed.Envelope) {
	p.Offer(model.UpdateRecord{
		Kind:       env.Type,
		Payload:    env.Data,
		EventTime:  env.Timestamp,
		ReceivedAt: time.Now(),
	})
}

// Offer enqueues an update record directly. The REST poller uses this to
// feed synthesized records through the same path as live updates.
func (p *Pipeline) Offer(rec model.UpdateRecord) {
	if !p.updates.Push(rec) {
		p.logger.Warn("update arrived after pipeline close", "kind", rec.Kind)
	}
}

// Alerts returns the buffer the alert writer drains.
func (p *Pipeline) Alerts() *Buffer[model.Alert] { return p.alerts }

// Updates returns the buffer the update writer drains.
func (p *Pipeline) Updates() *Buffer[model.UpdateRecord] { return p.updates }

// Close closes both buffers. Writers drain the remainder.
func (p *Pipeline) Close() {
	p.alerts.Close()
	p.updates.Close()
}

// Stats reports both buffers.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Alerts:  p.alerts.Stats(),
		Updates: p.updates.Stats(),
	}
}

// PipelineStats aggregates buffer stats.
type PipelineStats struct {
	Alerts  BufferStats
	Updates BufferStats
}
