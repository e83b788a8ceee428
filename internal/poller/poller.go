package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentra-labs/riskfeed/internal/api"
	"github.com/sentra-labs/riskfeed/internal/model"
)

// HealthSource fetches the backend health snapshot.
type HealthSource interface {
	GetSystemHealth(ctx context.Context) (*api.SystemHealth, error)
}

// UpdateHandler receives synthesized health updates.
type UpdateHandler interface {
	HandleUpdate(rec model.UpdateRecord)
}

// UpdateHandlerFunc is a function adapter for UpdateHandler.
type UpdateHandlerFunc func(model.UpdateRecord)

func (f UpdateHandlerFunc) HandleUpdate(rec model.UpdateRecord) {
	f(rec)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 1m)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Poller periodically fetches the health snapshot via REST.
type Poller struct {
	cfg     Config
	source  HealthSource
	handler UpdateHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source HealthSource, handler UpdateHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("health poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("health poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches one health snapshot and hands it off as an update.
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()

	health, err := p.source.GetSystemHealth(ctx)
	if err != nil {
		p.logger.Warn("health poll failed", "err", err)
		return
	}

	if p.handler != nil {
		p.handler.HandleUpdate(model.UpdateRecord{
			Kind:       model.TypeSystemHealth,
			Payload:    health.Raw,
			ReceivedAt: time.Now(),
		})
	}

	p.logger.Debug("health poll complete",
		"status", health.Status,
		"duration", time.Since(start),
	)
}
