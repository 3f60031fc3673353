package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/depotops/feedmux/internal/backoff"
	"github.com/depotops/feedmux/internal/wire"
)

// PostgresConfig holds LISTEN/NOTIFY source settings.
type PostgresConfig struct {
	Channel string // NOTIFY channel carrying event frames as JSON payloads
	Retry   backoff.Policy
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Channel: "feed_events",
		Retry:   backoff.DefaultPolicy(),
	}
}

// Postgres turns NOTIFY payloads on a channel into feed events. Each
// payload must be a complete event frame; malformed payloads are logged
// and dropped.
type Postgres struct {
	cfg     PostgresConfig
	pool    *pgxpool.Pool
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgres creates a LISTEN/NOTIFY event source on the given pool.
func NewPostgres(cfg PostgresConfig, pool *pgxpool.Pool, handler Handler, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		cfg:     cfg,
		pool:    pool,
		handler: handler,
		logger:  logger,
	}
}

// Start begins listening in the background.
func (p *Postgres) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("postgres source started", "channel", p.cfg.Channel)
	return nil
}

// Stop gracefully shuts down.
func (p *Postgres) Stop(ctx context.Context) error {
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
		p.logger.Info("postgres source stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run re-establishes the listening connection whenever it fails.
func (p *Postgres) run() {
	defer p.wg.Done()

	attempt := 0
	for {
		err := p.listen()
		if p.ctx.Err() != nil {
			return
		}

		wait := p.cfg.Retry.Delay(attempt)
		attempt++
		p.logger.Warn("listen loop failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listen holds one connection on LISTEN and forwards notifications until
// the connection breaks.
func (p *Postgres) listen() error {
	conn, err := p.pool.Acquire(p.ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(p.ctx, "LISTEN "+pgx.Identifier{p.cfg.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %s: %w", p.cfg.Channel, err)
	}

	p.logger.Info("listening for notifications", "channel", p.cfg.Channel)

	for {
		notification, err := conn.Conn().WaitForNotification(p.ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		evt, err := wire.ParseEvent([]byte(notification.Payload))
		if err != nil {
			p.logger.Warn("malformed notification payload dropped",
				"channel", notification.Channel,
				"error", err,
			)
			continue
		}
		p.handler.HandleEvent(evt)
	}
}
