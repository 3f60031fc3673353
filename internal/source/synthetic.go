package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/depotops/feedmux/internal/wire"
)

// SyntheticConfig holds synthetic source settings.
type SyntheticConfig struct {
	Interval time.Duration // time between events
	Topics   []string      // topics to rotate through
}

// DefaultSyntheticConfig returns sensible defaults.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Interval: 2 * time.Second,
		Topics:   []string{"trainsets", "fitness", "alerts"},
	}
}

// Synthetic emits generated depot events at a fixed interval, rotating
// through its topics. It exists so the feed can run without a database.
type Synthetic struct {
	cfg     SyntheticConfig
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq atomic.Int64
}

// NewSynthetic creates a synthetic event source.
func NewSynthetic(cfg SyntheticConfig, handler Handler, logger *slog.Logger) *Synthetic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthetic{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the emit loop.
func (s *Synthetic) Start(ctx context.Context) error {
	if len(s.cfg.Topics) == 0 {
		return errors.New("synthetic source: no topics configured")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("synthetic source started",
		"interval", s.cfg.Interval,
		"topics", s.cfg.Topics,
	)
	return nil
}

// Stop gracefully shuts down.
func (s *Synthetic) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("synthetic source stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the emit loop. One event per tick, starting immediately.
func (s *Synthetic) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	next := 0
	emit := func() {
		topic := s.cfg.Topics[next%len(s.cfg.Topics)]
		next++
		s.handler.HandleEvent(s.generate(topic))
	}

	emit()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}

var (
	trainsetStatuses = []string{"in_service", "maintenance", "standby", "cleaning"}
	certificates     = []string{"brakes", "doors", "traction", "signalling"}
	alertSeverities  = []string{"info", "warning", "critical"}
	alertMessages    = []string{
		"door fault reported",
		"brake pressure below threshold",
		"platform sensor offline",
		"wheel flat detected",
	}
)

// generate produces one event for the topic.
func (s *Synthetic) generate(topic string) wire.Event {
	seq := s.seq.Add(1)
	trainset := fmt.Sprintf("TS-%03d", 101+rand.IntN(40))

	evt := wire.Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
	}

	switch topic {
	case "trainsets":
		evt.Type = "trainsetUpdate"
		evt.Payload = marshalPayload(map[string]any{
			"id":      trainset,
			"status":  trainsetStatuses[rand.IntN(len(trainsetStatuses))],
			"mileage": 50_000 + rand.IntN(450_000),
			"seq":     seq,
		})
	case "fitness":
		evt.Type = "fitnessExpiry"
		evt.Payload = marshalPayload(map[string]any{
			"trainset":    trainset,
			"certificate": certificates[rand.IntN(len(certificates))],
			"expires_at":  time.Now().UTC().Add(time.Duration(rand.IntN(90*24)) * time.Hour).Format(time.RFC3339),
			"seq":         seq,
		})
	case "alerts":
		evt.Type = "alertRaised"
		evt.Payload = marshalPayload(map[string]any{
			"severity": alertSeverities[rand.IntN(len(alertSeverities))],
			"message":  alertMessages[rand.IntN(len(alertMessages))],
			"trainset": trainset,
			"seq":      seq,
		})
	default:
		evt.Type = "update"
		evt.Payload = marshalPayload(map[string]any{"seq": seq})
	}

	return evt
}

func marshalPayload(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
