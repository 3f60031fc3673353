package source

import (
	"context"

	"github.com/depotops/feedmux/internal/wire"
)

// Source produces event frames for the hub to broadcast.
type Source interface {
	// Start begins producing events in the background.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error
}

// Handler receives produced events.
type Handler interface {
	HandleEvent(evt wire.Event)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(wire.Event)

func (f HandlerFunc) HandleEvent(evt wire.Event) {
	f(evt)
}
