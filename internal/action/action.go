// Package action holds the table of executable actions the sync server can
// perform on behalf of a connection. Handlers for blockchain, LLM, or voice
// work are registered by the embedding program at startup; the server itself
// never interprets a handler's result, it only forwards it into the
// session's action_used stream.
package action

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/metrics"
)

// ErrUnknownAction is returned by Perform for an unregistered action id.
var ErrUnknownAction = errors.New("unknown action")

// Handler executes one action. params arrives as whatever structure the
// caller supplied (mapping or list); the result is opaque to the server.
type Handler func(ctx context.Context, params any) (any, error)

// Registry is an explicit action table built once at startup and injected
// wherever Perform is needed.
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "actions").Logger(),
		handlers: make(map[string]Handler),
	}
}

// Register binds id to h, replacing any previous handler for id.
func (r *Registry) Register(id string, h Handler) {
	r.mu.Lock()
	r.handlers[id] = h
	r.mu.Unlock()
	r.log.Info().Str("action", id).Msg("action registered")
}

// Names returns the registered action ids.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		names = append(names, id)
	}
	return names
}

// Perform executes actionID with params on behalf of connectionID. The
// connection id is carried for attribution only.
func (r *Registry) Perform(ctx context.Context, connectionID, actionID string, params any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[actionID]
	r.mu.RUnlock()
	if !ok {
		metrics.ActionsPerformed.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	result, err := h(ctx, params)
	if err != nil {
		metrics.ActionsPerformed.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Str("action", actionID).Str("conn", connectionID).Msg("action failed")
		return nil, fmt.Errorf("action %s: %w", actionID, err)
	}
	metrics.ActionsPerformed.WithLabelValues("ok").Inc()
	r.log.Info().Str("action", actionID).Str("conn", connectionID).Msg("action performed")
	return result, nil
}
