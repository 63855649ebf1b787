// Package telemetry records internal ceremony outcomes, including the precise
// failure causes that the external API deliberately hides.
package telemetry

import (
	"context"
	"time"

	"github.com/passkeyd/passkeyd/internal/platform/errors"
	"github.com/passkeyd/passkeyd/internal/platform/id"
	"github.com/passkeyd/passkeyd/internal/storage"
)

// Emitter records ceremony telemetry events.
type Emitter struct {
	store       storage.TelemetryStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now, idGenerator: id.NewID}
}

// Emit records a telemetry event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, event storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if event.ID == "" {
		generate := e.idGenerator
		if generate == nil {
			generate = id.NewID
		}
		eventID, err := generate()
		if err != nil {
			return err
		}
		event.ID = eventID
	}
	if event.CreatedAt.IsZero() {
		if e.clock == nil {
			event.CreatedAt = time.Now().UTC()
		} else {
			event.CreatedAt = e.clock().UTC()
		}
	}
	return e.store.AppendTelemetryEvent(ctx, event)
}

// CeremonyFailure records a failed ceremony attempt with its internal cause.
// The stored code carries the real failure reason even when the caller only
// ever sees a generic rejection.
func (e *Emitter) CeremonyFailure(ctx context.Context, ceremony, sessionID, username string, cause error) error {
	return e.Emit(ctx, storage.TelemetryEvent{
		Ceremony:  ceremony,
		SessionID: sessionID,
		Username:  username,
		Code:      string(errors.GetCode(cause)),
		Message:   cause.Error(),
	})
}

// CeremonySuccess records a completed ceremony.
func (e *Emitter) CeremonySuccess(ctx context.Context, ceremony, sessionID, username string) error {
	return e.Emit(ctx, storage.TelemetryEvent{
		Ceremony:  ceremony,
		SessionID: sessionID,
		Username:  username,
		Code:      "ok",
		Message:   "ceremony completed",
	})
}
