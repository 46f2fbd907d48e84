package storage

import (
	"context"
	"errors"

	"liquidityAgent/internal/model"
)

// EventSink receives agent events.
type EventSink interface {
	Emit(ctx context.Context, event model.Event) error
}

// Fanout delivers every event to all sinks. A failing sink does not stop the
// others; the errors are joined.
type Fanout []EventSink

// Emit forwards the event to each sink.
func (f Fanout) Emit(ctx context.Context, event model.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
