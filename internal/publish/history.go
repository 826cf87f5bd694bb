package publish

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/KevinKickass/OpenMatrixCore/internal/storage"
)

// RouteEventStore is implemented by *storage.PostgresClient.
type RouteEventStore interface {
	RecordRouteEvent(ctx context.Context, ev storage.RouteEvent) error
}

// HistorySink records route changes in the route_events table.
type HistorySink struct {
	store RouteEventStore
}

func NewHistorySink(store RouteEventStore) *HistorySink {
	return &HistorySink{store: store}
}

func (s *HistorySink) Name() string {
	return "history"
}

func (s *HistorySink) Write(ctx context.Context, events []devices.Event) error {
	var errs []error
	for _, ev := range events {
		err := s.store.RecordRouteEvent(ctx, storage.RouteEvent{
			DeviceID:   ev.DeviceID,
			DeviceName: ev.Device,
			Output:     ev.Change.Output,
			Signal:     string(ev.Change.Signal),
			Previous:   ev.Change.Previous,
			Input:      ev.Change.Input,
			Source:     string(ev.Change.Source),
			OccurredAt: ev.Timestamp,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the database client is owned by the caller.
func (s *HistorySink) Close() error {
	return nil
}
