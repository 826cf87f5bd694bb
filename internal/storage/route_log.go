package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RecordRouteEvent appends one routing change to the history.
func (p *PostgresClient) RecordRouteEvent(ctx context.Context, ev RouteEvent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO route_events (device_id, device_name, output, signal, previous, input, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.DeviceID, ev.DeviceName, ev.Output, ev.Signal, ev.Previous, ev.Input, ev.Source, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to record route event: %w", err)
	}
	return nil
}

// ListRouteEvents returns the newest events of a device, newest first.
func (p *PostgresClient) ListRouteEvents(ctx context.Context, deviceID uuid.UUID, limit int) ([]RouteEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, device_id, device_name, output, signal, previous, input, source, occurred_at
		FROM route_events
		WHERE device_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query route events: %w", err)
	}
	defer rows.Close()

	events := make([]RouteEvent, 0)
	for rows.Next() {
		var ev RouteEvent
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.DeviceName, &ev.Output, &ev.Signal,
			&ev.Previous, &ev.Input, &ev.Source, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan route event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
