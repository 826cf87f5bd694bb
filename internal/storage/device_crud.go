package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenMatrixCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, name, host, port, password, num_inputs, num_outputs, enabled, command_timeout_ms`

func scanDevice(row pgx.Row) (types.MatrixDevice, error) {
	var d types.MatrixDevice
	err := row.Scan(&d.ID, &d.Name, &d.Host, &d.Port, &d.Password,
		&d.NumInputs, &d.NumOutputs, &d.Enabled, &d.CommandTimeoutMs)
	return d, err
}

// SaveDevice inserts or updates a device, keyed by name.
func (p *PostgresClient) SaveDevice(ctx context.Context, d types.MatrixDevice) (uuid.UUID, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO matrix_devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name)
		DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			password = EXCLUDED.password,
			num_inputs = EXCLUDED.num_inputs,
			num_outputs = EXCLUDED.num_outputs,
			enabled = EXCLUDED.enabled,
			command_timeout_ms = EXCLUDED.command_timeout_ms,
			updated_at = NOW()
		RETURNING id
	`, d.ID, d.Name, d.Host, d.Port, d.Password,
		d.NumInputs, d.NumOutputs, d.Enabled, d.CommandTimeoutMs,
	).Scan(&id)

	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert device: %w", err)
	}
	return id, nil
}

// LoadDevices returns every stored device ordered by name.
func (p *PostgresClient) LoadDevices(ctx context.Context) ([]types.MatrixDevice, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+deviceColumns+` FROM matrix_devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]types.MatrixDevice, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}

	return devices, nil
}

// GetDevice loads one device by id.
func (p *PostgresClient) GetDevice(ctx context.Context, id uuid.UUID) (types.MatrixDevice, error) {
	d, err := scanDevice(p.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM matrix_devices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.MatrixDevice{}, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	if err != nil {
		return types.MatrixDevice{}, fmt.Errorf("failed to load device: %w", err)
	}
	return d, nil
}

// DeleteDevice removes a device from database
func (p *PostgresClient) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM matrix_devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}

	return nil
}
