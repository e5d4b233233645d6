package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// PostgresDeferredBindingRepository implements DeferredBindingRepository using PostgreSQL
type PostgresDeferredBindingRepository struct {
	db *sql.DB
}

// NewPostgresDeferredBindingRepository creates a new PostgreSQL deferred binding repository
func NewPostgresDeferredBindingRepository(db *sql.DB) repositories.DeferredBindingRepository {
	return &PostgresDeferredBindingRepository{db: db}
}

const bindingColumns = `id, master_type, master_field, slave_type, slave_id, pivot_data, session_key, is_bind, created_at`

// Write stores a binding and assigns its ID
func (r *PostgresDeferredBindingRepository) Write(ctx context.Context, binding *entities.DeferredBinding) error {
	if err := binding.Validate(); err != nil {
		return fmt.Errorf("invalid deferred binding: %w", err)
	}

	pivotData, err := marshalAttributes(binding.PivotData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deferred_bindings (
			master_type, master_field, slave_type, slave_id,
			pivot_data, session_key, is_bind, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	now := time.Now()
	err = conn(ctx, r.db).QueryRowContext(ctx, query,
		binding.MasterType, binding.MasterField, binding.SlaveType, binding.SlaveID,
		pivotData, binding.SessionKey, binding.IsBind, now,
	).Scan(&binding.ID)
	if err != nil {
		return fmt.Errorf("failed to write deferred binding: %w", err)
	}
	binding.CreatedAt = now

	return nil
}

// Update replaces the pivot data of a binding
func (r *PostgresDeferredBindingRepository) Update(ctx context.Context, binding *entities.DeferredBinding) error {
	pivotData, err := marshalAttributes(binding.PivotData)
	if err != nil {
		return err
	}

	result, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE deferred_bindings SET pivot_data = $1 WHERE id = $2`, pivotData, binding.ID)
	if err != nil {
		return fmt.Errorf("failed to update deferred binding: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("deferred binding %d: %w", binding.ID, entities.ErrRecordNotFound)
	}

	return nil
}

// Delete removes a binding by id
func (r *PostgresDeferredBindingRepository) Delete(ctx context.Context, id int64) error {
	if _, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM deferred_bindings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete deferred binding: %w", err)
	}
	return nil
}

// Read retrieves bindings matching the filter, oldest first
func (r *PostgresDeferredBindingRepository) Read(ctx context.Context, filter *repositories.DeferredBindingFilter) ([]*entities.DeferredBinding, error) {
	where, args, err := buildBindingWhere(filter)
	if err != nil {
		return nil, err
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+bindingColumns+` FROM deferred_bindings WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred bindings: %w", err)
	}
	defer rows.Close()

	return scanBindings(rows)
}

// Count counts bindings matching the filter
func (r *PostgresDeferredBindingRepository) Count(ctx context.Context, filter *repositories.DeferredBindingFilter) (int, error) {
	where, args, err := buildBindingWhere(filter)
	if err != nil {
		return 0, err
	}

	var count int
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_bindings WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count deferred bindings: %w", err)
	}

	return count, nil
}

// DeleteOlderThan removes bindings created before t and returns them
func (r *PostgresDeferredBindingRepository) DeleteOlderThan(ctx context.Context, t time.Time) ([]*entities.DeferredBinding, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `DELETE FROM deferred_bindings WHERE created_at < $1 RETURNING `+bindingColumns, t)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale deferred bindings: %w", err)
	}
	defer rows.Close()

	return scanBindings(rows)
}

func buildBindingWhere(filter *repositories.DeferredBindingFilter) (string, []interface{}, error) {
	if filter == nil || filter.SessionKey == "" {
		return "", nil, fmt.Errorf("session key is required")
	}

	query := "session_key = $1"
	args := []interface{}{filter.SessionKey}
	argIdx := 2

	if filter.MasterType != "" {
		query += fmt.Sprintf(" AND master_type = $%d", argIdx)
		args = append(args, filter.MasterType)
		argIdx++
	}
	if filter.MasterField != "" {
		query += fmt.Sprintf(" AND master_field = $%d", argIdx)
		args = append(args, filter.MasterField)
		argIdx++
	}
	if filter.SlaveType != "" {
		query += fmt.Sprintf(" AND slave_type = $%d", argIdx)
		args = append(args, filter.SlaveType)
		argIdx++
	}
	if filter.SlaveID != 0 {
		query += fmt.Sprintf(" AND slave_id = $%d", argIdx)
		args = append(args, filter.SlaveID)
	}

	return query, args, nil
}

func scanBindings(rows *sql.Rows) ([]*entities.DeferredBinding, error) {
	var bindings []*entities.DeferredBinding
	for rows.Next() {
		var b entities.DeferredBinding
		var pivotData []byte

		err := rows.Scan(
			&b.ID, &b.MasterType, &b.MasterField, &b.SlaveType, &b.SlaveID,
			&pivotData, &b.SessionKey, &b.IsBind, &b.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deferred binding: %w", err)
		}

		if len(pivotData) > 0 {
			if err := json.Unmarshal(pivotData, &b.PivotData); err != nil {
				return nil, fmt.Errorf("failed to decode pivot data: %w", err)
			}
		}

		bindings = append(bindings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deferred bindings: %w", err)
	}

	return bindings, nil
}
