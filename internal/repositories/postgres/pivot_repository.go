package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"github.com/lib/pq"
)

// PostgresPivotRepository implements PivotRepository using PostgreSQL.
// All join tables share the pivots table, partitioned by pivot_table.
type PostgresPivotRepository struct {
	db *sql.DB
}

// NewPostgresPivotRepository creates a new PostgreSQL pivot repository
func NewPostgresPivotRepository(db *sql.DB) repositories.PivotRepository {
	return &PostgresPivotRepository{db: db}
}

// ownerColumns returns the column holding the owner and the one holding the related id.
func ownerColumns(key repositories.PivotKey) (owner, related string) {
	if key.Inverse {
		return "related_id", "parent_id"
	}
	return "parent_id", "related_id"
}

// Read retrieves all rows owned by ownerID
func (r *PostgresPivotRepository) Read(ctx context.Context, key repositories.PivotKey, ownerID int64) ([]*entities.PivotRow, error) {
	owner, related := ownerColumns(key)
	query := fmt.Sprintf(`
		SELECT %s, %s, data, created_at
		FROM pivots
		WHERE pivot_table = $1 AND parent_type = $2 AND %s = $3
		ORDER BY created_at, %s
	`, owner, related, owner, related)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, key.Table, key.MorphType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pivots: %w", err)
	}
	defer rows.Close()

	var result []*entities.PivotRow
	for rows.Next() {
		row, err := scanPivot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pivot: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pivots: %w", err)
	}

	return result, nil
}

// Find retrieves one row
func (r *PostgresPivotRepository) Find(ctx context.Context, key repositories.PivotKey, ownerID, relatedID int64) (*entities.PivotRow, error) {
	owner, related := ownerColumns(key)
	query := fmt.Sprintf(`
		SELECT %s, %s, data, created_at
		FROM pivots
		WHERE pivot_table = $1 AND parent_type = $2 AND %s = $3 AND %s = $4
	`, owner, related, owner, related)

	row, err := scanPivot(conn(ctx, r.db).QueryRowContext(ctx, query, key.Table, key.MorphType, ownerID, relatedID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pivot %s %d->%d: %w", key.Table, ownerID, relatedID, entities.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pivot: %w", err)
	}

	return row, nil
}

// Attach inserts rows in one statement batch, leaving existing rows untouched
func (r *PostgresPivotRepository) Attach(ctx context.Context, key repositories.PivotKey, rows []*entities.PivotRow) error {
	if len(rows) == 0 {
		return nil
	}

	owner, related := ownerColumns(key)
	query := fmt.Sprintf(`
		INSERT INTO pivots (pivot_table, parent_type, %s, %s, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pivot_table, parent_type, parent_id, related_id) DO NOTHING
	`, owner, related)

	stmt, err := conn(ctx, r.db).PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid pivot row: %w", err)
		}

		data, err := marshalAttributes(row.Data)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, key.Table, key.MorphType, row.OwnerID, row.RelatedID, data, now); err != nil {
			return fmt.Errorf("failed to attach pivot: %w", err)
		}
		row.CreatedAt = now
	}

	return nil
}

// Update replaces the data of an existing row
func (r *PostgresPivotRepository) Update(ctx context.Context, key repositories.PivotKey, row *entities.PivotRow) error {
	data, err := marshalAttributes(row.Data)
	if err != nil {
		return err
	}

	owner, related := ownerColumns(key)
	query := fmt.Sprintf(`
		UPDATE pivots SET data = $1
		WHERE pivot_table = $2 AND parent_type = $3 AND %s = $4 AND %s = $5
	`, owner, related)

	result, err := conn(ctx, r.db).ExecContext(ctx, query, data, key.Table, key.MorphType, row.OwnerID, row.RelatedID)
	if err != nil {
		return fmt.Errorf("failed to update pivot: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("pivot %s %d->%d: %w", key.Table, row.OwnerID, row.RelatedID, entities.ErrRecordNotFound)
	}

	return nil
}

// Detach removes the rows of ownerID pointing at relatedIDs
func (r *PostgresPivotRepository) Detach(ctx context.Context, key repositories.PivotKey, ownerID int64, relatedIDs []int64) error {
	if len(relatedIDs) == 0 {
		return nil
	}

	owner, related := ownerColumns(key)
	query := fmt.Sprintf(`
		DELETE FROM pivots
		WHERE pivot_table = $1 AND parent_type = $2 AND %s = $3 AND %s = ANY($4)
	`, owner, related)

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, key.Table, key.MorphType, ownerID, pq.Array(relatedIDs)); err != nil {
		return fmt.Errorf("failed to detach pivots: %w", err)
	}

	return nil
}

func scanPivot(row rowScanner) (*entities.PivotRow, error) {
	var pivot entities.PivotRow
	var data []byte

	if err := row.Scan(&pivot.OwnerID, &pivot.RelatedID, &data, &pivot.CreatedAt); err != nil {
		return nil, err
	}

	pivot.Data = make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pivot.Data); err != nil {
			return nil, fmt.Errorf("failed to decode pivot data: %w", err)
		}
	}

	return &pivot, nil
}
