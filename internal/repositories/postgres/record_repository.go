package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"github.com/lib/pq"
)

// PostgresRecordRepository implements RecordRepository using PostgreSQL
type PostgresRecordRepository struct {
	db *sql.DB
}

// NewPostgresRecordRepository creates a new PostgreSQL record repository
func NewPostgresRecordRepository(db *sql.DB) repositories.RecordRepository {
	return &PostgresRecordRepository{db: db}
}

const recordColumns = `id, model, attributes, created_at, updated_at`

// Find retrieves a record by id
func (r *PostgresRecordRepository) Find(ctx context.Context, model string, id int64) (*entities.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE model = $1 AND id = $2`

	record, err := scanRecord(conn(ctx, r.db).QueryRowContext(ctx, query, model, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s:%d: %w", model, id, entities.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}

	return record, nil
}

// FindMany retrieves the records that exist among ids
func (r *PostgresRecordRepository) FindMany(ctx context.Context, model string, ids []int64) ([]*entities.Record, error) {
	if len(ids) == 0 {
		return []*entities.Record{}, nil
	}

	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE model = $1 AND id = ANY($2)
		ORDER BY array_position($2, id)
	`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, model, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// List retrieves records matching the filter
func (r *PostgresRecordRepository) List(ctx context.Context, model string, filter *repositories.RecordFilter) ([]*entities.Record, error) {
	where, args := buildRecordWhere(model, filter)
	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + where

	argIdx := len(args) + 1
	var orderBy []string
	if filter != nil {
		for _, o := range filter.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			switch o.Column {
			case "id", "created_at", "updated_at":
				orderBy = append(orderBy, fmt.Sprintf("%s %s", o.Column, dir))
			default:
				orderBy = append(orderBy, fmt.Sprintf("attributes->$%d %s", argIdx, dir))
				args = append(args, o.Column)
				argIdx++
			}
		}
	}
	orderBy = append(orderBy, "id ASC")
	query += " ORDER BY " + strings.Join(orderBy, ", ")

	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter != nil && filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count counts records matching the filter
func (r *PostgresRecordRepository) Count(ctx context.Context, model string, filter *repositories.RecordFilter) (int, error) {
	where, args := buildRecordWhere(model, filter)

	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

// Create inserts a record and assigns its ID
func (r *PostgresRecordRepository) Create(ctx context.Context, record *entities.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	attrs, err := marshalAttributes(record.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO records (model, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`
	now := time.Now()
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, record.Model, attrs, now).Scan(&record.ID); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	return nil
}

// Update persists the attributes of an existing record
func (r *PostgresRecordRepository) Update(ctx context.Context, record *entities.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	attrs, err := marshalAttributes(record.Attributes)
	if err != nil {
		return err
	}

	query := `UPDATE records SET attributes = $1, updated_at = $2 WHERE model = $3 AND id = $4`
	now := time.Now()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, attrs, now, record.Model, record.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", record, entities.ErrRecordNotFound)
	}
	record.UpdatedAt = now

	return nil
}

// Delete removes a record; the pivots foreign keys cascade
func (r *PostgresRecordRepository) Delete(ctx context.Context, model string, id int64) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM records WHERE model = $1 AND id = $2`, model, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s:%d: %w", model, id, entities.ErrRecordNotFound)
	}

	return nil
}

// buildRecordWhere builds the dynamic WHERE clause shared by List and Count.
func buildRecordWhere(model string, filter *repositories.RecordFilter) (string, []interface{}) {
	clauses := []string{"model = $1"}
	args := []interface{}{model}
	argIdx := 2

	if filter == nil {
		return clauses[0], args
	}

	if filter.IDs != nil {
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", argIdx))
		args = append(args, pq.Array(filter.IDs))
		argIdx++
	}
	if len(filter.ExcludeIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("NOT (id = ANY($%d))", argIdx))
		args = append(args, pq.Array(filter.ExcludeIDs))
		argIdx++
	}
	for attr, value := range filter.Where {
		if value == nil {
			clauses = append(clauses, fmt.Sprintf("(attributes->>$%d) IS NULL", argIdx))
			args = append(args, attr)
			argIdx++
			continue
		}
		clauses = append(clauses, fmt.Sprintf("attributes->>$%d = $%d", argIdx, argIdx+1))
		args = append(args, attr, fmt.Sprint(value))
		argIdx += 2
	}
	for _, cond := range filter.Conditions {
		clauses = append(clauses, "("+cond+")")
	}

	terms := repositories.SearchTerms(filter.Search, filter.SearchMode)
	if len(terms) > 0 {
		if len(filter.SearchColumns) == 0 {
			clauses = append(clauses, "FALSE")
		} else {
			var termClauses []string
			for _, term := range terms {
				var colClauses []string
				for _, col := range filter.SearchColumns {
					colClauses = append(colClauses, fmt.Sprintf("attributes->>$%d ILIKE $%d", argIdx, argIdx+1))
					args = append(args, col, "%"+escapeLike(term)+"%")
					argIdx += 2
				}
				termClauses = append(termClauses, "("+strings.Join(colClauses, " OR ")+")")
			}
			joiner := " AND "
			if filter.SearchMode == "any" {
				joiner = " OR "
			}
			clauses = append(clauses, "("+strings.Join(termClauses, joiner)+")")
		}
	}

	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*entities.Record, error) {
	var record entities.Record
	var attrs []byte

	if err := row.Scan(&record.ID, &record.Model, &attrs, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}

	record.Attributes = make(map[string]any)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &record.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}

	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]*entities.Record, error) {
	records := []*entities.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return data, nil
}
