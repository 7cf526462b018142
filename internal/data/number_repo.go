package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/woedy/god-bless-super-sub006/internal/data/pgxutil"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// NumberRepo provides database operations for phone numbers.
type NumberRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NumberRepoConfig holds configuration options for the number repository.
type NumberRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewNumberRepo creates a new NumberRepo instance.
func NewNumberRepo(db *sql.DB, cfg NumberRepoConfig) *NumberRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &NumberRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const numberColumns = `
  id,
  project_id,
  number,
  carrier,
  line_type,
  country,
  validation,
  validated_at,
  created_at
`

// BulkInsert inserts a batch of numbers for a project. Duplicates against the
// (project_id, number) uniqueness constraint are skipped silently; the
// returned slice holds only the rows actually inserted, with their generated
// ids, so callers can keep working with the fresh rows (auto-validation does).
// Replaying a batch after crash recovery is therefore a no-op for rows that
// already landed.
func (r *NumberRepo) BulkInsert(
	ctx context.Context,
	projectID string,
	numbers []*model.PhoneNumber,
) ([]*model.PhoneNumber, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("project id is required")
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(numbers))
	carriers := make([]string, 0, len(numbers))
	lineTypes := make([]string, 0, len(numbers))
	countries := make([]string, 0, len(numbers))
	for _, n := range numbers {
		values = append(values, n.Number)
		carriers = append(carriers, n.Carrier)
		lineTypes = append(lineTypes, n.LineType)
		countries = append(countries, n.Country)
	}

	var inserted []*model.PhoneNumber
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, `
			INSERT INTO phone_numbers (project_id, number, carrier, line_type, country, validation)
			SELECT $1, t.number, t.carrier, t.line_type, t.country, 'unknown'
			FROM unnest($2::text[], $3::text[], $4::text[], $5::text[]) AS t(number, carrier, line_type, country)
			ON CONFLICT (project_id, number) DO NOTHING
			RETURNING `+numberColumns+`
		`, projectID, values, carriers, lineTypes, countries)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		var scanErr error
		inserted, scanErr = scanNumbers(rows)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("bulk insert numbers: %w", err)
	}
	return inserted, nil
}

// ExistsAny returns the subset of numbers already stored for the project.
// Generation uses it to drop known duplicates from a candidate batch before
// the insert; the ON CONFLICT clause in BulkInsert still guards the race
// against a concurrent writer.
func (r *NumberRepo) ExistsAny(
	ctx context.Context,
	projectID string,
	numbers []string,
) (map[string]struct{}, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("project id is required")
	}
	if len(numbers) == 0 {
		return map[string]struct{}{}, nil
	}

	existing := make(map[string]struct{})
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, queryErr := pgxConn.Query(ctx, `
			SELECT number FROM phone_numbers
			WHERE project_id = $1 AND number = ANY($2::text[])
		`, projectID, numbers)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var number string
			if scanErr := rows.Scan(&number); scanErr != nil {
				return scanErr
			}
			existing[number] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("check existing numbers: %w", err)
	}
	return existing, nil
}

// BulkUpdateValidation writes a batch of validation verdicts back in one
// statement and returns the number of rows updated.
func (r *NumberRepo) BulkUpdateValidation(
	ctx context.Context,
	results []model.ValidationResult,
) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(results))
	validations := make([]string, 0, len(results))
	carriers := make([]string, 0, len(results))
	lineTypes := make([]string, 0, len(results))
	countries := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.NumberID)
		validations = append(validations, string(res.Validation))
		carriers = append(carriers, res.Carrier)
		lineTypes = append(lineTypes, res.LineType)
		countries = append(countries, res.Country)
	}

	var updated int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		tag, execErr := pgxConn.Exec(ctx, `
			UPDATE phone_numbers p
			SET validation = v.validation,
			    carrier = COALESCE(NULLIF(v.carrier, ''), p.carrier),
			    line_type = COALESCE(NULLIF(v.line_type, ''), p.line_type),
			    country = COALESCE(NULLIF(v.country, ''), p.country),
			    validated_at = $6
			FROM unnest($1::uuid[], $2::text[], $3::text[], $4::text[], $5::text[])
			     AS v(id, validation, carrier, line_type, country)
			WHERE p.id = v.id
		`, ids, validations, carriers, lineTypes, countries, r.timeProvider.Now().UTC())
		if execErr != nil {
			return execErr
		}
		updated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk update validation: %w", err)
	}
	return updated, nil
}

// buildFilterClauses appends WHERE clauses for a NumberFilter. Area code
// filtering matches the number prefix.
func buildFilterClauses(filter *model.NumberFilter, where []string, args []any) ([]string, []any) {
	if filter == nil {
		return where, args
	}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Validation != "" {
		add("validation = $%d", filter.Validation)
	}
	if filter.Carrier != "" {
		add("carrier = $%d", filter.Carrier)
	}
	if filter.LineType != "" {
		add("line_type = $%d", filter.LineType)
	}
	if filter.Country != "" {
		add("country = $%d", filter.Country)
	}
	if filter.AreaCode != "" {
		add("number LIKE $%d", filter.AreaCode+"%")
	}
	return where, args
}

// ListByProject returns a page of numbers within a project, oldest first so
// export pagination is stable while a job walks the set.
func (r *NumberRepo) ListByProject(
	ctx context.Context,
	opts model.NumberListOptions,
) ([]*model.PhoneNumber, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, errors.New("project id is required")
	}
	opts.Normalize()

	where := []string{"project_id = $1"}
	args := []any{opts.ProjectID}
	where, args = buildFilterClauses(opts.Filter, where, args)

	query := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY created_at ASC, id ASC"

	args = append(args, opts.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryNumbers(ctx, query, args...)
}

// ListByIDs retrieves numbers by their IDs.
func (r *NumberRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.PhoneNumber, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var numbers []*model.PhoneNumber
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+numberColumns+`
			FROM phone_numbers
			WHERE id = ANY($1::uuid[])
			ORDER BY created_at ASC, id ASC
		`, ids)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var scanErr error
		numbers, scanErr = scanNumbers(rows)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("list numbers by ids: %w", err)
	}
	return numbers, nil
}

// CountByProject counts numbers within a project matching the filter.
func (r *NumberRepo) CountByProject(
	ctx context.Context,
	projectID string,
	filter *model.NumberFilter,
) (int64, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, errors.New("project id is required")
	}

	where := []string{"project_id = $1"}
	args := []any{projectID}
	where, args = buildFilterClauses(filter, where, args)

	var count int64
	query := `SELECT count(*) FROM phone_numbers WHERE ` + strings.Join(where, " AND ")
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count numbers: %w", err)
	}
	return count, nil
}

func (r *NumberRepo) queryNumbers(ctx context.Context, query string, args ...any) ([]*model.PhoneNumber, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query numbers: %w", err)
	}
	defer rows.Close()
	return scanNumbersSQL(rows)
}

type numberRowScanner interface {
	Scan(dest ...any) error
}

func scanNumberRow(scanner numberRowScanner) (*model.PhoneNumber, error) {
	n := &model.PhoneNumber{}
	var (
		carrier, lineType, country sql.NullString
		validatedAt                sql.NullTime
	)
	if err := scanner.Scan(
		&n.ID,
		&n.ProjectID,
		&n.Number,
		&carrier,
		&lineType,
		&country,
		&n.Validation,
		&validatedAt,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.Carrier = carrier.String
	n.LineType = lineType.String
	n.Country = country.String
	if validatedAt.Valid {
		t := validatedAt.Time.UTC()
		n.ValidatedAt = &t
	}
	return n, nil
}

func scanNumbers(rows pgx.Rows) ([]*model.PhoneNumber, error) {
	var numbers []*model.PhoneNumber
	for rows.Next() {
		n, err := scanNumberRow(rows)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func scanNumbersSQL(rows *sql.Rows) ([]*model.PhoneNumber, error) {
	var numbers []*model.PhoneNumber
	for rows.Next() {
		n, err := scanNumberRow(rows)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}
