package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/voxgate/pkg/dbutil"
)

var jobSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
    id VARCHAR(255) PRIMARY KEY,
    tenant_id VARCHAR(255) NOT NULL,
    request_type VARCHAR(255) NOT NULL,
    status VARCHAR(32) NOT NULL,
    input TEXT,
    result TEXT,
    error_message TEXT,
    duration_ms BIGINT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at)`,
}

const jobColumns = `id, tenant_id, request_type, status, input, result, error_message, created_at, updated_at`

// SQLStore persists jobs in the jobs table. Transitions and deletes are
// conditional statements, so concurrent writers are serialized by the
// database rather than by this process.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the schema if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dbutil.ValidateDialect(dialect); err != nil {
		return nil, err
	}

	for _, stmt := range jobSchema {
		if dialect == dbutil.MySQL && strings.HasPrefix(stmt, "CREATE INDEX") {
			// MySQL has no CREATE INDEX IF NOT EXISTS.
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create job schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) q(query string) string {
	return dbutil.Rebind(s.dialect, query)
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (s *SQLStore) Create(ctx context.Context, j *Job) error {
	input, err := encodeJSON(j.Input)
	if err != nil {
		return fmt.Errorf("failed to encode job input: %w", err)
	}
	result, err := encodeJSON(j.Result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO jobs (`+jobColumns+`) VALUES (`+dbutil.Placeholders(9)+`)`),
		j.ID, j.TenantID, j.RequestType, string(j.Status), input, result,
		sql.NullString{String: j.ErrorMessage, Valid: j.ErrorMessage != ""},
		j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		if _, getErr := s.Get(ctx, j.ID); getErr == nil {
			return fmt.Errorf("%w: %s", ErrExists, j.ID)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		status               string
		input, result, errMs sql.NullString
	)
	if err := row.Scan(&j.ID, &j.TenantID, &j.RequestType, &status, &input, &result, &errMs, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.ErrorMessage = errMs.String
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &j.Input); err != nil {
			return nil, fmt.Errorf("failed to decode job input: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &j.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return &j, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return j, nil
}

// Transition writes the new state only if the stored state is one of its
// allowed predecessors. When no row matches, the job is re-read to tell a
// no-op from a rejected move.
func (s *SQLStore) Transition(ctx context.Context, id string, u Update) (*Job, Change, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, Noop, err
	}
	if change, err := CheckTransition(current.Status, u.Status); err != nil || change == Noop {
		return current, Noop, err
	}

	result, err := encodeJSON(u.Result)
	if err != nil {
		return nil, Noop, fmt.Errorf("failed to encode job result: %w", err)
	}
	var duration sql.NullInt64
	if u.Status.Terminal() {
		duration = sql.NullInt64{Int64: u.At.Sub(current.CreatedAt).Milliseconds(), Valid: true}
	}

	preds := Predecessors(u.Status)
	args := []any{
		string(u.Status), result,
		sql.NullString{String: u.Error, Valid: u.Error != ""},
		duration, u.At.UTC(), id,
	}
	for _, p := range preds {
		args = append(args, string(p))
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs
SET status = ?, result = COALESCE(?, result), error_message = COALESCE(?, error_message),
    duration_ms = COALESCE(?, duration_ms), updated_at = ?
WHERE id = ? AND status IN (`+dbutil.Placeholders(len(preds))+`)`), args...)
	if err != nil {
		return nil, Noop, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, Noop, fmt.Errorf("failed to update job: %w", err)
	}

	latest, err := s.Get(ctx, id)
	if err != nil {
		return nil, Noop, err
	}
	if n == 0 {
		// A concurrent writer moved the job first.
		_, err := CheckTransition(latest.Status, u.Status)
		return latest, Noop, err
	}
	return latest, Apply, nil
}

func (s *SQLStore) where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RequestType != "" {
		conds = append(conds, "request_type = ?")
		args = append(args, f.RequestType)
	}
	if f.Active {
		active := ActiveStatuses()
		conds = append(conds, "status IN ("+dbutil.Placeholders(len(active))+")")
		for _, st := range active {
			args = append(args, string(st))
		}
	}
	if f.Query != "" {
		pattern := "%" + dbutil.LikeEscape(strings.ToLower(f.Query)) + "%"
		like := " LIKE ?" + dbutil.LikeEscapeClause
		conds = append(conds, "(LOWER(COALESCE(input, ''))"+like+
			" OR LOWER(COALESCE(result, ''))"+like+
			" OR LOWER(COALESCE(error_message, ''))"+like+")")
		args = append(args, pattern, pattern, pattern)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) Search(ctx context.Context, f Filter) (*Page, error) {
	where, args := s.where(f)

	page := &Page{Limit: f.Limit, Offset: f.Offset, Jobs: []*Job{}}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM jobs`+where), args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		// Every supported dialect accepts a huge LIMIT with OFFSET.
		query += ` LIMIT ? OFFSET ?`
		args = append(args, int64(1<<62), f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		page.Jobs = append(page.Jobs, j)
	}
	return page, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	terminal := TerminalStatuses()
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM jobs WHERE id = ? AND status IN (`+dbutil.Placeholders(len(terminal))+`)`),
		id, string(terminal[0]), string(terminal[1]))
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrActive, id, j.Status)
}

func (s *SQLStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	terminal := TerminalStatuses()
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM jobs WHERE status IN (`+dbutil.Placeholders(len(terminal))+`) AND updated_at < ?`),
		string(terminal[0]), string(terminal[1]), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[Status]int64), ByRequestType: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, request_type, COUNT(*) FROM jobs GROUP BY status, request_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, requestType string
			n                   int64
		)
		if err := rows.Scan(&status, &requestType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		stats.Total += n
		stats.ByStatus[Status(status)] += n
		stats.ByRequestType[requestType] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM jobs WHERE created_at >= ?`), since.UTC()).Scan(&stats.Recent); err != nil {
		return nil, fmt.Errorf("failed to count recent jobs: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average job latency: %w", err)
	}
	stats.AvgTerminalLatencyMS = avg.Float64
	return stats, nil
}

func (s *SQLStore) Close() error {
	return nil
}

var _ Store = (*SQLStore)(nil)
