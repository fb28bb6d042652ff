package interaction

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/voxgate/pkg/dbutil"
)

var interactionSchema = []string{
	`CREATE TABLE IF NOT EXISTS interactions (
    tenant_id VARCHAR(255) NOT NULL,
    tool_name VARCHAR(255) NOT NULL,
    ts TIMESTAMP NOT NULL,
    outcome VARCHAR(32) NOT NULL,
    latency_ms BIGINT NOT NULL,
    error_kind VARCHAR(32),
    status_code INTEGER,
    job_id VARCHAR(255),
    is_test BOOLEAN NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_tenant_ts ON interactions(tenant_id, ts)`,
}

// SQLSink appends records to the interactions table.
type SQLSink struct {
	db      *sql.DB
	dialect string
}

// NewSQLSink creates the schema if needed.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect string) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dbutil.ValidateDialect(dialect); err != nil {
		return nil, err
	}
	for _, stmt := range interactionSchema {
		if dialect == dbutil.MySQL && strings.HasPrefix(stmt, "CREATE INDEX") {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create interaction schema: %w", err)
		}
	}
	return &SQLSink{db: db, dialect: dialect}, nil
}

func (s *SQLSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, dbutil.Rebind(s.dialect,
		`INSERT INTO interactions (tenant_id, tool_name, ts, outcome, latency_ms, error_kind, status_code, job_id, is_test)
VALUES (`+dbutil.Placeholders(9)+`)`))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.TenantID, r.ToolName, r.Timestamp.UTC(), string(r.Outcome), r.Latency.Milliseconds(),
			sql.NullString{String: r.ErrorKind, Valid: r.ErrorKind != ""},
			sql.NullInt64{Int64: int64(r.StatusCode), Valid: r.StatusCode != 0},
			sql.NullString{String: r.JobID, Valid: r.JobID != ""},
			r.Test,
		); err != nil {
			return fmt.Errorf("failed to insert interaction: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLSink) Recent(ctx context.Context, tenant string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, dbutil.Rebind(s.dialect,
		`SELECT tenant_id, tool_name, ts, outcome, latency_ms, error_kind, status_code, job_id, is_test
FROM interactions WHERE tenant_id = ? ORDER BY ts DESC LIMIT ?`), tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r         Record
			outcome   string
			latencyMS int64
			errorKind sql.NullString
			status    sql.NullInt64
			jobID     sql.NullString
		)
		if err := rows.Scan(&r.TenantID, &r.ToolName, &r.Timestamp, &outcome, &latencyMS, &errorKind, &status, &jobID, &r.Test); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.Outcome = Outcome(outcome)
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		r.ErrorKind = errorKind.String
		r.StatusCode = int(status.Int64)
		r.JobID = jobID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLSink) Summary(ctx context.Context, tenant string) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, dbutil.Rebind(s.dialect,
		`SELECT tool_name, outcome, COUNT(*), SUM(latency_ms) FROM interactions WHERE tenant_id = ? GROUP BY tool_name, outcome`), tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize interactions: %w", err)
	}
	defer rows.Close()

	sum := newSummary(tenant)
	var latency int64
	for rows.Next() {
		var (
			tool, outcome string
			n, ms         int64
		)
		if err := rows.Scan(&tool, &outcome, &n, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.Total += n
		sum.ByOutcome[Outcome(outcome)] += n
		sum.ByTool[tool] += n
		latency += ms
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sum.Total > 0 {
		sum.AvgLatencyMS = float64(latency) / float64(sum.Total)
	}
	return sum, nil
}

func (s *SQLSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, dbutil.Rebind(s.dialect, `DELETE FROM interactions WHERE ts < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune interactions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLSink) Close() error {
	return nil
}

var _ Sink = (*SQLSink)(nil)
