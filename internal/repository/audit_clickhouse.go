package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
)

// execer is the subset of *sql.DB the writer needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// ClickHouseAuditWriter appends audit events to a MergeTree table.
type ClickHouseAuditWriter struct {
	db    execer
	table string
}

func NewClickHouseAuditWriter(db execer, table string) *ClickHouseAuditWriter {
	return &ClickHouseAuditWriter{db: db, table: table}
}

// AuditSchema returns the DDL for the audit table in database db.
func AuditSchema(db, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts          DateTime64(3, 'UTC'),
    request_id  String,
    identity    LowCardinality(String),
    route       LowCardinality(String),
    stage       LowCardinality(String),
    outcome     LowCardinality(String),
    status      UInt16,
    elapsed_ms  Int64,
    series      UInt32,
    detail      String
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (stage, outcome, ts)
TTL toDateTime(ts) + INTERVAL 30 DAY`, db, table),
	}
}

const auditColumns = "ts, request_id, identity, route, stage, outcome, status, elapsed_ms, series, detail"

func (w *ClickHouseAuditWriter) WriteBatch(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	// multi-row VALUES keeps round-trips low
	const chunkSize = 2000
	for start := 0; start < len(events); start += chunkSize {
		end := min(start+chunkSize, len(events))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*10)
		for _, e := range events[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				e.Time,
				e.RequestID,
				e.Identity,
				e.Route,
				e.Stage,
				e.Outcome,
				uint16(e.Status),
				e.ElapsedMS,
				uint32(e.Series),
				e.Detail,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", w.table, auditColumns, strings.Join(values, ","))
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert audit events: %w", err)
		}
	}
	return nil
}

func (w *ClickHouseAuditWriter) Health(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close leaves the connection to pkg/clickhouse.
func (w *ClickHouseAuditWriter) Close() error { return nil }

var _ domrepo.AuditWriter = (*ClickHouseAuditWriter)(nil)
