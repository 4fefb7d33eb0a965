package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ForecastGate/internal/domain/models"
	pkgkafka "ForecastGate/pkg/kafka"
)

type fakeExec struct {
	queries []string
	args    [][]any
	err     error
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	return nil, f.err
}

func (f *fakeExec) PingContext(context.Context) error { return f.err }

type fakePublisher struct {
	topic  string
	msgs   []pkgkafka.Message
	closed bool
}

func (f *fakePublisher) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	f.topic = topic
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakePublisher) Close() error { f.closed = true; return nil }

func events(n int) []models.AuditEvent {
	out := make([]models.AuditEvent, n)
	for i := range out {
		out[i] = models.AuditEvent{Time: time.Unix(1700000000, 0).UTC(), RequestID: "req", Stage: "inference", Outcome: "ok", Status: 200}
	}
	return out
}

func TestClickHouseAuditWriter_WriteBatch(t *testing.T) {
	db := &fakeExec{}
	w := NewClickHouseAuditWriter(db, "audit_events")

	require.NoError(t, w.WriteBatch(context.Background(), events(3)))
	require.Len(t, db.queries, 1)
	assert.True(t, strings.HasPrefix(db.queries[0], "INSERT INTO audit_events (ts, request_id"))
	assert.Equal(t, 3, strings.Count(db.queries[0], "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"))
	assert.Len(t, db.args[0], 30)

	require.NoError(t, w.WriteBatch(context.Background(), nil))
	assert.Len(t, db.queries, 1)

	db.err = errors.New("connection refused")
	assert.Error(t, w.WriteBatch(context.Background(), events(1)))
	assert.Error(t, w.Health(context.Background()))
}

func TestAuditSchema(t *testing.T) {
	stmts := AuditSchema("forecastgate", "audit_events")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "forecastgate.audit_events")
	assert.Contains(t, stmts[1], "MergeTree")
}

func TestKafkaAuditWriter(t *testing.T) {
	p := &fakePublisher{}
	w := NewKafkaAuditWriter(p, "forecastgate.audit")

	require.NoError(t, w.WriteBatch(context.Background(), events(2)))
	assert.Equal(t, "forecastgate.audit", p.topic)
	require.Len(t, p.msgs, 2)
	assert.Equal(t, []byte("req"), p.msgs[0].Key)

	require.NoError(t, w.Close())
	assert.False(t, p.closed)
}

func TestMultiAuditWriter_JoinsErrors(t *testing.T) {
	ok := NewKafkaAuditWriter(&fakePublisher{}, "t")
	bad := NewClickHouseAuditWriter(&fakeExec{err: errors.New("down")}, "t")
	m := NewMultiAuditWriter(ok, bad)

	err := m.WriteBatch(context.Background(), events(1))
	assert.ErrorContains(t, err, "down")
	assert.NoError(t, m.Close())
}
