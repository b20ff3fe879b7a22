package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{sql: "SELECT * FROM outbox_events WHERE id = ?", operation: "SELECT", table: "outbox_events"},
		{sql: `INSERT INTO "ledger_entries" ("id") VALUES (?)`, operation: "INSERT", table: "ledger_entries"},
		{sql: "UPDATE outbox_events SET status = ?", operation: "UPDATE", table: "outbox_events"},
		{sql: "WITH due AS (SELECT 1) DELETE FROM invoice_lines", operation: "SELECT", table: "invoice_lines"},
		{sql: "", operation: "UNKNOWN", table: ""},
	}

	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.operation, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))
	return logs
}

func TestGormTraceLevels(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig())
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM ledger_entries WHERE tenant_id = $1", 1 }

	l.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "record not found is ignored")

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, errors.New("deadlock detected"))

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "ledger_entries", entries[0].ContextMap()["table"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "deadlock detected", entries[1].ContextMap()["error"])
}

func TestGormSilentAndInfo(t *testing.T) {
	logs := observeGlobal(t)
	ctx := context.Background()
	query := func() (string, int64) { return "DELETE FROM invoice_lines", 3 }

	NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query, errors.New("boom"))
	assert.Zero(t, logs.Len())

	NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Info).Trace(ctx, time.Now(), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	assert.EqualValues(t, 3, logs.All()[0].ContextMap()["rows_affected"])
}
