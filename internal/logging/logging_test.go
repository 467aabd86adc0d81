package logging

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTx struct{ err error }

func (f fakeTx) Rollback() error { return f.err }

func TestSafeRollbackWithLogging(t *testing.T) {
	t.Run("logs unexpected rollback errors", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)
		SafeRollbackWithLogging(fakeTx{err: assert.AnError}, logger, "stage_batch")

		assert.Contains(t, buf.String(), `"msg":"failed to rollback transaction"`)
		assert.Contains(t, buf.String(), `"operation":"stage_batch"`)
	})

	t.Run("ignores committed transactions", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)
		SafeRollbackWithLogging(fakeTx{err: sql.ErrTxDone}, logger, "stage_batch")
		assert.Empty(t, buf.String())
	})
}

func TestLogOperation_SkipsZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogOperation(logger, "cutover_complete", slog.Duration("duration", 0), slog.String("carrier", "WKD"))
	assert.NotContains(t, buf.String(), "duration")
	assert.Contains(t, buf.String(), `"carrier":"WKD"`)

	buf.Reset()
	LogOperation(logger, "cutover_complete", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), "duration")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestFromContext(t *testing.T) {
	logger := Discard()
	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
	assert.NotNil(t, FromContext(context.Background()))

	_, ok := FromContextOK(context.Background())
	assert.False(t, ok)
	l, ok := FromContextOK(WithLogger(context.Background(), logger))
	assert.True(t, ok)
	assert.Same(t, logger, l)
}
