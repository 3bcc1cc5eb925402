package db

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBufferedLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestGormLoggerSlowQuery(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(newBufferedLogger(&buf), 10*time.Millisecond)

	gl.Trace(context.Background(), time.Now().Add(-50*time.Millisecond), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), "SELECT 1")
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(newBufferedLogger(&buf), time.Second)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT * FROM x", 0
	}, gorm.ErrRecordNotFound)

	assert.Empty(t, buf.String())
}

func TestGormLoggerErrorsAndSilent(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(newBufferedLogger(&buf), time.Second)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("duplicate key"))
	assert.Contains(t, buf.String(), "query failed")

	buf.Reset()
	silent := gl.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("duplicate key"))
	assert.Empty(t, buf.String())
}
