package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(zerolog.New(buf))
}

func TestLoggerWritesAllLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	assert.Contains(t, out, `"debug line"`)
	assert.Contains(t, out, `"info line"`)
	assert.Contains(t, out, `"warn line"`)
	assert.Contains(t, out, `"error line"`)
}

func TestLoggerRendersTypedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Warn("retry attempt failed",
		payarmor.TenantField("tenant-42"),
		payarmor.TxnField("txn-abc"),
		payarmor.ErrField(errors.New("card network unreachable")),
		payarmor.Field{Key: "latency", Value: 150 * time.Millisecond},
		payarmor.Field{Key: "attempt", Value: 3})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "tenant-42", line["tenant_id"])
	assert.Equal(t, "txn-abc", line["transaction_id"])
	assert.Equal(t, "card network unreachable", line["error"])
	assert.Equal(t, float64(150), line["latency"])
	assert.Equal(t, float64(3), line["attempt"])
}

func TestLoggerHonorsLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("filtered")
	logger.Info("filtered")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}
