package logger_adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"queue-listener-service/internal/core/port"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postedRecord struct {
	tag  string
	data port.Fields
}

type fakeFluent struct {
	posted []postedRecord
	closed bool
}

func (f *fakeFluent) Post(tag string, message interface{}) error {
	f.posted = append(f.posted, postedRecord{tag: tag, data: message.(port.Fields)})
	return nil
}

func (f *fakeFluent) Close() error {
	f.closed = true
	return nil
}

func TestSlogAdapterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAdapter(SlogConfig{Writer: &buf, Level: slog.LevelDebug, IsJSON: true})

	logger.WithFields(port.Fields{"component": "listener"}).
		Error("Failed to subscribe", errors.New("access refused"), port.Fields{"queue": "orders"})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "Failed to subscribe", record["msg"])
	assert.Equal(t, "listener", record["component"])
	assert.Equal(t, "orders", record["queue"])
	assert.Equal(t, "access refused", record["err"])
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAdapter(SlogConfig{Writer: &buf, Level: slog.LevelWarn})

	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("shown", port.Fields{"b": 2, "a": 1})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Less(t, strings.Index(out, "a=1"), strings.Index(out, "b=2"))
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, level)

	level, ok = ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, level)

	level, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestFluentAdapter(t *testing.T) {
	client := &fakeFluent{}
	adapter, err := NewFluentLoggerAdapter(client, slog.LevelInfo)
	require.NoError(t, err)

	logger := adapter.WithFields(port.Fields{"service_name": "queue-listener-service"})
	logger.Debug("dropped", nil)
	logger.Error("Handler error", errors.New("boom"), port.Fields{"delivery_tag": 3})

	require.Len(t, client.posted, 1)
	rec := client.posted[0]
	assert.Equal(t, "ERROR", rec.tag)
	assert.Equal(t, "Handler error", rec.data["message"])
	assert.Equal(t, "boom", rec.data["error"])
	assert.Equal(t, 3, rec.data["delivery_tag"])
	assert.Equal(t, "queue-listener-service", rec.data["service_name"])

	require.NoError(t, adapter.Close())
	assert.True(t, client.closed)
}

func TestFluentAdapterRequiresClient(t *testing.T) {
	_, err := NewFluentLoggerAdapter(nil, nil)
	assert.Error(t, err)
}

func TestMultiLogger(t *testing.T) {
	first, second := &fakeFluent{}, &fakeFluent{}
	a, _ := NewFluentLoggerAdapter(first, slog.LevelDebug)
	b, _ := NewFluentLoggerAdapter(second, slog.LevelWarn)

	multi, err := NewMultiloggerAdapter(a, nil, b)
	require.NoError(t, err)

	multi.WithFields(port.Fields{"k": "v"}).Info("hello", nil)
	multi.Warn("careful", nil)

	assert.Len(t, first.posted, 2)
	assert.Len(t, second.posted, 1)
	assert.Equal(t, "v", first.posted[0].data["k"])

	_, err = NewMultiloggerAdapter()
	assert.Error(t, err)
}
