package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "42")
	ctx = WithClientID(ctx, "client-a")
	ctx = WithTool(ctx, "bin___tool_list")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "42", tc.RequestID)
	assert.Equal(t, "client-a", tc.ClientID)
	assert.Equal(t, "bin___tool_list", tc.Tool)
}

func TestGetEmpty(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetClientID(ctx))
	assert.Empty(t, GetTool(ctx))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := GetTraceID(ctx)
	assert.NotEmpty(t, id)

	assert.Equal(t, id, GetTraceID(EnsureTraceID(ctx)))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithTool(ctx, "bin___runtime_info")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"trace_id":"trace-1"`)
	assert.Contains(t, buf.String(), `"tool":"bin___runtime_info"`)
	assert.NotContains(t, buf.String(), "client_id")
}
