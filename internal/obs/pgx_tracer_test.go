package obs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPGXTracerRecordsOperationAndRows(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tracer := PGXTracer{}
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "\n  update quotes\n   set status = $2 where id = $1",
		Args: []any{1, "sent"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "pgx UPDATE", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "update quotes set status = $2 where id = $1", attrs["db.statement"])
	require.Equal(t, "1", attrs["db.rows_affected"])
	require.Equal(t, "pgx SELECT", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTruncateSQL(t *testing.T) {
	long := "select " + strings.Repeat("x, ", 200) + "y from quotes"
	got := truncateSQL(long)
	require.Len(t, got, maxStatementLen+3)
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, "QUERY", sqlOperation("   "))
}
