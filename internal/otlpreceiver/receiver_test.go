package otlpreceiver

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinytelemetry/slsink/internal/ingest"
)

func str(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}

func testRequest() *collogspb.ExportLogsServiceRequest {
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{str("service.name", "checkout")}},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope: &commonpb.InstrumentationScope{Name: "app.logger", Version: "1.2"},
				LogRecords: []*logspb.LogRecord{
					{
						TimeUnixNano:   1705312245000000000,
						SeverityNumber: logspb.SeverityNumber_SEVERITY_NUMBER_ERROR,
						Body:           &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "payment\nfailed"}},
						Attributes: []*commonpb.KeyValue{
							{Key: "order", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 42}}},
						},
						TraceId: []byte{0xab, 0xcd},
					},
					{
						SeverityText: "debug",
						Body:         &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "retrying"}},
					},
				},
			}},
		}},
	}
}

func attr(e ingest.Entry, key string) (slog.Value, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

func TestEntries(t *testing.T) {
	t.Parallel()

	entries := Entries(testRequest())
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	first := entries[0]
	if first.Message != "payment failed" {
		t.Errorf("message = %q", first.Message)
	}
	if first.Level != slog.LevelError {
		t.Errorf("level = %v, want ERROR", first.Level)
	}
	if first.Time.UnixNano() != 1705312245000000000 {
		t.Errorf("time = %v", first.Time)
	}
	if first.Tags["service.name"] != "checkout" {
		t.Errorf("tags = %v", first.Tags)
	}
	if v, _ := attr(first, "order"); v.Kind() != slog.KindInt64 || v.Int64() != 42 {
		t.Errorf("order = %v", v)
	}
	if v, _ := attr(first, "trace.id"); v.String() != "abcd" {
		t.Errorf("trace.id = %v", v)
	}
	if v, _ := attr(first, "otel.scope.name"); v.String() != "app.logger" {
		t.Errorf("scope = %v", v)
	}

	second := entries[1]
	if second.Level != slog.LevelDebug {
		t.Errorf("second level = %v, want DEBUG", second.Level)
	}
	if !second.Time.IsZero() {
		t.Errorf("second time = %v, want zero", second.Time)
	}
}

func TestAnyValueString(t *testing.T) {
	t.Parallel()

	arr := &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{
		Values: []*commonpb.AnyValue{
			{Value: &commonpb.AnyValue_StringValue{StringValue: "a"}},
			{Value: &commonpb.AnyValue_BoolValue{BoolValue: true}},
			{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: 1.5}},
		},
	}}}
	if got := anyValueString(arr); got != "a,true,1.5" {
		t.Errorf("array = %q", got)
	}
	if got := anyValueString(nil); got != "" {
		t.Errorf("nil = %q", got)
	}
}

type collectSink struct {
	mu      sync.Mutex
	entries []ingest.Entry
}

func (s *collectSink) Emit(_ context.Context, e ingest.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestReceiverExportOverGRPC(t *testing.T) {
	t.Parallel()

	sink := &collectSink{}
	r := New(sink, Config{Addr: "127.0.0.1:0"})
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})

	conn, err := grpc.NewClient(r.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := collogspb.NewLogsServiceClient(conn).Export(ctx, testRequest()); err != nil {
		t.Fatalf("Export: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(sink.entries))
	}
	if sink.entries[0].Source != "otlp" {
		t.Errorf("source = %q, want otlp", sink.entries[0].Source)
	}
	if reqs, recs := r.Stats(); reqs != 1 || recs != 2 {
		t.Errorf("stats = %d/%d, want 1/2", reqs, recs)
	}
}
