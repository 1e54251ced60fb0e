// Package otlpreceiver accepts OTLP/gRPC log exports and forwards every log
// record to an ingest sink.
package otlpreceiver

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/slsink/internal/ingest"
	"github.com/tinytelemetry/slsink/internal/logparse"
)

// DefaultAddr is the conventional OTLP/gRPC port on loopback.
const DefaultAddr = "127.0.0.1:4317"

// Config holds receiver options.
type Config struct {
	Addr string
	// MaxRecvMsgSize bounds one export request; 16 MiB when zero.
	MaxRecvMsgSize int
}

// Receiver is an OTLP LogsService server.
type Receiver struct {
	collogspb.UnimplementedLogsServiceServer

	addr   string
	sink   ingest.Sink
	server *grpc.Server

	mu       sync.Mutex
	listener net.Listener

	requests atomic.Int64
	records  atomic.Int64
}

// New creates a receiver that emits records to sink.
func New(sink ingest.Sink, cfg Config) *Receiver {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = 16 << 20
	}
	r := &Receiver{
		addr:   cfg.Addr,
		sink:   sink,
		server: grpc.NewServer(grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize)),
	}
	collogspb.RegisterLogsServiceServer(r.server, r)
	return r
}

// Start listens and serves in the background.
func (r *Receiver) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("otlpreceiver: serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the active listen address, or the configured one before Start.
func (r *Receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

// Stop drains in-flight exports, bounded by ctx.
func (r *Receiver) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.server.Stop()
		<-done
	}
}

// Stats returns the number of export requests and log records received.
func (r *Receiver) Stats() (requests, records int64) {
	return r.requests.Load(), r.records.Load()
}

// Export implements the OTLP LogsService.
func (r *Receiver) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}
	r.requests.Add(1)

	n := 0
	for _, e := range Entries(req) {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		e.Source = "otlp"
		r.sink.Emit(ctx, e)
		n++
	}
	r.records.Add(int64(n))
	return &collogspb.ExportLogsServiceResponse{}, nil
}

// Entries converts an export request into ingest entries. Resource
// attributes become tags; scope and record attributes become fields.
func Entries(req *collogspb.ExportLogsServiceRequest) []ingest.Entry {
	var out []ingest.Entry
	for _, rl := range req.GetResourceLogs() {
		resource := keyValues(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			var scope []slog.Attr
			if s := sl.GetScope(); s != nil {
				if s.GetName() != "" {
					scope = append(scope, slog.String("otel.scope.name", s.GetName()))
				}
				if s.GetVersion() != "" {
					scope = append(scope, slog.String("otel.scope.version", s.GetVersion()))
				}
			}
			for _, lr := range sl.GetLogRecords() {
				out = append(out, entry(lr, resource, scope))
			}
		}
	}
	return out
}

func entry(lr *logspb.LogRecord, resource map[string]string, scope []slog.Attr) ingest.Entry {
	e := ingest.Entry{
		Message: sanitize(anyValueString(lr.GetBody())),
		Level:   slog.LevelInfo,
	}
	switch {
	case lr.GetSeverityText() != "":
		e.Level = logparse.ToLevel(lr.GetSeverityText())
	case lr.GetSeverityNumber() > 0:
		e.Level = logparse.OTELNumberToLevel(int(lr.GetSeverityNumber()))
	}
	switch {
	case lr.GetTimeUnixNano() > 0:
		e.Time = time.Unix(0, int64(lr.GetTimeUnixNano()))
	case lr.GetObservedTimeUnixNano() > 0:
		e.Time = time.Unix(0, int64(lr.GetObservedTimeUnixNano()))
	}

	e.Attrs = make([]slog.Attr, 0, len(scope)+len(lr.GetAttributes())+2)
	e.Attrs = append(e.Attrs, scope...)
	for _, kv := range lr.GetAttributes() {
		if kv.GetKey() == "" {
			continue
		}
		e.Attrs = append(e.Attrs, slog.Attr{Key: kv.GetKey(), Value: anyValue(kv.GetValue())})
	}
	if id := lr.GetTraceId(); len(id) > 0 {
		e.Attrs = append(e.Attrs, slog.String("trace.id", hex.EncodeToString(id)))
	}
	if id := lr.GetSpanId(); len(id) > 0 {
		e.Attrs = append(e.Attrs, slog.String("span.id", hex.EncodeToString(id)))
	}
	if len(resource) > 0 {
		e.Tags = resource
	}
	return e
}

func keyValues(kvs []*commonpb.KeyValue) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if kv.GetKey() == "" {
			continue
		}
		if v := anyValueString(kv.GetValue()); v != "" {
			out[kv.GetKey()] = v
		}
	}
	return out
}

func anyValue(v *commonpb.AnyValue) slog.Value {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return slog.StringValue(x.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return slog.BoolValue(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return slog.Int64Value(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return slog.Float64Value(x.DoubleValue)
	case *commonpb.AnyValue_KvlistValue:
		attrs := make([]slog.Attr, 0, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			attrs = append(attrs, slog.Attr{Key: kv.GetKey(), Value: anyValue(kv.GetValue())})
		}
		return slog.GroupValue(attrs...)
	default:
		return slog.StringValue(anyValueString(v))
	}
}

func anyValueString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case nil:
		return ""
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(x.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(x.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(x.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		parts := make([]string, 0, len(x.ArrayValue.GetValues()))
		for _, item := range x.ArrayValue.GetValues() {
			if s := anyValueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		b, err := protojson.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func sanitize(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}
