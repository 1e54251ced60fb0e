package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/slsink/internal/ingest"
	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/sls"
	"github.com/tinytelemetry/slsink/internal/slsmock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T, endpoint string) appConfig {
	t.Helper()
	resetForwarderEnv(t)
	cfg, err := loadConfig(writeTempConfig(t, "min-level: info\n"), nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Endpoint = endpoint
	cfg.AccessKeyID = "ak"
	cfg.AccessKeySecret = "sk"
	cfg.Project = "demo"
	cfg.Logstore = "app"
	cfg.Tags = map[string]string{"env": "test"}
	cfg.MaxLinger = 20 * time.Millisecond
	return cfg
}

func fieldMap(l sls.Log) map[string]string {
	m := make(map[string]string, len(l.Contents))
	for _, f := range l.Contents {
		m[f.Key] = f.Value
	}
	return m
}

func tagMap(tags []model.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[tag.Key] = tag.Value
	}
	return m
}

func TestForwarderPipelineShipsParsedLines(t *testing.T) {
	mock := slsmock.NewServer(slsmock.Config{AccessKeyID: "ak", AccessKeySecret: "sk"})
	hs := httptest.NewServer(mock.Handler())
	defer hs.Close()

	cfg := testConfig(t, hs.URL)
	handler, err := newHandler(cfg)
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}

	proc, err := ingest.NewEnvelopeProcessor(cfg.Processor, ingest.HandlerSink{Handler: handler, TagGroup: cfg.TagGroup}, "tcp")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor: %v", err)
	}

	ctx := context.Background()
	proc.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "tcp", Line: `{"level":"warn","msg":"disk low","_app":"api","disk":"sda"}`})
	proc.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "tcp", Line: `{"level":"debug","msg":"noise"}`})
	proc.ProcessEnvelope(ctx, model.IngestEnvelope{Source: "stdin", Line: "plain text line"})

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := handler.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dest := model.Destination{Project: "demo", Logstore: "app"}
	groups := mock.Groups(dest)
	if len(groups) != 2 {
		t.Fatalf("got %d log groups, want 2 (one per tag set)", len(groups))
	}

	first := groups[0].Group
	if tags := tagMap(first.Tags); tags["env"] != "test" || tags["app"] != "api" {
		t.Fatalf("first group tags = %v", tags)
	}
	if len(first.Logs) != 1 {
		t.Fatalf("first group has %d logs, want 1", len(first.Logs))
	}
	fields := fieldMap(first.Logs[0])
	if fields["message"] != "disk low" || fields["level"] != "WARN" {
		t.Fatalf("first log fields = %v", fields)
	}
	if fields["disk"] != "sda" || fields["source"] != "tcp" {
		t.Fatalf("first log attrs = %v", fields)
	}

	second := groups[1].Group
	if tags := tagMap(second.Tags); tags["env"] != "test" || tags["app"] != "" {
		t.Fatalf("second group tags = %v", tags)
	}
	if got := fieldMap(second.Logs[0])["message"]; got != "plain text line" {
		t.Fatalf("second log message = %q", got)
	}

	stats := handler.Stats()
	if stats.Emitted != 2 {
		t.Fatalf("Emitted = %d, want 2 (debug line filtered)", stats.Emitted)
	}
}

func TestForwarderStatsPayload(t *testing.T) {
	mock := slsmock.NewServer(slsmock.Config{})
	hs := httptest.NewServer(mock.Handler())
	defer hs.Close()

	cfg := testConfig(t, hs.URL)
	handler, err := newHandler(cfg)
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}
	defer handler.Close(context.Background())

	src := newFakeSource("stdin", 1)
	mux := NewSourceMultiplexer(context.Background(), []NamedLogSource{src}, 4)
	mux.Start()
	defer mux.Stop()

	proc, err := ingest.NewEnvelopeProcessor("passthrough", ingest.HandlerSink{Handler: handler}, "stdin")
	if err != nil {
		t.Fatalf("NewEnvelopeProcessor: %v", err)
	}
	f := &forwarder{cfg: cfg, handler: handler, processor: proc, mux: mux}

	raw, err := json.Marshal(f.Stats())
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if decoded["processor"] != "passthrough" {
		t.Fatalf("processor = %v", decoded["processor"])
	}
	if _, ok := decoded["sink"]; !ok {
		t.Fatal("stats missing sink section")
	}
	if _, ok := decoded["tcp"]; ok {
		t.Fatal("tcp section present without a tcp input")
	}
}

func TestNewHandlerRejectsMissingCredentials(t *testing.T) {
	cfg := testConfig(t, "cn-hangzhou.log.aliyuncs.com")
	cfg.AccessKeySecret = ""
	if _, err := newHandler(cfg); err == nil {
		t.Fatal("expected credential error")
	}
}
