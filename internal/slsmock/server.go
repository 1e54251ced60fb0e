// Package slsmock is an in-memory PutLogs endpoint for tests and local runs.
package slsmock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/slsink/internal/model"
	"github.com/tinytelemetry/slsink/internal/sls"
)

// Config configures the mock server.
type Config struct {
	Addr            string
	AccessKeyID     string
	AccessKeySecret string
	// Latency delays every PutLogs response.
	Latency time.Duration
}

// Received is one accepted PutLogs request.
type Received struct {
	Destination model.Destination
	Group       *sls.LogGroup
	RequestID   string
	ReceivedAt  time.Time
}

type failure struct {
	status int
	code   string
}

// Server stores every accepted log group per destination.
type Server struct {
	cfg    Config
	engine *gin.Engine
	server *http.Server
	ln     net.Listener

	mu       sync.Mutex
	groups   map[model.Destination][]Received
	failures []failure

	requests  atomic.Int64
	rejected  atomic.Int64
	reqSeq    atomic.Uint64
	startTime time.Time
}

// NewServer builds the mock server and its routes. Start listens on cfg.Addr;
// tests can use Handler directly with httptest.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := &Server{
		cfg:       cfg,
		groups:    make(map[model.Destination][]Received),
		startTime: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/logstores/:logstore/shards/lb", s.handlePutLogs)
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/logstores/:logstore/groups", s.handleGroups)
	s.engine = r
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving on cfg.Addr.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.server.Serve(ln)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// FailNext makes the next n PutLogs requests fail with status and error code.
func (s *Server) FailNext(n int, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures = append(s.failures, failure{status: status, code: code})
	}
}

// Groups returns the log groups accepted for dest, in arrival order.
func (s *Server) Groups(dest model.Destination) []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.groups[dest]...)
}

// Logs returns every log accepted for dest, in arrival order.
func (s *Server) Logs(dest model.Destination) []sls.Log {
	var out []sls.Log
	for _, g := range s.Groups(dest) {
		out = append(out, g.Group.Logs...)
	}
	return out
}

// Destinations lists every destination that received data.
func (s *Server) Destinations() []model.Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Destination, 0, len(s.groups))
	for d := range s.groups {
		out = append(out, d)
	}
	return out
}

// Requests returns the number of PutLogs calls, accepted or not.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Rejected returns the number of PutLogs calls answered with an error.
func (s *Server) Rejected() int64 { return s.rejected.Load() }

// Reset discards stored groups and scripted failures.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make(map[model.Destination][]Received)
	s.failures = nil
}

func (s *Server) fail(c *gin.Context, status int, code, format string, args ...any) {
	s.rejected.Add(1)
	c.Header(sls.HeaderRequestID, c.GetString("requestID"))
	c.JSON(status, gin.H{"errorCode": code, "errorMessage": fmt.Sprintf(format, args...)})
}

// projectOf reads the project from the x-log-project header, falling back to
// the first label of the virtual host.
func projectOf(r *http.Request) string {
	if p := r.Header.Get(sls.HeaderProject); p != "" {
		return p
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	project, rest, ok := strings.Cut(host, ".")
	if !ok || rest == "" {
		return ""
	}
	return project
}

func (s *Server) handlePutLogs(c *gin.Context) {
	s.requests.Add(1)
	reqID := fmt.Sprintf("%016X", s.reqSeq.Add(1))
	c.Set("requestID", reqID)

	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-c.Request.Context().Done():
			return
		}
	}

	s.mu.Lock()
	var scripted *failure
	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		scripted = &f
	}
	s.mu.Unlock()
	if scripted != nil {
		s.fail(c, scripted.status, scripted.code, "scripted failure")
		return
	}

	r := c.Request
	for _, h := range []string{sls.HeaderAPIVersion, sls.HeaderSignatureMethod, sls.HeaderBodyRawSize, sls.HeaderDate, sls.HeaderContentMD5, sls.HeaderAuthorization} {
		if r.Header.Get(h) == "" {
			s.fail(c, http.StatusBadRequest, sls.CodeMissingHeader, "missing header %s", h)
			return
		}
	}
	if ct := r.Header.Get(sls.HeaderContentType); ct != sls.ContentType {
		s.fail(c, http.StatusBadRequest, sls.CodeInvalidContentType, "content type %q", ct)
		return
	}

	project := projectOf(r)
	if project == "" {
		s.fail(c, http.StatusNotFound, sls.CodeProjectNotExist, "no project in request")
		return
	}
	if s.cfg.AccessKeyID != "" && !sls.VerifySignature(r, s.cfg.AccessKeyID, s.cfg.AccessKeySecret) {
		s.fail(c, http.StatusUnauthorized, sls.CodeSignatureNotMatch, "signature mismatch")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, sls.CodePostBodyInvalid, "read body: %v", err)
		return
	}
	sum := md5.Sum(body)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), r.Header.Get(sls.HeaderContentMD5)) {
		s.fail(c, http.StatusBadRequest, sls.CodePostBodyInvalid, "content md5 mismatch")
		return
	}

	rawSize, err := strconv.Atoi(r.Header.Get(sls.HeaderBodyRawSize))
	if err != nil {
		s.fail(c, http.StatusBadRequest, sls.CodePostBodyInvalid, "bad raw size: %v", err)
		return
	}
	comp, err := sls.ParseCompression(r.Header.Get(sls.HeaderCompressType))
	if err != nil {
		s.fail(c, http.StatusBadRequest, sls.CodeInvalidCompress, "%v", err)
		return
	}
	raw, err := sls.Decompress(comp, body, rawSize)
	if err != nil {
		s.fail(c, http.StatusBadRequest, sls.CodePostBodyInvalid, "%v", err)
		return
	}
	group, err := sls.DecodeLogGroup(raw)
	if err != nil {
		s.fail(c, http.StatusBadRequest, sls.CodePostBodyInvalid, "decode log group: %v", err)
		return
	}

	dest := model.Destination{Project: project, Logstore: c.Param("logstore")}
	s.mu.Lock()
	s.groups[dest] = append(s.groups[dest], Received{
		Destination: dest,
		Group:       group,
		RequestID:   reqID,
		ReceivedAt:  time.Now(),
	})
	s.mu.Unlock()

	c.Header(sls.HeaderRequestID, reqID)
	c.Status(http.StatusOK)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	groups, logs := 0, 0
	for _, rs := range s.groups {
		groups += len(rs)
		for _, r := range rs {
			logs += len(r.Group.Logs)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"requests": s.requests.Load(),
		"rejected": s.rejected.Load(),
		"groups":   groups,
		"logs":     logs,
	})
}

type groupView struct {
	RequestID  string            `json:"request_id"`
	ReceivedAt time.Time         `json:"received_at"`
	Topic      string            `json:"topic,omitempty"`
	Source     string            `json:"source,omitempty"`
	Tags       map[string]string `json:"tags"`
	Logs       []logView         `json:"logs"`
}

type logView struct {
	Time     time.Time         `json:"time"`
	Contents map[string]string `json:"contents"`
}

func (s *Server) handleGroups(c *gin.Context) {
	project := c.Query("project")
	logstore := c.Param("logstore")

	s.mu.Lock()
	var matched []Received
	for dest, rs := range s.groups {
		if dest.Logstore != logstore || (project != "" && dest.Project != project) {
			continue
		}
		matched = append(matched, rs...)
	}
	s.mu.Unlock()

	views := make([]groupView, 0, len(matched))
	for _, r := range matched {
		v := groupView{
			RequestID:  r.RequestID,
			ReceivedAt: r.ReceivedAt,
			Topic:      r.Group.Topic,
			Source:     r.Group.Source,
			Tags:       make(map[string]string, len(r.Group.Tags)),
			Logs:       make([]logView, 0, len(r.Group.Logs)),
		}
		for _, t := range r.Group.Tags {
			v.Tags[t.Key] = t.Value
		}
		for _, l := range r.Group.Logs {
			lv := logView{Time: l.Time, Contents: make(map[string]string, len(l.Contents))}
			for _, f := range l.Contents {
				lv.Contents[f.Key] = f.Value
			}
			v.Logs = append(v.Logs, lv)
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"logstore":    logstore,
		"group_count": len(views),
		"groups":      views,
	})
}
