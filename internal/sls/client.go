// Package sls is a minimal client for the Log Service PutLogs API.
package sls

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/slsink/internal/model"
)

// PackIDTag is the log-group tag that lets the service correlate requests
// from one producer.
const PackIDTag = "__pack_id__"

const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	// Endpoint is the regional host, for example cn-hangzhou.log.aliyuncs.com.
	// It may carry a scheme and port.
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	SecurityToken   string
	// Project is used when a destination names none.
	Project     string
	UseHTTPS    bool
	Compression Compression
	Timeout     time.Duration
	UserAgent   string
	Topic       string
	Source      string
	// PathStyle sends the project in the x-log-project header instead of
	// the host name.
	PathStyle  bool
	HTTPClient *http.Client
}

// Client sends log groups with PutLogs. It is safe for concurrent use.
type Client struct {
	cfg    Config
	scheme string
	host   string
	ip     bool
	http   *http.Client

	packPrefix string
	packSeq    atomic.Uint64
}

var (
	ErrNoEndpoint   = errors.New("sls: endpoint is required")
	ErrNoCredential = errors.New("sls: access key id and secret are required")
	ErrNoProject    = errors.New("sls: project is required")
	ErrNoLogstore   = errors.New("sls: logstore is required")
)

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, ErrNoCredential
	}
	if _, _, err := compress(cfg.Compression, nil); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "slsink-go/0.1"
	}

	scheme := "http"
	if cfg.UseHTTPS {
		scheme = "https"
	}
	host := cfg.Endpoint
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("sls: parse endpoint: %w", err)
		}
		scheme, host = u.Scheme, u.Host
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return nil, ErrNoEndpoint
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:        cfg,
		scheme:     scheme,
		host:       host,
		ip:         isIPHost(host),
		http:       hc,
		packPrefix: strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16],
	}, nil
}

func isIPHost(hostport string) bool {
	h := hostport
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		h = host
	}
	return net.ParseIP(strings.Trim(h, "[]")) != nil || h == "localhost"
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// NextPackID returns a new pack id of the form PREFIX-SEQ.
func (c *Client) NextPackID() string {
	return fmt.Sprintf("%s-%X", c.packPrefix, c.packSeq.Add(1)-1)
}

// PutLogs sends records as one log group to dest. It implements model.LogShipper.
func (c *Client) PutLogs(ctx context.Context, dest model.Destination, records []model.Record, tags model.TagSet) error {
	project := dest.Project
	if project == "" {
		project = c.cfg.Project
	}
	if project == "" {
		return ErrNoProject
	}
	if dest.Logstore == "" {
		return ErrNoLogstore
	}
	if len(records) == 0 {
		return nil
	}

	group := NewLogGroup(records, tags, c.cfg.Topic, c.cfg.Source)
	group.Tags = append(group.Tags, model.Tag{Key: PackIDTag, Value: c.NextPackID()})
	raw := group.Marshal()

	body, applied, err := compress(c.cfg.Compression, raw)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, project, dest.Logstore, body, len(raw), applied)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sls: put logs to %s/%s: %w", project, dest.Logstore, ctxErr)
		}
		return fmt.Errorf("sls: put logs to %s/%s: %w", project, dest.Logstore, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if readErr != nil && len(respBody) == 0 {
		return fmt.Errorf("sls: put logs to %s/%s: status %d: %w", project, dest.Logstore, resp.StatusCode, readErr)
	}
	return decodeError(resp, respBody)
}

func (c *Client) newRequest(ctx context.Context, project, logstore string, body []byte, rawSize int, comp Compression) (*http.Request, error) {
	path := "/logstores/" + url.PathEscape(logstore) + "/shards/lb"

	host := c.host
	virtualHost := ""
	if !c.cfg.PathStyle {
		if c.ip {
			virtualHost = project + "." + c.host
		} else {
			host = project + "." + c.host
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.scheme+"://"+host+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sls: build request: %w", err)
	}
	if virtualHost != "" {
		req.Host = virtualHost
	}

	sum := md5.Sum(body)
	h := req.Header
	h.Set(HeaderContentType, ContentType)
	h.Set(HeaderContentMD5, strings.ToUpper(hex.EncodeToString(sum[:])))
	h.Set(HeaderDate, time.Now().UTC().Format(http.TimeFormat))
	h.Set(HeaderAPIVersion, APIVersion)
	h.Set(HeaderSignatureMethod, SignatureMethod)
	h.Set(HeaderBodyRawSize, strconv.Itoa(rawSize))
	if comp != CompressNone {
		h.Set(HeaderCompressType, string(comp))
	}
	if c.cfg.PathStyle {
		h.Set(HeaderProject, project)
	}
	if c.cfg.SecurityToken != "" {
		h.Set(HeaderSecurityToken, c.cfg.SecurityToken)
	}
	h.Set("User-Agent", c.cfg.UserAgent)
	req.ContentLength = int64(len(body))

	sig := Signature(c.cfg.AccessKeySecret, StringToSign(http.MethodPost, path, nil, h))
	h.Set(HeaderAuthorization, Authorization(c.cfg.AccessKeyID, sig))
	return req, nil
}
