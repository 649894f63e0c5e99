package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/errorsx"
)

// Mode selects the backend path a request is posted to.
type Mode string

const (
	ModeWindowed Mode = "windowed"
	ModeFinal    Mode = "final"
)

const (
	ContentType     = "application/octet-stream"
	HeaderSessionID = "X-Session-ID"
	HeaderSeq       = "X-Dispatch-Seq"

	healthyBody  = "Ok"
	maxErrorBody = 512
)

// Request is one WAV container addressed to the backend, plus the slice of
// session audio it was built from.
type Request struct {
	SessionID  string
	Seq        int
	Mode       Mode
	Body       []byte
	ChunkStart int
	ChunkEnd   int
	ByteStart  int
	ByteEnd    int
}

// PayloadLen is the number of PCM bytes covered by the request.
func (r Request) PayloadLen() int { return r.ByteEnd - r.ByteStart }

// Response is the backend reply. The body is not interpreted.
type Response struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// StatusError reports a non-2xx backend reply.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client posts WAV containers to the transcription backend.
type Client struct {
	cfg  Config
	base string
	http *http.Client
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

// NewClientWithHTTP uses hc instead of the tuned default transport.
func NewClientWithHTTP(cfg Config, hc *http.Client) *Client {
	c := NewClient(cfg)
	if hc != nil {
		c.http = hc
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) path(mode Mode) string {
	if mode == ModeFinal {
		return c.cfg.SyncPath
	}
	return c.cfg.AsyncPath
}

// Post sends req to the path matching its mode and reads the full reply.
// Deadlines come from ctx.
func (c *Client) Post(ctx context.Context, req Request) (Response, error) {
	path := c.path(req.Mode)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, errorsx.Wrap(err, errorsx.ReasonBackendRequest)
	}
	httpReq.Header.Set("Content-Type", ContentType)
	if req.SessionID != "" {
		httpReq.Header.Set(HeaderSessionID, req.SessionID)
	}
	httpReq.Header.Set(HeaderSeq, strconv.Itoa(req.Seq))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{Elapsed: time.Since(start)}, errorsx.Wrap(err, errorsx.ReasonBackendRequest)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	out := Response{StatusCode: resp.StatusCode, Body: body, Elapsed: time.Since(start)}
	if err != nil {
		return out, errorsx.WrapOp("read "+path+" reply", err, errorsx.ReasonBackendRequest)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, errorsx.Wrap(&StatusError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}, errorsx.ReasonBackendStatus)
	}
	return out, nil
}

// Heartbeat probes the health path. The backend is healthy only when it
// answers 2xx with the literal body "Ok".
func (c *Client) Heartbeat(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.cfg.HealthPath, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendUnhealthy)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendUnhealthy)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return errorsx.WrapOp("read "+c.cfg.HealthPath+" reply", err, errorsx.ReasonBackendUnhealthy)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorsx.Wrap(&StatusError{Path: c.cfg.HealthPath, StatusCode: resp.StatusCode, Body: string(body)}, errorsx.ReasonBackendUnhealthy)
	}
	if string(body) != healthyBody {
		return errorsx.Errorf(errorsx.ReasonBackendUnhealthy, "backend %s: unexpected body %q", c.cfg.HealthPath, string(body))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
