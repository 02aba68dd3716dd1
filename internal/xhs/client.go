// Package xhs implements the signed request pipeline for the platform's
// private web API: request execution with outcome classification, the
// endpoint surface, and the comment pagination crawler.
//
// Business failures are values (schemas.Outcome variants), not errors;
// errors are reserved for transport failures and signing-oracle faults, so
// callers can always tell a network problem from a platform rejection.
// Nothing in this package retries.
package xhs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
	"github.com/RockyZHH/MediaCrawler/internal/session"
	"github.com/RockyZHH/MediaCrawler/internal/signer"
)

// Options configures a Client.
type Options struct {
	// APIHost is the fixed origin for all API endpoints.
	APIHost string
	// UploadHost is the separate origin for binary uploads.
	UploadHost string

	Timeout            time.Duration
	ProxyURL           string
	InsecureSkipVerify bool

	// MaxRPS throttles all requests through the client; zero disables it.
	MaxRPS float64
}

// Client executes signed requests against the platform API. It holds no
// retry logic; every call maps to exactly one HTTP request.
//
// The session state is shared with the signer, which installs fresh
// signature headers into it before each signed request. Concurrent signing
// of two requests against the same state is not supported; callers needing
// parallelism must serialize access or hold one client per flight.
type Client struct {
	id         string
	httpc      *http.Client
	apiHost    string
	uploadHost string
	signer     signer.Signer
	state      *session.State
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a Client from options, a signer and session state.
func New(opts Options, sg signer.Signer, st *session.State, logger *zap.Logger) (*Client, error) {
	if opts.APIHost == "" || opts.UploadHost == "" {
		return nil, fmt.Errorf("xhs: api and upload hosts are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	tcfg := transportConfig{
		timeout:            opts.Timeout,
		insecureSkipVerify: opts.InsecureSkipVerify,
	}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("xhs: invalid proxy url: %w", err)
		}
		tcfg.proxyURL = proxyURL
	}

	id := uuid.New().String()
	c := &Client{
		id:         id,
		httpc:      newHTTPClient(tcfg),
		apiHost:    strings.TrimRight(opts.APIHost, "/"),
		uploadHost: strings.TrimRight(opts.UploadHost, "/"),
		signer:     sg,
		state:      st,
		logger:     logger.Named("xhs").With(zap.String("client_id", id)),
	}
	if opts.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return c, nil
}

// Refresh atomically replaces the session's cookie state. Called by the
// owning orchestrator after (re)authentication; the client never initiates a
// refresh itself.
func (c *Client) Refresh(cookies []schemas.Cookie) {
	c.state.Refresh(cookies)
	c.logger.Info("session cookies refreshed", zap.Int("count", len(cookies)))
}

// Execute sends exactly one request to uri on the API origin and classifies
// the response. When signed is true the request carries the full session
// header set with a freshly computed signature covering uri and the
// unserialized payload. Transport failures come back as errors and are never
// classified into an Outcome.
func (c *Client) Execute(ctx context.Context, method, uri string, signed bool, extra http.Header, payload any) (schemas.Outcome, error) {
	header := http.Header{}
	if signed {
		if _, err := c.signer.Sign(ctx, uri, payload); err != nil {
			return schemas.Outcome{}, err
		}
		header = c.state.Snapshot()
	}
	for k, values := range extra {
		for _, v := range values {
			header.Add(k, v)
		}
	}

	var body []byte
	if payload != nil {
		encoded, err := encodeCompact(payload)
		if err != nil {
			return schemas.Outcome{}, fmt.Errorf("xhs: encode payload: %w", err)
		}
		body = encoded
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json;charset=UTF-8")
		}
	}

	return c.do(ctx, method, c.apiHost+uri, header, bytes.NewReader(body), int64(len(body)))
}

// Get encodes params into the path before signing, so the signature covers
// the full effective URL.
func (c *Client) Get(ctx context.Context, uri string, params url.Values) (schemas.Outcome, error) {
	final := uri
	if len(params) > 0 {
		final = uri + "?" + params.Encode()
	}
	return c.Execute(ctx, http.MethodGet, final, true, nil, nil)
}

// Post signs the body before serialization and sends it compactly encoded,
// preserving non-ASCII content exactly.
func (c *Client) Post(ctx context.Context, uri string, payload any) (schemas.Outcome, error) {
	return c.Execute(ctx, http.MethodPost, uri, true, nil, payload)
}

// UploadPut streams a binary body to the upload origin. The request is not
// signed: it authenticates through the single-use permit token alone.
func (c *Client) UploadPut(ctx context.Context, fileID, token, contentType string, body io.Reader, size int64) (schemas.Outcome, error) {
	header := http.Header{}
	header.Set("X-Cos-Security-Token", token)
	header.Set("Content-Type", contentType)
	return c.do(ctx, http.MethodPut, c.uploadHost+"/"+fileID, header, body, size)
}

func (c *Client) do(ctx context.Context, method, fullURL string, header http.Header, body io.Reader, size int64) (schemas.Outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return schemas.Outcome{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return schemas.Outcome{}, fmt.Errorf("xhs: build request: %w", err)
	}
	if header != nil {
		req.Header = header
	}
	if size >= 0 {
		req.ContentLength = size
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return schemas.Outcome{}, fmt.Errorf("xhs: %s %s: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return schemas.Outcome{}, fmt.Errorf("xhs: read response from %s: %w", fullURL, err)
	}

	outcome := classify(resp, payload)
	c.logger.Debug("request complete",
		zap.String("method", method),
		zap.String("url", fullURL),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("outcome", outcome.Kind),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome, nil
}

// classify maps one HTTP response onto exactly one Outcome variant. Empty
// bodies short-circuit before any JSON decoding; undecodable bodies pass
// through unmodified for the caller to interpret.
func classify(resp *http.Response, body []byte) schemas.Outcome {
	raw := schemas.Outcome{
		Kind:      schemas.OutcomeRaw,
		RawStatus: resp.StatusCode,
		RawHeader: resp.Header,
		RawBody:   body,
	}
	if len(body) == 0 {
		return raw
	}

	var env schemas.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return raw
	}

	if env.Success {
		out := schemas.Outcome{Kind: schemas.OutcomeSuccess, Flag: true}
		if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			out.Data = env.Data
		}
		return out
	}
	if env.Code == schemas.IPBlockCode {
		// The message is fixed regardless of what the envelope said.
		return schemas.Outcome{
			Kind:    schemas.OutcomeIPBlocked,
			Code:    env.Code,
			Message: schemas.IPBlockMessage,
		}
	}
	return schemas.Outcome{
		Kind:    schemas.OutcomePlatformError,
		Code:    env.Code,
		Message: env.Msg,
	}
}

// encodeCompact marshals payload without extraneous whitespace and without
// escaping non-ASCII or HTML-significant characters, matching the byte shape
// the signature was computed over.
func encodeCompact(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
