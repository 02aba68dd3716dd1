package xhs

import (
	"compress/gzip"
	"compress/zlib"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Transport tuning for a long-lived API client talking to two fixed origins.
const (
	defaultDialTimeout           = 15 * time.Second
	defaultKeepAliveInterval     = 30 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
)

type transportConfig struct {
	timeout            time.Duration
	proxyURL           *url.URL
	insecureSkipVerify bool
}

// newHTTPClient builds the client used for every API call. Compression is
// negotiated by our own middleware, and redirects are never followed: the
// API returns them only in anomalous states the caller should see.
func newHTTPClient(cfg transportConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.insecureSkipVerify,
			NextProtos:         []string{"h2", "http/1.1"},
		},
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		// The decompression middleware handles gzip, deflate and brotli.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	if cfg.proxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.proxyURL)
	}
	return &http.Client{
		Transport: newDecompressionTransport(transport),
		Timeout:   cfg.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// decompressionTransport wraps a RoundTripper to negotiate and transparently
// undo response compression.
type decompressionTransport struct {
	base http.RoundTripper
}

func newDecompressionTransport(base http.RoundTripper) *decompressionTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressionTransport{base: base}
}

func (t *decompressionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	return resp, nil
}

// closeWrapper closes both the decompression reader and the original body.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
}

func (w *closeWrapper) Close() error {
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func decompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil || resp.Header.Get("Content-Encoding") == "" {
		return nil
	}

	var reader io.ReadCloser
	switch encoding := strings.ToLower(resp.Header.Get("Content-Encoding")); encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("deflate: %w", err)
		}
		reader = zr
	case "br":
		reader = io.NopCloser(brotli.NewReader(resp.Body))
	default:
		return fmt.Errorf("unsupported Content-Encoding: %s", encoding)
	}

	resp.Body = &closeWrapper{ReadCloser: reader, originalBody: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
