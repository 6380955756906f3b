package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the caching RoundTripper. Disabled by default; the backend
// REST clients opt in via env so repeated status queries within a session
// don't hammer the Jira/Confluence APIs.
type Config struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

func ConfigFromEnv() Config {
	enabled := strings.TrimSpace(os.Getenv("MCP_ATLAS_HTTP_CACHE_ENABLED"))
	on := enabled == "1" || strings.EqualFold(enabled, "true") || strings.EqualFold(enabled, "yes")

	ttl := 60 * time.Second
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_HTTP_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			ttl = time.Duration(n) * time.Second
		}
	}

	maxEntries := 256
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_HTTP_CACHE_MAX_ENTRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxEntries = n
		}
	}

	return Config{Enabled: on, TTL: ttl, MaxEntries: maxEntries}
}

// Transport caches successful GET responses. Anything else passes through.
type Transport struct {
	base http.RoundTripper
	c    *Cache
}

func NewTransport(base http.RoundTripper, cfg Config) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !cfg.Enabled {
		return base
	}
	return &Transport{base: base, c: New(cfg.TTL, cfg.MaxEntries)}
}

func NewTransportFromEnv(base http.RoundTripper) http.RoundTripper {
	return NewTransport(base, ConfigFromEnv())
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("httpcache: nil request")
	}
	if !strings.EqualFold(req.Method, http.MethodGet) {
		return t.base.RoundTrip(req)
	}

	// The Authorization header is part of the key so responses never leak
	// across credentials.
	key := req.URL.String() + " " + fingerprint(req.Header.Get("Authorization"))

	now := time.Now()
	if ent, ok := t.c.get(key, now); ok {
		return cachedResponse(req, ent), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.c.put(key, resp.StatusCode, resp.Header, b, now)
	}
	return &http.Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        cloneHeader(resp.Header),
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: int64(len(b)),
		Request:       req,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
	}, nil
}

func cachedResponse(req *http.Request, ent entry) *http.Response {
	status := ent.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        cloneHeader(ent.header),
		Body:          io.NopCloser(bytes.NewReader(ent.body)),
		ContentLength: int64(len(ent.body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

func fingerprint(auth string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(auth)))
	return hex.EncodeToString(sum[:8])
}
