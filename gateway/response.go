package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxCachedBodySize bounds what a single cache entry may hold.
const maxCachedBodySize = 10 << 20 // 10MB

// CachedResponse is the stored form of an upstream response: status,
// headers, and body bytes, plus when it was stored.
type CachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// stitchedBody rejoins an already-read prefix with the rest of the
// original stream while keeping the original closer.
type stitchedBody struct {
	io.Reader
	io.Closer
}

// CaptureResponse drains an *http.Response into a CachedResponse and
// replaces the response body so the caller can still read it. A body
// larger than maxCachedBodySize is never captured: the read prefix is
// stitched back onto the original stream and a nil entry is returned,
// so the caller serves the full body uncached.
func CaptureResponse(resp *http.Response) (*CachedResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBodySize+1))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxCachedBodySize {
		resp.Body = stitchedBody{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return nil, nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Response materializes the cached entry as an *http.Response for req.
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    c.Status,
		Status:        http.StatusText(c.Status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// IsJSON reports whether the cached response carries a JSON body.
func (c *CachedResponse) IsJSON() bool {
	return strings.Contains(c.Header.Get("Content-Type"), "application/json")
}

func encodeResponse(c *CachedResponse) ([]byte, error) {
	return json.Marshal(c)
}

func decodeResponse(raw []byte) (*CachedResponse, error) {
	var c CachedResponse
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &c, nil
}
