package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// DebugClient wraps a Client and dumps every request/response pair to
// <root>/calls/<provider>/ as one JSON file per call.
type DebugClient struct {
	inner Client
	dir   string
	seq   atomic.Uint64
}

// NewDebugClient creates a debugging decorator around inner.
func NewDebugClient(inner Client, root string) *DebugClient {
	return &DebugClient{
		inner: inner,
		dir:   filepath.Join(root, "calls", inner.Provider()),
	}
}

// Provider implements Client.
func (d *DebugClient) Provider() string { return d.inner.Provider() }

// Generate implements Client.
func (d *DebugClient) Generate(ctx context.Context, model string, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := d.inner.Generate(ctx, model, req)
	d.dump(ctx, model, start, req, resp, err)
	return resp, err
}

type debugRecord struct {
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   string    `json:"elapsed"`
	Request   *Request  `json:"request"`
	Response  *Response `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (d *DebugClient) dump(ctx context.Context, model string, start time.Time, req *Request, resp *Response, callErr error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		slog.WarnContext(ctx, "Failed to create debug directory", "dir", d.dir, "error", err)
		return
	}

	rec := debugRecord{
		Model:     model,
		StartedAt: start,
		Elapsed:   time.Since(start).String(),
		Request:   req,
		Response:  resp,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal debug record", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%04d.json", start.Format("20060102_150405"), d.seq.Add(1))
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.WarnContext(ctx, "Failed to write debug file", "file", path, "error", err)
		return
	}
	slog.DebugContext(ctx, "Model call dumped", "file", path)
}
