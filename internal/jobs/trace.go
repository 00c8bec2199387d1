package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/klauspost/compress/zip"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

const traceFormatVersion = 1

// traceDocument is written as trace.json at the root of the bundle
type traceDocument struct {
	Version     int                `json:"version"`
	JobID       string             `json:"jobId"`
	BrowserType models.BrowserType `json:"browserType"`
	DeviceType  models.DeviceType  `json:"deviceType"`
	Viewport    models.Viewport    `json:"viewport"`
	UserAgent   string             `json:"userAgent"`
	StartedAt   time.Time          `json:"startedAt"`
	Steps       []traceEntry       `json:"steps"`
}

type traceEntry struct {
	Index      int    `json:"index"`
	Type       string `json:"type"`
	Action     string `json:"action"`
	Offset     int64  `json:"offset"` // Milliseconds since trace start
	Duration   int64  `json:"duration"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Screenshot string `json:"screenshot,omitempty"` // Bundle-relative resource
	Snapshot   string `json:"snapshot,omitempty"`
}

// traceRecorder captures a viewport screenshot and DOM snapshot after every
// step and packs them into a zip bundle. Capture failures leave gaps.
type traceRecorder struct {
	doc   traceDocument
	files map[string][]byte
	order []string
}

func newTraceRecorder(job *models.Job, profile models.DeviceProfile, started time.Time) *traceRecorder {
	return &traceRecorder{
		doc: traceDocument{
			Version:     traceFormatVersion,
			JobID:       job.ID,
			BrowserType: job.Config.BrowserType,
			DeviceType:  job.Config.DeviceType,
			Viewport:    profile.Viewport,
			UserAgent:   profile.UserAgent,
			StartedAt:   started.UTC(),
			Steps:       []traceEntry{},
		},
		files: map[string][]byte{},
	}
}

// record appends one step and captures the page state it left behind
func (r *traceRecorder) record(ctx context.Context, session interfaces.BrowserSession, actionType models.ActionType, step models.TraceStep) {
	index := len(r.doc.Steps) + 1
	entry := traceEntry{
		Index:    index,
		Type:     string(actionType),
		Action:   step.Action,
		Offset:   step.Timestamp.Sub(r.doc.StartedAt).Milliseconds(),
		Duration: step.Duration,
		Success:  step.Success,
		Error:    step.Error,
	}

	if url, err := session.URL(ctx); err == nil {
		entry.URL = url
	}
	if png, err := session.Screenshot(ctx, false); err == nil {
		entry.Screenshot = fmt.Sprintf("resources/step-%03d.png", index)
		r.add(entry.Screenshot, png)
	}
	if html, err := session.Snapshot(ctx); err == nil {
		static, title := staticSnapshot(html)
		entry.Title = title
		entry.Snapshot = fmt.Sprintf("snapshots/step-%03d.html", index)
		r.add(entry.Snapshot, []byte(static))
	}

	r.doc.Steps = append(r.doc.Steps, entry)
}

// staticSnapshot drops script elements so a stored snapshot renders inert.
// It also returns the page title. Unparseable input is returned unchanged.
func staticSnapshot(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, ""
	}

	doc.Find("script").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())

	out, err := doc.Html()
	if err != nil {
		return html, title
	}
	return out, title
}

func (r *traceRecorder) add(name string, data []byte) {
	if _, exists := r.files[name]; !exists {
		r.order = append(r.order, name)
	}
	r.files[name] = data
}

// bundle returns the zip archive of everything recorded
func (r *traceRecorder) bundle() ([]byte, error) {
	manifest, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal trace manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeZipEntry(zw, "trace.json", manifest, zip.Deflate); err != nil {
		return nil, err
	}
	for _, name := range r.order {
		method := zip.Deflate
		if strings.HasSuffix(name, ".png") {
			method = zip.Store
		}
		if err := writeZipEntry(zw, name, r.files[name], method); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close trace bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte, method uint16) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("add %s to trace bundle: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s to trace bundle: %w", name, err)
	}
	return nil
}
