// Package preview is a one-file filesystem holding the latest preview
// output pushed by the language server.
package preview

import (
	"context"
	"sync"
	"time"

	"jardav/internal/errdefs"
	"jardav/internal/events"
	"jardav/pkg/types"
)

const (
	// FileName is the only entry of the preview filesystem.
	FileName = "Preview Output"
	// URI addresses the preview document.
	URI = "preview:/" + FileName
)

// Result is the payload of a showPreviewResult notification.
type Result struct {
	URI          string   `json:"uri"`
	Success      bool     `json:"success"`
	Logs         []string `json:"logs"`
	Content      string   `json:"content"`
	MimeType     string   `json:"mimeType"`
	ErrorMessage string   `json:"errorMessage"`
	TimeTaken    int64    `json:"timeTaken"`
	ScenarioURI  string   `json:"scenarioUri"`
}

// FS holds the preview document. Stat always reports the current time and a
// zero size.
type FS struct {
	mu   sync.RWMutex
	last Result
	hub  *events.Hub
	now  func() time.Time
}

func New(hub *events.Hub) *FS {
	return &FS{hub: hub, now: time.Now}
}

// SetContent replaces the preview text and announces the change.
func (p *FS) SetContent(content string) {
	p.Show(Result{Success: true, Content: content})
}

// Show records a full preview result. Failed previews show their error
// message as the document content.
func (p *FS) Show(r Result) {
	if !r.Success && r.Content == "" {
		r.Content = r.ErrorMessage
	}

	p.mu.Lock()
	p.last = r
	p.mu.Unlock()

	if p.hub != nil {
		p.hub.Publish(types.ChangeEvent{Type: types.Changed, Address: URI})
	}
}

// Content returns the current preview text.
func (p *FS) Content() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last.Content
}

// Last returns the most recent preview result.
func (p *FS) Last() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r := p.last
	r.Logs = append([]string(nil), p.last.Logs...)
	return r
}

func (p *FS) Stat(context.Context) (types.FileStat, error) {
	now := p.now()
	return types.FileStat{Kind: types.KindFile, CreatedAt: now, ModifiedAt: now, Size: 0}, nil
}

func (p *FS) ReadDirectory(context.Context) ([]types.DirEntry, error) {
	return []types.DirEntry{{Name: FileName, Kind: types.KindFile}}, nil
}

func (p *FS) ReadFile(context.Context) ([]byte, error) {
	return []byte(p.Content()), nil
}

func (p *FS) WriteFile(context.Context, []byte) error {
	return &errdefs.OpError{Op: "write", Address: URI, Err: errdefs.ErrUnsupportedOperation}
}

func (p *FS) CreateDirectory(context.Context) error {
	return &errdefs.OpError{Op: "mkdir", Address: URI, Err: errdefs.ErrUnsupportedOperation}
}

func (p *FS) Delete(context.Context) error {
	return &errdefs.OpError{Op: "delete", Address: URI, Err: errdefs.ErrUnsupportedOperation}
}

func (p *FS) Rename(context.Context) error {
	return &errdefs.OpError{Op: "rename", Address: URI, Err: errdefs.ErrUnsupportedOperation}
}
