package handlers

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"jardav/internal/filesystem"
	"jardav/internal/storage"
	"jardav/pkg/types"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>jardav - {{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            margin: 0;
            padding: 20px;
            background-color: #f4f5f2;
        }
        .container {
            max-width: 1100px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0, 0, 0, 0.08);
        }
        .header {
            background: #2f4858;
            color: white;
            padding: 16px 24px;
            border-radius: 8px 8px 0 0;
        }
        .header h1 { margin: 0; font-size: 20px; font-weight: 600; }
        .breadcrumb { padding: 12px 24px; border-bottom: 1px solid #e6e6e6; }
        .breadcrumb a { color: #1d6fa5; text-decoration: none; }
        table { width: 100%; border-collapse: collapse; }
        td { padding: 10px 24px; border-bottom: 1px solid #f0f0f0; }
        td.size, td.modified { color: #666; font-size: 14px; text-align: right; white-space: nowrap; }
        a.entry { color: #333; text-decoration: none; }
        a.entry.directory { color: #1d6fa5; font-weight: 500; }
        .empty-state { text-align: center; padding: 48px 24px; color: #666; }
        .footer { padding: 14px 24px; text-align: center; color: #888; font-size: 13px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>{{.Title}}</h1></div>
        <div class="breadcrumb">
            {{range .Breadcrumbs}}<a href="{{.URL}}">{{.Name}}</a> / {{end}}
        </div>
        {{if .Items}}
        <table>
            {{range .Items}}
            <tr>
                <td><a class="entry {{if .IsDir}}directory{{end}}" href="{{.Href}}">{{.Name}}{{if .IsDir}}/{{end}}</a></td>
                <td class="size">{{.Size}}</td>
                <td class="modified" title="{{.ModifiedTitle}}">{{.Modified}}</td>
            </tr>
            {{end}}
        </table>
        {{else}}
        <div class="empty-state"><p>This directory is empty.</p></div>
        {{end}}
        <div class="footer">{{.Footer}}</div>
    </div>
</body>
</html>`

// BrowserHandler renders archive directories as HTML.
type BrowserHandler struct {
	fs       *filesystem.ArchiveFS
	store    *storage.PersistentStore
	template *template.Template
	logger   *zap.Logger
	now      func() time.Time
}

func NewBrowserHandler(fs *filesystem.ArchiveFS, store *storage.PersistentStore, logger *zap.Logger) *BrowserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserHandler{
		fs:       fs,
		store:    store,
		template: template.Must(template.New("directory").Parse(htmlTemplate)),
		logger:   logger,
		now:      time.Now,
	}
}

type BreadcrumbItem struct {
	Name string
	URL  string
}

type TemplateData struct {
	Title       string
	Breadcrumbs []BreadcrumbItem
	Items       []TemplateItem
	Footer      string
}

type TemplateItem struct {
	Name          string
	Href          string
	IsDir         bool
	Size          string
	Modified      string
	ModifiedTitle string
}

// ServeHTTP lists directories and serves files inline.
func (h *BrowserHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t, err := resolve(h.store, r.URL.Path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if t.mount == nil {
		h.renderMounts(w)
		return
	}

	st, err := h.fs.Stat(r.Context(), t.addr)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if st.Kind != types.KindDirectory {
		serveEntry(w, r, h.fs, h.logger, t)
		return
	}

	h.renderDirectory(w, r, t, st)
}

func (h *BrowserHandler) renderMounts(w http.ResponseWriter) {
	mounts, err := h.store.GetAllMounts()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	items := make([]TemplateItem, 0, len(mounts))
	for _, m := range mounts {
		items = append(items, TemplateItem{
			Name:  m.ID,
			Href:  davHref(m.ID, "") + "/",
			IsDir: true,
		})
	}

	h.render(w, TemplateData{
		Title:       "Mounts",
		Breadcrumbs: breadcrumbs(target{}),
		Items:       items,
		Footer:      humanize.Comma(int64(len(mounts))) + " mounted archives",
	})
}

func (h *BrowserHandler) renderDirectory(w http.ResponseWriter, r *http.Request, t target, st types.FileStat) {
	children, err := h.fs.ReadDirectory(r.Context(), t.addr)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	items := make([]TemplateItem, 0, len(children))
	for _, child := range children {
		addr := t.addr.Join(child.Name)
		item := TemplateItem{
			Name:  child.Name,
			Href:  davHref(t.mount.ID, addr.Entry),
			IsDir: child.Kind == types.KindDirectory,
		}
		if item.IsDir {
			item.Href += "/"
		}
		if cst, err := h.fs.Stat(r.Context(), addr); err == nil {
			if !item.IsDir {
				item.Size = humanize.IBytes(uint64(cst.Size))
			}
			item.Modified = humanize.RelTime(cst.ModifiedAt, h.now(), "ago", "from now")
			item.ModifiedTitle = cst.ModifiedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	h.render(w, TemplateData{
		Title:       t.mount.ID + "/" + t.addr.Entry,
		Breadcrumbs: breadcrumbs(t),
		Items:       items,
		Footer:      t.mount.URI + " (" + humanize.IBytes(uint64(st.Size)) + ")",
	})
}

func (h *BrowserHandler) render(w http.ResponseWriter, data TemplateData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, data); err != nil {
		h.logger.Error("Failed to render listing", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// breadcrumbs links every ancestor of t, starting at the mount list.
func breadcrumbs(t target) []BreadcrumbItem {
	crumbs := []BreadcrumbItem{{Name: "Mounts", URL: DAVPrefix}}
	if t.mount == nil {
		return crumbs
	}

	crumbs = append(crumbs, BreadcrumbItem{Name: t.mount.ID, URL: davHref(t.mount.ID, "") + "/"})
	if t.addr.IsRoot() {
		return crumbs
	}

	var current string
	for _, part := range strings.Split(strings.Trim(t.addr.Entry, "/"), "/") {
		if part == "" {
			continue
		}
		if current != "" {
			current += "/"
		}
		current += part
		crumbs = append(crumbs, BreadcrumbItem{Name: part, URL: davHref(t.mount.ID, current) + "/"})
	}
	return crumbs
}
