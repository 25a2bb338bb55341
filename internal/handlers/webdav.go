package handlers

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"jardav/internal/errdefs"
	"jardav/internal/filesystem"
	"jardav/internal/storage"
	"jardav/internal/webdav"
	"jardav/pkg/types"
)

// maxPropFindBody bounds the PROPFIND request bodies read.
const maxPropFindBody = 1 << 20

type WebDAVHandler struct {
	fs     *filesystem.ArchiveFS
	store  *storage.PersistentStore
	logger *zap.Logger
}

func NewWebDAVHandler(fs *filesystem.ArchiveFS, store *storage.PersistentStore, logger *zap.Logger) *WebDAVHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebDAVHandler{
		fs:     fs,
		store:  store,
		logger: logger,
	}
}

func (h *WebDAVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(w, r)
	case "PROPFIND":
		h.handlePropFind(w, r)
	case http.MethodGet, http.MethodHead:
		h.handleGetHead(w, r)
	case http.MethodPut, http.MethodDelete, "MKCOL", "MOVE", "COPY", "PROPPATCH", "LOCK", "UNLOCK":
		h.handleMutation(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *WebDAVHandler) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "OPTIONS, PROPFIND, GET, HEAD")
	w.Header().Set("DAV", "1")
	w.Header().Set("MS-Author-Via", "DAV")
	w.WriteHeader(http.StatusOK)
}

func (h *WebDAVHandler) handlePropFind(w http.ResponseWriter, r *http.Request) {
	if err := readPropFind(r); err != nil {
		http.Error(w, "Malformed PROPFIND body", http.StatusBadRequest)
		return
	}

	t, err := resolve(h.store, r.URL.Path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	depth := r.Header.Get("Depth")
	if depth == "" || depth == "infinity" {
		depth = "1"
	}

	var responses []webdav.Response
	if t.mount == nil {
		responses, err = h.mountResponses(depth)
	} else {
		responses, err = h.entryResponses(r, t, depth)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	data, err := webdav.Marshal(webdav.Multistatus{Responses: responses})
	if err != nil {
		h.logger.Error("Failed to marshal multistatus", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(data)
}

// readPropFind checks that a PROPFIND body, when present, is a propfind
// document.
func readPropFind(r *http.Request) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPropFindBody))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var pf webdav.PropFind
	return xml.Unmarshal(body, &pf)
}

func (h *WebDAVHandler) mountResponses(depth string) ([]webdav.Response, error) {
	responses := []webdav.Response{webdav.NewCollection(DAVPrefix, "Mounts")}
	if depth == "0" {
		return responses, nil
	}

	mounts, err := h.store.GetAllMounts()
	if err != nil {
		return nil, err
	}
	for _, m := range mounts {
		responses = append(responses, webdav.NewCollection(davHref(m.ID, ""), m.ID))
	}
	return responses, nil
}

func (h *WebDAVHandler) entryResponses(r *http.Request, t target, depth string) ([]webdav.Response, error) {
	ctx := r.Context()

	st, err := h.fs.Stat(ctx, t.addr)
	if err != nil {
		return nil, err
	}
	responses := []webdav.Response{
		webdav.NewResponse(davHref(t.mount.ID, t.addr.Entry), t.name(), t.addr.String(), st),
	}
	if depth == "0" || st.Kind != types.KindDirectory {
		return responses, nil
	}

	children, err := h.fs.ReadDirectory(ctx, t.addr)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		addr := t.addr.Join(child.Name)
		cst, err := h.fs.Stat(ctx, addr)
		if err != nil {
			return nil, err
		}
		responses = append(responses,
			webdav.NewResponse(davHref(t.mount.ID, addr.Entry), child.Name, addr.String(), cst))
	}
	return responses, nil
}

func (h *WebDAVHandler) handleGetHead(w http.ResponseWriter, r *http.Request) {
	t, err := resolve(h.store, r.URL.Path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if t.mount == nil {
		http.Error(w, "Cannot GET directory", http.StatusBadRequest)
		return
	}
	serveEntry(w, r, h.fs, h.logger, t)
}

// serveEntry writes the content of a file entry, honoring conditional and
// range requests.
func serveEntry(w http.ResponseWriter, r *http.Request, fs *filesystem.ArchiveFS, logger *zap.Logger, t target) {
	ctx := r.Context()

	st, err := fs.Stat(ctx, t.addr)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	if st.Kind == types.KindDirectory {
		http.Error(w, "Cannot GET directory", http.StatusBadRequest)
		return
	}

	data, err := fs.ReadFile(ctx, t.addr)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	name := t.name()
	w.Header().Set("Content-Type", webdav.ContentType(name))
	w.Header().Set("ETag", webdav.GenerateETag(t.addr.String(), st.ModifiedAt, st.Size))
	w.Header().Set("X-Archive-Entry-Size", strconv.FormatInt(st.Size, 10))
	http.ServeContent(w, r, name, st.ModifiedAt, bytes.NewReader(data))
}

// handleMutation runs the matching filesystem operation so that the answer
// comes from the filesystem itself. Paths outside any mount are refused the
// same way.
func (h *WebDAVHandler) handleMutation(w http.ResponseWriter, r *http.Request) {
	t, err := resolve(h.store, r.URL.Path)
	if err != nil || t.mount == nil {
		writeError(w, h.logger, &errdefs.OpError{Op: r.Method, Address: r.URL.Path, Err: errdefs.ErrUnsupportedOperation})
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		err = h.fs.WriteFile(ctx, t.addr, nil)
	case http.MethodDelete:
		err = h.fs.Delete(ctx, t.addr, true)
	case "MKCOL":
		err = h.fs.CreateDirectory(ctx, t.addr)
	case "MOVE", "COPY":
		to := t.addr
		if dest, derr := destination(h.store, r); derr == nil && dest.mount != nil {
			to = dest.addr
		}
		err = h.fs.Rename(ctx, t.addr, to, r.Header.Get("Overwrite") != "F")
	default:
		err = &errdefs.OpError{Op: r.Method, Address: t.addr.String(), Err: errdefs.ErrUnsupportedOperation}
	}
	writeError(w, h.logger, err)
}

// destination resolves the Destination header of MOVE and COPY, which may
// be a full URL or a path.
func destination(store *storage.PersistentStore, r *http.Request) (target, error) {
	u, err := url.Parse(r.Header.Get("Destination"))
	if err != nil {
		return target{}, err
	}
	return resolve(store, u.Path)
}
