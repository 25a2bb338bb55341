package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"jardav/internal/address"
	"jardav/internal/errdefs"
	"jardav/internal/storage"
	"jardav/pkg/types"
)

// DAVPrefix is where mounts are served.
const DAVPrefix = "/dav/"

// target is a request path resolved against the mounts. A nil mount means
// the collection of all mounts.
type target struct {
	mount *types.Mount
	addr  address.Address
}

func (t target) name() string {
	if t.mount == nil {
		return "Mounts"
	}
	if t.addr.IsRoot() {
		return t.mount.ID
	}
	return t.addr.Name()
}

// resolve maps /dav/<mount>/<entry> onto the composite address
// <mount uri>!<entry>.
func resolve(store *storage.PersistentStore, requestPath string) (target, error) {
	p := path.Clean("/" + strings.TrimPrefix(requestPath, "/"))
	p = strings.TrimPrefix(p, strings.TrimSuffix(DAVPrefix, "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return target{}, nil
	}

	id, entry, _ := strings.Cut(p, "/")
	mount, err := store.GetMount(id)
	if err != nil {
		return target{}, err
	}
	if mount == nil {
		return target{}, fmt.Errorf("mount %q: %w", id, errdefs.ErrEntryNotFound)
	}

	addr, err := address.New(mount.URI, entry)
	if err != nil {
		return target{}, err
	}
	return target{mount: mount, addr: addr}, nil
}

// davHref is the escaped request path of an entry of a mount.
func davHref(mountID, entry string) string {
	p := DAVPrefix + mountID
	if entry != "" {
		p += "/" + entry
	}
	return (&url.URL{Path: p}).EscapedPath()
}

// writeError answers with the status the error maps to. Server-side
// failures are logged.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
