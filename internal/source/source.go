// Package source resolves archive locations to the bytes behind them.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"jardav/internal/errdefs"
)

// Info describes the backing object of an archive location.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Source reads archive bytes for the locations it handles.
type Source interface {
	Stat(ctx context.Context, location string) (Info, error)
	ReadAll(ctx context.Context, location string) ([]byte, error)
}

// Resolver dispatches locations to a Source by URI scheme. Locations without
// a scheme are local paths.
type Resolver struct {
	schemes map[string]Source
}

// NewResolver returns a resolver that serves local paths and file:// URIs.
func NewResolver() *Resolver {
	r := &Resolver{schemes: make(map[string]Source)}
	r.Register("file", FileSource{})
	return r
}

// Register makes src handle scheme, replacing any previous handler.
func (r *Resolver) Register(scheme string, src Source) {
	r.schemes[strings.ToLower(scheme)] = src
}

// Handles reports whether some source is registered for the location.
func (r *Resolver) Handles(location string) bool {
	_, err := r.lookup(location)
	return err == nil
}

func (r *Resolver) lookup(location string) (Source, error) {
	scheme := Scheme(location)
	src, ok := r.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no source for scheme %q", errdefs.ErrUnsupportedLocation, scheme)
	}
	return src, nil
}

func (r *Resolver) Stat(ctx context.Context, location string) (Info, error) {
	src, err := r.lookup(location)
	if err != nil {
		return Info{}, err
	}
	return src.Stat(ctx, location)
}

func (r *Resolver) ReadAll(ctx context.Context, location string) ([]byte, error) {
	src, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	return src.ReadAll(ctx, location)
}

// Scheme returns the lowercased URI scheme of location, "file" for bare
// paths.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "file"
	}
	return strings.ToLower(location[:i])
}

// LocalPath returns the filesystem path of a local location. ok is false for
// remote schemes.
func LocalPath(location string) (string, bool) {
	if Scheme(location) != "file" {
		return "", false
	}
	if !strings.HasPrefix(location, "file://") {
		return location, true
	}
	u, err := url.Parse(location)
	if err != nil {
		return strings.TrimPrefix(location, "file://"), true
	}
	return u.Path, true
}

var _ Source = (*Resolver)(nil)
