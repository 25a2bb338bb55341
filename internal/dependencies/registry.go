// Package dependencies keeps the set of library archives the language server
// publishes and exposes them as a browsable tree.
package dependencies

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jardav/internal/address"
	"jardav/internal/events"
	"jardav/internal/source"
	"jardav/pkg/types"
)

const (
	// OpenFileCommand is attached to file nodes of the tree.
	OpenFileCommand = "dw.dependency.openFile"
	// RefreshCommand re-reads the tree.
	RefreshCommand = "dw.dependencies.refresh"
	// RefreshAddress is the address refresh events are published under.
	RefreshAddress = "dependencies:"
)

// Definition is one published dependency.
type Definition struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
}

// TreeItem is a node of the dependency tree. Command is empty for nodes
// that only expand.
type TreeItem struct {
	Label       string `json:"label"`
	Address     string `json:"address"`
	Collapsible bool   `json:"collapsible"`
	Command     string `json:"command,omitempty"`
}

// Browser is the part of the archive filesystem the tree walks.
type Browser interface {
	Stat(ctx context.Context, addr address.Address) (types.FileStat, error)
	ReadDirectory(ctx context.Context, addr address.Address) ([]types.DirEntry, error)
}

// Store persists the dependency set as mounts.
type Store interface {
	GetAllMounts() ([]types.Mount, error)
	ReplaceMounts(origin string, mounts []types.Mount) error
}

// Releaser forgets archive locations nothing refers to any more.
type Releaser interface {
	Release(location string)
}

type Registry struct {
	mu       sync.RWMutex
	defs     []Definition
	fs       Browser
	store    Store
	hub      *events.Hub
	releaser Releaser
}

type Option func(*Registry)

// WithReleaser releases the archives of dependencies dropped by Publish.
func WithReleaser(rel Releaser) Option {
	return func(r *Registry) { r.releaser = rel }
}

// NewRegistry builds a registry. store and hub may be nil.
func NewRegistry(fs Browser, store Store, hub *events.Hub, opts ...Option) *Registry {
	r := &Registry{fs: fs, store: store, hub: hub}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load restores the dependency set saved by an earlier Publish.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}

	mounts, err := r.store.GetAllMounts()
	if err != nil {
		return fmt.Errorf("failed to load dependencies: %w", err)
	}

	var defs []Definition
	for _, m := range mounts {
		if m.Origin == types.OriginDependency {
			defs = append(defs, Definition{URI: m.URI, ID: m.ID})
		}
	}

	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	return nil
}

// Publish replaces the dependency set and announces a refresh. Each
// dependency is also mounted under its id. Archives of dropped dependencies
// that no other mount refers to are released.
func (r *Registry) Publish(_ context.Context, defs []Definition) error {
	mounts := make([]types.Mount, 0, len(defs))
	for _, d := range defs {
		loc, err := location(d.URI)
		if err != nil {
			return err
		}
		mounts = append(mounts, types.Mount{ID: d.ID, URI: loc})
	}

	remaining := mounts
	if r.store != nil {
		if err := r.store.ReplaceMounts(types.OriginDependency, mounts); err != nil {
			return fmt.Errorf("failed to persist dependencies: %w", err)
		}
		all, err := r.store.GetAllMounts()
		if err != nil {
			return fmt.Errorf("failed to load mounts: %w", err)
		}
		remaining = all
	}

	r.mu.Lock()
	previous := r.defs
	r.defs = append([]Definition(nil), defs...)
	r.mu.Unlock()

	r.release(previous, remaining)

	if r.hub != nil {
		r.hub.Publish(types.ChangeEvent{Type: types.Changed, Address: RefreshAddress})
	}
	return nil
}

// Definitions returns the current dependency set.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Definition(nil), r.defs...)
}

func (r *Registry) release(previous []Definition, remaining []types.Mount) {
	if r.releaser == nil {
		return
	}
	inUse := make(map[string]bool, len(remaining))
	for _, m := range remaining {
		inUse[m.URI] = true
	}
	for _, d := range previous {
		if !inUse[d.URI] {
			inUse[d.URI] = true
			r.releaser.Release(d.URI)
		}
	}
}

// Roots returns one collapsible node per dependency, addressed at the root
// of its archive.
func (r *Registry) Roots() []TreeItem {
	defs := r.Definitions()
	items := make([]TreeItem, 0, len(defs))
	for _, d := range defs {
		items = append(items, TreeItem{
			Label:       d.ID,
			Address:     rootAddress(d.URI),
			Collapsible: true,
		})
	}
	return items
}

// rootAddress is jar://<path>! for absolute local archives and <uri>! for
// everything else.
func rootAddress(uri string) string {
	if p, ok := source.LocalPath(uri); ok && strings.HasPrefix(p, "/") {
		return address.Scheme + "//" + p + address.Separator
	}
	return address.Address{Location: uri}.String()
}

// Children expands a node. Files have no children.
func (r *Registry) Children(ctx context.Context, item TreeItem) ([]TreeItem, error) {
	addr, err := address.Parse(item.Address)
	if err != nil {
		return nil, err
	}

	st, err := r.fs.Stat(ctx, addr)
	if err != nil {
		return nil, err
	}
	if st.Kind != types.KindDirectory {
		return []TreeItem{}, nil
	}

	list, err := r.fs.ReadDirectory(ctx, addr)
	if err != nil {
		return nil, err
	}

	items := make([]TreeItem, 0, len(list))
	for _, e := range list {
		child := TreeItem{
			Label:   e.Name,
			Address: item.Address + "/" + e.Name,
		}
		if e.Kind == types.KindDirectory {
			child.Collapsible = true
		} else {
			child.Command = OpenFileCommand
		}
		items = append(items, child)
	}
	return items, nil
}

// location turns a dependency uri into an archive location the source
// resolver understands.
func location(uri string) (string, error) {
	if _, err := address.New(uri, ""); err != nil {
		return "", fmt.Errorf("invalid dependency uri: %w", err)
	}
	return uri, nil
}
