package filesystem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"jardav/internal/address"
	"jardav/internal/archive"
	"jardav/internal/cache"
	"jardav/internal/errdefs"
	"jardav/internal/events"
	"jardav/internal/source"
	"jardav/pkg/types"
)

// MetadataRecorder remembers what an archive looked like when it was parsed.
type MetadataRecorder interface {
	SetArchiveMetadata(metadata *types.ArchiveMetadata) error
}

// Tracker starts and stops watching locations for changes.
type Tracker interface {
	Track(location string) error
	Untrack(location string)
}

// ArchiveFS is a read-only virtual filesystem over the entries of zip and jar
// archives, addressed by composite addresses.
//
// Without a cache every operation re-reads and re-parses the archive, so
// concurrent calls against one archive parse it independently.
type ArchiveFS struct {
	sources  source.Source
	cache    *cache.ArchiveCache
	hub      *events.Hub
	recorder MetadataRecorder
	tracker  Tracker
	logger   *zap.Logger
}

type Option func(*ArchiveFS)

// WithCache keeps parsed archives in c instead of re-parsing on every call.
func WithCache(c *cache.ArchiveCache) Option {
	return func(fs *ArchiveFS) { fs.cache = c }
}

// WithEvents publishes change events on hub and enables Watch.
func WithEvents(hub *events.Hub) Option {
	return func(fs *ArchiveFS) { fs.hub = hub }
}

// WithMetadataRecorder records archive metadata after every parse.
func WithMetadataRecorder(r MetadataRecorder) Option {
	return func(fs *ArchiveFS) { fs.recorder = r }
}

// WithTracker asks t to watch every location that is parsed or passed to
// Watch.
func WithTracker(t Tracker) Option {
	return func(fs *ArchiveFS) { fs.tracker = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(fs *ArchiveFS) { fs.logger = l }
}

func New(src source.Source, opts ...Option) *ArchiveFS {
	fs := &ArchiveFS{
		sources: src,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Stat describes the node at addr. The archive root is always a directory
// carrying the archive's own timestamps and size. Entries report their
// embedded timestamp as both creation and modification time; directories
// report the archive size and files their decompressed length.
func (fs *ArchiveFS) Stat(ctx context.Context, addr address.Address) (types.FileStat, error) {
	loaded, err := fs.load(ctx, addr.Location)
	if err != nil {
		return types.FileStat{}, opError("stat", addr, err)
	}

	if addr.IsRoot() {
		return types.FileStat{
			Kind:       types.KindDirectory,
			CreatedAt:  loaded.Info.ModTime,
			ModifiedAt: loaded.Info.ModTime,
			Size:       loaded.Info.Size,
		}, nil
	}

	entry, ok := lookup(loaded.Archive, addr.Entry)
	if !ok {
		return types.FileStat{}, opError("stat", addr, errdefs.ErrEntryNotFound)
	}

	stat := types.FileStat{
		Kind:       types.KindFile,
		CreatedAt:  entry.Modified,
		ModifiedAt: entry.Modified,
		Size:       entry.Size,
	}
	if entry.IsDir {
		stat.Kind = types.KindDirectory
		stat.Size = loaded.Info.Size
	}
	return stat, nil
}

// lookup tries the path as given, then as a directory.
func lookup(a *archive.Archive, path string) (archive.Entry, bool) {
	if e, ok := a.Lookup(path); ok {
		return e, true
	}
	if strings.HasSuffix(path, "/") {
		return archive.Entry{}, false
	}
	return a.Lookup(path + "/")
}

// ReadDirectory lists the immediate children of the directory at addr. The
// order follows the archive's own entry order and is not sorted.
func (fs *ArchiveFS) ReadDirectory(ctx context.Context, addr address.Address) ([]types.DirEntry, error) {
	loaded, err := fs.load(ctx, addr.Location)
	if err != nil {
		return nil, opError("readdir", addr, err)
	}

	if !addr.IsRoot() {
		entry, ok := lookup(loaded.Archive, addr.Entry)
		if !ok || !entry.IsDir {
			return nil, opError("readdir", addr, errdefs.ErrEntryNotFound)
		}
	}

	scope := addr.Scope()
	var children []types.DirEntry
	for _, entry := range loaded.Archive.Entries() {
		p := "/" + entry.Path
		if !strings.HasPrefix(p, scope) {
			continue
		}

		name := p[len(scope):]
		if entry.IsDir {
			name = strings.TrimSuffix(name, "/")
		}
		if name == "" || strings.Contains(name, "/") {
			continue
		}

		kind := types.KindFile
		if entry.IsDir {
			kind = types.KindDirectory
		}
		children = append(children, types.DirEntry{Name: name, Kind: kind})
	}
	return children, nil
}

// ReadFile returns the decompressed content of the file at addr. Paths that
// only exist as directories are not found.
func (fs *ArchiveFS) ReadFile(ctx context.Context, addr address.Address) ([]byte, error) {
	loaded, err := fs.load(ctx, addr.Location)
	if err != nil {
		return nil, opError("read", addr, err)
	}

	data, err := loaded.Archive.ReadFile(addr.Entry)
	if err != nil {
		return nil, opError("read", addr, err)
	}
	return data, nil
}

// Watch streams change events for the archive addr belongs to.
func (fs *ArchiveFS) Watch(ctx context.Context, addr address.Address) (<-chan []types.ChangeEvent, func(), error) {
	if fs.hub == nil {
		return nil, nil, opError("watch", addr, errdefs.ErrUnsupportedOperation)
	}
	fs.track(addr.Location)
	ch, cancel := fs.hub.Subscribe(ctx, addr.Location+address.Separator)
	return ch, cancel, nil
}

func (fs *ArchiveFS) CreateDirectory(_ context.Context, addr address.Address) error {
	return opError("mkdir", addr, errdefs.ErrUnsupportedOperation)
}

func (fs *ArchiveFS) WriteFile(_ context.Context, addr address.Address, _ []byte) error {
	return opError("write", addr, errdefs.ErrUnsupportedOperation)
}

func (fs *ArchiveFS) Delete(_ context.Context, addr address.Address, _ bool) error {
	return opError("delete", addr, errdefs.ErrUnsupportedOperation)
}

func (fs *ArchiveFS) Rename(_ context.Context, from, _ address.Address, _ bool) error {
	return opError("rename", from, errdefs.ErrUnsupportedOperation)
}

// Invalidate forgets any parsed copy of the archive at location and tells
// watchers it changed.
func (fs *ArchiveFS) Invalidate(location string, change types.ChangeType) {
	if fs.cache != nil {
		fs.cache.Invalidate(location)
	}
	if fs.hub != nil {
		root := address.Address{Location: location}
		fs.hub.Publish(types.ChangeEvent{Type: change, Address: root.String()})
	}
	fs.logger.Debug("Archive invalidated", zap.String("location", location), zap.Stringer("change", change))
}

// Release forgets location once nothing refers to it: the parsed copy is
// dropped and the location is no longer watched. No event is published.
func (fs *ArchiveFS) Release(location string) {
	if fs.cache != nil {
		fs.cache.Invalidate(location)
	}
	if fs.tracker != nil {
		fs.tracker.Untrack(location)
	}
	fs.logger.Debug("Archive released", zap.String("location", location))
}

func (fs *ArchiveFS) load(ctx context.Context, location string) (*cache.Entry, error) {
	if fs.cache == nil {
		return fs.parse(ctx, location)
	}
	return fs.cache.Get(ctx, location, func(ctx context.Context) (*cache.Entry, error) {
		return fs.parse(ctx, location)
	})
}

// parse reads the whole archive and indexes it. Nothing is queried before
// the parse completes.
func (fs *ArchiveFS) parse(ctx context.Context, location string) (*cache.Entry, error) {
	info, err := fs.sources.Stat(ctx, location)
	if err != nil {
		return nil, unreadable(err)
	}
	data, err := fs.sources.ReadAll(ctx, location)
	if err != nil {
		return nil, unreadable(err)
	}
	if info.Size == 0 {
		info.Size = int64(len(data))
	}

	a, err := archive.Open(data)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	fs.logger.Debug("Archive parsed",
		zap.String("location", location),
		zap.Int("entries", a.Len()),
		zap.Int64("size", info.Size))

	if fs.recorder != nil {
		err := fs.recorder.SetArchiveMetadata(&types.ArchiveMetadata{
			Location:     location,
			Size:         info.Size,
			LastModified: info.ModTime,
			EntryCount:   a.Len(),
			ParsedAt:     now,
		})
		if err != nil {
			fs.logger.Warn("Failed to record archive metadata", zap.String("location", location), zap.Error(err))
		}
	}

	fs.track(location)

	return &cache.Entry{Archive: a, Info: info, LoadedAt: now}, nil
}

func (fs *ArchiveFS) track(location string) {
	if fs.tracker == nil {
		return
	}
	if err := fs.tracker.Track(location); err != nil {
		fs.logger.Warn("Failed to track archive", zap.String("location", location), zap.Error(err))
	}
}

// unreadable tags source failures as ErrArchiveUnreadable, leaving
// cancellation and unknown schemes as they are.
func unreadable(err error) error {
	if errors.Is(err, errdefs.ErrUnsupportedLocation) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errdefs.ErrArchiveUnreadable, err)
}

func opError(op string, addr address.Address, err error) error {
	return &errdefs.OpError{Op: op, Address: addr.String(), Err: err}
}
