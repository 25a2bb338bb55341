// Package archive parses zip and jar archives into an indexed, read-only
// table of entries.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"jardav/internal/errdefs"
)

// Entry is one record of an archive. Directory paths end with "/".
type Entry struct {
	Path           string
	IsDir          bool
	Modified       time.Time
	Size           int64 // decompressed length; zero for directories
	CompressedSize int64
	synthetic      bool
}

// Synthetic reports whether the entry was implied by a child path rather
// than stored in the archive.
func (e Entry) Synthetic() bool { return e.synthetic }

// Archive is a fully parsed archive. It is immutable and safe for concurrent
// use.
type Archive struct {
	entries []Entry
	index   map[string]int
	files   map[string]*zip.File
}

// Open parses the whole archive held in data.
func Open(data []byte) (*Archive, error) {
	return OpenReader(bytes.NewReader(data), int64(len(data)))
}

// OpenReader parses the archive readable through r.
func OpenReader(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrArchiveUnreadable, err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())

	a := &Archive{
		entries: make([]Entry, 0, len(zr.File)),
		index:   make(map[string]int, len(zr.File)),
		files:   make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.add(f)
	}
	return a, nil
}

func (a *Archive) add(f *zip.File) {
	name := strings.TrimLeft(f.Name, "/")
	isDir := strings.HasSuffix(name, "/") || f.FileInfo().IsDir()
	if isDir && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	if name == "" || name == "/" {
		return
	}

	a.addParents(name, f.Modified)

	if i, ok := a.index[name]; ok {
		// A stored directory arriving after a child already implied it
		// replaces the synthetic timestamp. Duplicate files keep the first.
		if a.entries[i].synthetic && isDir {
			a.entries[i].Modified = f.Modified
			a.entries[i].synthetic = false
		}
		return
	}

	e := Entry{
		Path:     name,
		IsDir:    isDir,
		Modified: f.Modified,
	}
	if !isDir {
		e.Size = int64(f.UncompressedSize64)
		e.CompressedSize = int64(f.CompressedSize64)
		a.files[name] = f
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, e)
}

func (a *Archive) addParents(name string, modified time.Time) {
	trimmed := strings.TrimSuffix(name, "/")
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '/' {
			continue
		}
		parent := trimmed[:i+1]
		if _, ok := a.index[parent]; ok {
			continue
		}
		a.index[parent] = len(a.entries)
		a.entries = append(a.entries, Entry{
			Path:      parent,
			IsDir:     true,
			Modified:  modified,
			synthetic: true,
		})
	}
}

// Entries returns the entries in archive order, with implied parent
// directories placed ahead of the first entry beneath them. The result is
// not sorted.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries.
func (a *Archive) Len() int { return len(a.entries) }

// Lookup finds an entry by exact path.
func (a *Archive) Lookup(path string) (Entry, bool) {
	i, ok := a.index[path]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// ReadFile decompresses the file stored at path. Directory entries and
// missing paths yield ErrEntryNotFound.
func (a *Archive) ReadFile(path string) ([]byte, error) {
	f, ok := a.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrEntryNotFound, path)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errdefs.ErrArchiveUnreadable, path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", errdefs.ErrArchiveUnreadable, path, err)
	}
	return data, nil
}
