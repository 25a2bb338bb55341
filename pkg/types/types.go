package types

import (
	"fmt"
	"time"
)

// FileKind tells files and directories apart.
type FileKind int

const (
	KindFile FileKind = iota + 1
	KindDirectory
)

func (k FileKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// MarshalText lets kinds travel as "file" / "directory" in JSON.
func (k FileKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FileKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*k = KindFile
	case "directory":
		*k = KindDirectory
	default:
		return fmt.Errorf("unknown file kind %q", text)
	}
	return nil
}

// FileStat is the result of a stat call on a virtual filesystem.
type FileStat struct {
	Kind       FileKind  `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// DirEntry is one immediate child of a directory.
type DirEntry struct {
	Name string   `json:"name"`
	Kind FileKind `json:"kind"`
}

// Mount origins.
const (
	OriginAPI        = "api"
	OriginDependency = "dependency"
)

// Mount publishes an archive under a short id. URI is the archive location.
type Mount struct {
	ID     string `json:"id"`
	URI    string `json:"uri"`
	Origin string `json:"origin,omitempty"`
}

// ArchiveMetadata is what the store remembers about an archive it has
// parsed.
type ArchiveMetadata struct {
	Location     string    `json:"location"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	EntryCount   int       `json:"entry_count"`
	ParsedAt     time.Time `json:"parsed_at"`
}

// ChangeType classifies a change event.
type ChangeType int

const (
	Changed ChangeType = iota + 1
	Created
	Deleted
)

func (c ChangeType) String() string {
	switch c {
	case Changed:
		return "changed"
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (c ChangeType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChangeType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "changed":
		*c = Changed
	case "created":
		*c = Created
	case "deleted":
		*c = Deleted
	default:
		return fmt.Errorf("unknown change type %q", text)
	}
	return nil
}

// ChangeEvent reports that the resource at Address changed.
type ChangeEvent struct {
	Type    ChangeType `json:"type"`
	Address string     `json:"address"`
}
