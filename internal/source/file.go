package source

import (
	"context"
	"os"
)

// FileSource reads archives from the local filesystem. Errors are the
// *os.PathError values from the os package, which already name the path.
type FileSource struct{}

func (FileSource) Stat(ctx context.Context, location string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	path, _ := LocalPath(location)
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (FileSource) ReadAll(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, _ := LocalPath(location)
	data, err := os.ReadFile(path) //nolint:gosec // archive locations are user supplied
	if err != nil {
		return nil, err
	}
	return data, nil
}
