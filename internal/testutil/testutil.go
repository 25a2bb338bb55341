// Package testutil builds archive fixtures for tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// FixtureTime is the modification time stamped on every fixture entry.
var FixtureTime = time.Date(2024, time.March, 7, 10, 30, 0, 0, time.UTC)

// File describes one fixture entry. Names ending in "/" become directories.
type File struct {
	Name   string
	Body   string
	Method uint16
}

// SampleFiles is the a/, a/b.txt, c.txt layout most tests start from.
func SampleFiles() []File {
	return []File{
		{Name: "a/"},
		{Name: "a/b.txt", Body: "hello from b", Method: zip.Deflate},
		{Name: "c.txt", Body: "contents of c, long enough to be worth compressing " +
			"contents of c, long enough to be worth compressing", Method: zip.Deflate},
	}
}

// BuildZip returns the bytes of a zip archive holding files in order.
func BuildZip(tb testing.TB, files []File) []byte {
	tb.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   f.Method,
			Modified: FixtureTime,
		}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			tb.Fatalf("create %s: %v", f.Name, err)
		}
		if f.Body != "" {
			if _, err := fw.Write([]byte(f.Body)); err != nil {
				tb.Fatalf("write %s: %v", f.Name, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a fixture archive called name under dir and returns its
// path.
func WriteZip(tb testing.TB, dir, name string, files []File) string {
	tb.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, BuildZip(tb, files), 0o644); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return p
}
