package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jardav/internal/errdefs"
)

func TestScheme(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file", Scheme("/libs/x.jar"))
	assert.Equal(t, "file", Scheme("file:///libs/x.jar"))
	assert.Equal(t, "https", Scheme("HTTPS://repo/x.jar"))
	assert.Equal(t, "s3", Scheme("s3://bucket/x.jar"))
}

func TestLocalPath(t *testing.T) {
	t.Parallel()

	p, ok := LocalPath("file:///libs/my%20lib.jar")
	require.True(t, ok)
	assert.Equal(t, "/libs/my lib.jar", p)

	p, ok = LocalPath("/libs/x.jar")
	require.True(t, ok)
	assert.Equal(t, "/libs/x.jar", p)

	_, ok = LocalPath("https://repo/x.jar")
	assert.False(t, ok)
}

func TestResolver_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "x.jar")
	require.NoError(t, os.WriteFile(p, []byte("payload"), 0o644))

	r := NewResolver()
	ctx := context.Background()

	info, err := r.Stat(ctx, "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)

	data, err := r.ReadAll(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = r.ReadAll(ctx, filepath.Join(dir, "missing.jar"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolver_UnknownScheme(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	assert.False(t, r.Handles("ftp://host/x.jar"))

	_, err := r.ReadAll(context.Background(), "ftp://host/x.jar")
	require.ErrorIs(t, err, errdefs.ErrUnsupportedLocation)
}

func TestHTTPSource(t *testing.T) {
	t.Parallel()

	modified := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x.jar" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		w.Header().Set("Content-Length", "5")
		if r.Method == http.MethodGet {
			w.Write([]byte("bytes"))
		}
	}))
	defer srv.Close()

	r := NewResolver()
	r.Register("http", NewHTTPSource(5*time.Second))
	ctx := context.Background()

	info, err := r.Stat(ctx, srv.URL+"/x.jar")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.True(t, info.ModTime.Equal(modified))

	data, err := r.ReadAll(ctx, srv.URL+"/x.jar")
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))

	_, err = r.ReadAll(ctx, srv.URL+"/missing.jar")
	require.Error(t, err)
}

func TestSplitS3(t *testing.T) {
	t.Parallel()

	bucket, key, err := splitS3("s3://libs/org/acme/x.jar")
	require.NoError(t, err)
	assert.Equal(t, "libs", bucket)
	assert.Equal(t, "org/acme/x.jar", key)

	_, _, err = splitS3("s3://libs")
	require.Error(t, err)
}

func TestNewS3Source_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewS3Source(S3Config{})
	require.Error(t, err)

	_, err = NewS3Source(S3Config{Endpoint: "localhost:9000"})
	require.Error(t, err)

	src, err := NewS3Source(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.NotNil(t, src)
}

func TestFileSource_MissingNamesPathOnce(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.jar")
	for name, call := range map[string]func() error{
		"stat": func() error { _, err := FileSource{}.Stat(context.Background(), missing); return err },
		"read": func() error { _, err := FileSource{}.ReadAll(context.Background(), missing); return err },
	} {
		err := call()
		require.Error(t, err, name)
		assert.ErrorIs(t, err, os.ErrNotExist, name)
		assert.Equal(t, 1, strings.Count(err.Error(), missing), name)
	}
}
