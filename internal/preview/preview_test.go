package preview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jardav/internal/errdefs"
	"jardav/internal/events"
	"jardav/pkg/types"
)

func TestFS_SetContentPublishesChange(t *testing.T) {
	hub := events.NewHub(2)
	defer hub.Close()

	ch, cancel := hub.Subscribe(context.Background(), "preview:")
	defer cancel()

	p := New(hub)
	p.SetContent(`{"hello": "world"}`)

	select {
	case batch := <-ch:
		require.Len(t, batch, 1)
		assert.Equal(t, types.ChangeEvent{Type: types.Changed, Address: URI}, batch[0])
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	data, err := p.ReadFile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"hello": "world"}`, string(data))
}

func TestFS_FailedPreviewShowsError(t *testing.T) {
	p := New(nil)
	p.Show(Result{Success: false, ErrorMessage: "Unable to resolve reference", Logs: []string{"a"}})

	assert.Equal(t, "Unable to resolve reference", p.Content())
	assert.Equal(t, []string{"a"}, p.Last().Logs)
}

func TestFS_StatAndList(t *testing.T) {
	p := New(nil)
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	p.SetContent("some content")

	st, err := p.Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.KindFile, st.Kind)
	assert.Zero(t, st.Size)
	assert.Equal(t, fixed, st.ModifiedAt)

	list, err := p.ReadDirectory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.DirEntry{{Name: FileName, Kind: types.KindFile}}, list)
}

func TestFS_ReadOnly(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	require.ErrorIs(t, p.WriteFile(ctx, []byte("x")), errdefs.ErrUnsupportedOperation)
	require.ErrorIs(t, p.CreateDirectory(ctx), errdefs.ErrUnsupportedOperation)
	require.ErrorIs(t, p.Delete(ctx), errdefs.ErrUnsupportedOperation)
	require.ErrorIs(t, p.Rename(ctx), errdefs.ErrUnsupportedOperation)
}
