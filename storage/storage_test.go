package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() types.SavedState {
	return types.SavedState{
		Items: []types.Node{
			{
				ID: 1, Label: "fetch", Type: types.NodeTypeAction1, WorkflowID: "10",
				Position:   types.Point{X: 100, Y: 200},
				Properties: types.Properties{Position: types.Point{X: 100, Y: 200}, Sequence: 1, Extra: map[string]interface{}{"owner": "ops"}},
			},
			{
				ID: 2, Label: "check", Type: types.NodeTypeAction2, Children: []uint64{3},
				Position:   types.Point{X: 350, Y: 200},
				Properties: types.Properties{Position: types.Point{X: 350, Y: 200}},
			},
			{
				ID: 3, Label: "Continue", Type: types.NodeTypeContinue, ParentID: 2,
				Position:   types.Point{X: 550, Y: 100},
				Properties: types.Properties{Position: types.Point{X: 550, Y: 100}},
			},
		},
		Edges:    []types.EdgeRef{{FromID: 1, ToID: 2}, {FromID: 2, ToID: 3}},
		NextID:   4,
		Viewport: &types.ViewportState{Scale: 1.2, OffsetX: -30, OffsetY: 12.5},
	}
}

// testStateStore runs the behaviour every backend must share.
func testStateStore(t *testing.T, store StateStore) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrStateNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrStateNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		want := sampleState()
		require.NoError(t, store.Save(ctx, DefaultStateKey, want))
		got, err := store.Get(ctx, DefaultStateKey)
		require.NoError(t, err)

		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		assert.JSONEq(t, string(wantJSON), string(gotJSON))
		assert.Equal(t, "ops", got.Items[0].Properties.Extra["owner"])
	})

	t.Run("last write wins", func(t *testing.T) {
		state := sampleState()
		state.Items = state.Items[:1]
		state.Edges = nil
		require.NoError(t, store.Save(ctx, DefaultStateKey, state))
		got, err := store.Get(ctx, DefaultStateKey)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
		assert.Empty(t, got.Edges)
	})

	t.Run("keys and delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "board-b", types.SavedState{NextID: 1}))
		if lister, ok := store.(KeyLister); ok {
			keys, err := lister.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"board-b", DefaultStateKey}, keys)
		}
		require.NoError(t, store.Delete(ctx, "board-b"))
		_, err := store.Get(ctx, "board-b")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("invalid key", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, "", types.SavedState{}), ErrInvalidKey)
		assert.ErrorIs(t, store.Save(ctx, "../escape", types.SavedState{}), ErrInvalidKey)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, store.Save(cctx, DefaultStateKey, sampleState()))
		_, err := store.Get(cctx, DefaultStateKey)
		assert.Error(t, err)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, DefaultStateKey, types.SavedState{NextID: uint64(i + 1)}))
			}(i)
		}
		wg.Wait()
		got, err := store.Get(ctx, DefaultStateKey)
		require.NoError(t, err)
		assert.NotZero(t, got.NextID)
	})
}

func TestMemoryStorage(t *testing.T) {
	testStateStore(t, NewMemoryStorage())
}

func TestMemoryStorageIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	state := sampleState()
	require.NoError(t, store.Save(ctx, DefaultStateKey, state))
	state.Items[0].Label = "changed"

	got, err := store.Get(ctx, DefaultStateKey)
	require.NoError(t, err)
	assert.Equal(t, "fetch", got.Items[0].Label)
}

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "states")
	store, err := NewFileStorage(dir)
	require.NoError(t, err)
	testStateStore(t, store)

	// temp files never remain next to the states
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()), e.Name())
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	_, err = store.Get(context.Background(), "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStorage(RedisOptions{
		Addr:         mr.Addr(),
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	})
	require.NoError(t, err)
	defer store.Close()

	testStateStore(t, store)

	raw, err := mr.Get(DefaultRedisPrefix + DefaultStateKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"nextId"`)

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisStorage(RedisOptions{Addr: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

// Postgres runs only against a real server, e.g.
// WFCANVAS_TEST_POSTGRES=postgres://localhost:5432/canvas?sslmode=disable
func TestPostgresStorage(t *testing.T) {
	dsn := os.Getenv("WFCANVAS_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("WFCANVAS_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	store, err := ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.DropSchema(ctx))
	require.NoError(t, store.CreateSchema(ctx))
	defer store.DropSchema(ctx)

	testStateStore(t, store)
}
