package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/storage"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *source.MemorySource, *storage.MemoryStorage) {
	t.Helper()
	items := source.NewMemorySource(
		types.ExternalItem{ID: "1", Name: "fetch", Page: "orders"},
		types.ExternalItem{ID: "2", Name: "check", ReturnValue: "ok", Page: "orders"},
	)
	store := storage.NewMemoryStorage()
	return New(items, store), items, store
}

func do(t *testing.T, s *Server, method, target string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestItems(t *testing.T) {
	s, items, _ := newTestServer(t)

	resp, body := do(t, s, http.MethodGet, "/items?page=orders&filter="+`returnValue%20%3D%3D%20%22ok%22`, nil)
	require.Equal(t, 200, resp.StatusCode)
	var listed []types.ExternalItem
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "check", listed[0].Name)

	resp, body = do(t, s, http.MethodGet, "/items?filter=name%20%3D%3D", nil)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, string(body), `"error"`)

	resp, body = do(t, s, http.MethodPost, "/items", types.ExternalItem{Name: "ship"})
	require.Equal(t, 201, resp.StatusCode)
	var created types.ExternalItem
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Len(t, created.ID, 36)
	assert.Equal(t, 3, items.Len())

	resp, body = do(t, s, http.MethodGet, "/items/"+created.ID, nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `"ship"`)

	resp, _ = do(t, s, http.MethodPut, "/items/1", types.ExternalItem{Name: "fetch all"})
	require.Equal(t, 200, resp.StatusCode)
	got, err := items.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "fetch all", got.Name)

	resp, _ = do(t, s, http.MethodPatch, "/items/1/position", types.Point{X: 40, Y: 50})
	assert.Equal(t, 204, resp.StatusCode)
	got, _ = items.Get(context.Background(), "1")
	require.NotNil(t, got.Position)
	assert.Equal(t, types.Point{X: 40, Y: 50}, *got.Position)

	resp, _ = do(t, s, http.MethodPatch, "/items/nope/position", types.Point{X: 1, Y: 1})
	assert.Equal(t, 404, resp.StatusCode)

	resp, _ = do(t, s, http.MethodDelete, "/items/"+created.ID, nil)
	assert.Equal(t, 204, resp.StatusCode)
	resp, body = do(t, s, http.MethodGet, "/items/"+created.ID, nil)
	assert.Equal(t, 404, resp.StatusCode)
	assert.JSONEq(t, `{"error":"item not found"}`, string(body))
}

func TestState(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()

	resp, _ := do(t, s, http.MethodGet, "/state/"+storage.DefaultStateKey, nil)
	assert.Equal(t, 404, resp.StatusCode)

	state := types.SavedState{
		Items: []types.Node{
			{ID: 1, Label: "fetch", Type: types.NodeTypeAction1},
			{ID: 2, Label: "check", Type: types.NodeTypeAction1, Position: types.Point{X: 400, Y: 200}},
		},
		Edges:  []types.EdgeRef{{FromID: 1, ToID: 2}, {FromID: 1, ToID: 7}},
		NextID: 3,
	}
	resp, body := do(t, s, http.MethodPut, "/state/"+storage.DefaultStateKey, state)
	require.Equal(t, 200, resp.StatusCode, string(body))
	var repaired types.SavedState
	require.NoError(t, json.Unmarshal(body, &repaired))
	assert.Len(t, repaired.Edges, 1)
	assert.Equal(t, types.Point{X: 100, Y: 200}, repaired.Items[0].Position)

	stored, err := store.Get(ctx, storage.DefaultStateKey)
	require.NoError(t, err)
	assert.Len(t, stored.Edges, 1)

	resp, body = do(t, s, http.MethodGet, "/state/"+storage.DefaultStateKey, nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `"fetch"`)

	dup := types.SavedState{Items: []types.Node{{ID: 1}, {ID: 1}}}
	resp, _ = do(t, s, http.MethodPut, "/state/other", dup)
	assert.Equal(t, 422, resp.StatusCode)

	t.Run("render", func(t *testing.T) {
		resp, body := do(t, s, http.MethodGet, "/state/"+storage.DefaultStateKey+"/render.svg?width=400&height=300", nil)
		require.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
		svg := string(body)
		assert.True(t, strings.HasPrefix(strings.TrimSpace(svg), "<?xml"))
		assert.Contains(t, svg, `width="400"`)
		assert.Contains(t, svg, "fetch")
		assert.Contains(t, svg, " C ")

		resp, body = do(t, s, http.MethodGet, "/state/"+storage.DefaultStateKey+"/render.png?width=64&height=48", nil)
		require.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

		resp, _ = do(t, s, http.MethodGet, "/state/missing/render.svg", nil)
		assert.Equal(t, 404, resp.StatusCode)
	})

	resp, _ = do(t, s, http.MethodDelete, "/state/"+storage.DefaultStateKey, nil)
	assert.Equal(t, 204, resp.StatusCode)
	resp, _ = do(t, s, http.MethodDelete, "/state/"+storage.DefaultStateKey, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHTTPSourceAgainstServer(t *testing.T) {
	s, items, _ := newTestServer(t)
	ts := httptest.NewServer(adaptor.FiberApp(s.App()))
	defer ts.Close()

	ctx := context.Background()
	src := source.NewHTTPSource(ts.URL, 0)
	listed, err := src.List(ctx, source.Filter{Page: "orders"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, src.UpdatePosition(ctx, "2", types.Point{X: 7, Y: 8}))
	got, err := items.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, types.Point{X: 7, Y: 8}, *got.Position)
	assert.ErrorIs(t, src.UpdatePosition(ctx, "zzz", types.Point{X: 1, Y: 1}), source.ErrItemNotFound)
}
