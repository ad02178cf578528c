package registry

import (
	"path/filepath"
	"testing"

	"github.com/hearthai/hearth/internal/core"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingCatalogStartsEmpty(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	require.Empty(t, c.List())
}

func TestPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	c, err := Open(path)
	require.NoError(t, err)

	m := core.ModelInfo{ID: "qwen-7b", DisplayName: "Qwen 7B", Pool: core.PoolText, Path: "/models/qwen-7b.gguf"}
	require.NoError(t, c.Put(m))

	got, err := c.Get("qwen-7b")
	require.NoError(t, err)
	require.Equal(t, m, got)

	reopened, err := Open(path)
	require.NoError(t, err)
	again, err := reopened.Get("qwen-7b")
	require.NoError(t, err)
	require.Equal(t, m, again)
}

func TestGetUnknownIDReturnsErrNotFound(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	_, err = c.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesModel(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	require.NoError(t, c.Put(core.ModelInfo{ID: "a"}))
	require.NoError(t, c.Delete("a"))
	_, err = c.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetActiveTogglesFlag(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	require.NoError(t, c.Put(core.ModelInfo{ID: "a"}))
	require.NoError(t, c.SetActive("a", true))
	got, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, got.Active)
}

func TestListIsSortedByID(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.json"))
	require.NoError(t, err)
	require.NoError(t, c.Put(core.ModelInfo{ID: "zeta"}))
	require.NoError(t, c.Put(core.ModelInfo{ID: "alpha"}))
	require.NoError(t, c.Put(core.ModelInfo{ID: "mu"}))

	list := c.List()
	require.Len(t, list, 3)
	require.Equal(t, "alpha", list[0].ID)
	require.Equal(t, "mu", list[1].ID)
	require.Equal(t, "zeta", list[2].ID)
}
