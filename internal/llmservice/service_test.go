package llmservice

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/hearthai/hearth/internal/runner"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	startCount atomic.Int32
	port       int
}

func (f *fakeStarter) Start(ctx context.Context, cfg runner.StartConfig) (int, error) {
	f.startCount.Add(1)
	return f.port, nil
}

type fakeModelLookup struct{ paths map[string]string }

func (f *fakeModelLookup) ModelPath(modelKey string) (string, error) {
	p, ok := f.paths[modelKey]
	if !ok {
		return "", fmt.Errorf("no such model %q", modelKey)
	}
	return p, nil
}

func TestExecutorRoleDefaultsTaskType(t *testing.T) {
	require.Equal(t, "executor_model:default", ExecutorRole(""))
	require.Equal(t, "executor_model:code_gen", ExecutorRole("code_gen"))
}

func TestClientForUnconfiguredRoleErrors(t *testing.T) {
	svc := New(&fakeStarter{}, &fakeModelLookup{}, map[string]string{}, 3)
	_, _, err := svc.ClientFor(context.Background(), RoleCharacter)
	require.ErrorIs(t, err, ErrRoleNotConfigured)
}

func TestClientForStartsBackendOnceAndCaches(t *testing.T) {
	starter := &fakeStarter{port: 9001}
	models := &fakeModelLookup{paths: map[string]string{"qwen-7b": "/models/qwen-7b.gguf"}}
	svc := New(starter, models, map[string]string{RoleCharacter: "qwen-7b"}, 3)

	_, modelKey, err := svc.ClientFor(context.Background(), RoleCharacter)
	require.NoError(t, err)
	require.Equal(t, "qwen-7b", modelKey)
	require.EqualValues(t, 1, starter.startCount.Load())

	_, _, err = svc.ClientFor(context.Background(), RoleCharacter)
	require.NoError(t, err)
	require.EqualValues(t, 1, starter.startCount.Load(), "second call should hit the cache, not restart the backend")
}

func TestInvalidateForcesRestart(t *testing.T) {
	starter := &fakeStarter{port: 9001}
	models := &fakeModelLookup{paths: map[string]string{"qwen-7b": "/models/qwen-7b.gguf"}}
	svc := New(starter, models, map[string]string{RoleCharacter: "qwen-7b"}, 3)

	_, _, err := svc.ClientFor(context.Background(), RoleCharacter)
	require.NoError(t, err)
	svc.Invalidate("qwen-7b")

	_, _, err = svc.ClientFor(context.Background(), RoleCharacter)
	require.NoError(t, err)
	require.EqualValues(t, 2, starter.startCount.Load())
}

func TestCacheEvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", clientEntry{port: 1})
	c.put("b", clientEntry{port: 2})
	c.put("c", clientEntry{port: 3})

	_, ok := c.get("a")
	require.False(t, ok, "a should have been evicted")
	require.Equal(t, 2, c.len())
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", clientEntry{port: 1})
	c.put("b", clientEntry{port: 2})
	c.get("a")
	c.put("c", clientEntry{port: 3})

	_, ok := c.get("b")
	require.False(t, ok, "b should have been evicted since a was touched more recently")
	_, ok = c.get("a")
	require.True(t, ok)
}
