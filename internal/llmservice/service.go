// Package llmservice is the stateless client factory: given a logical
// role, it resolves the configured model key, ensures that model's backend
// process is running, and returns a cached OpenAI-compatible client
// pointed at its port.
package llmservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthai/hearth/internal/runner"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Roles the rest of the engine asks the LLM Service to resolve. Executor
// requests are parameterized by task type via ExecutorRole.
const (
	RoleCharacter = "character_model"
	RoleEmbedding = "embedding_model"
	executorRole  = "executor_model"
)

// ExecutorRole builds the role key for an executor request scoped to a
// task type, falling back to "default" when taskType is empty.
func ExecutorRole(taskType string) string {
	if taskType == "" {
		taskType = "default"
	}
	return fmt.Sprintf("%s:%s", executorRole, taskType)
}

// Starter is the subset of the Process Runner the LLM Service needs: it
// never stops processes itself, only ensures one is running before
// handing out a client.
type Starter interface {
	Start(ctx context.Context, cfg runner.StartConfig) (int, error)
}

// ModelLookup resolves a modelKey to its on-disk path, the one piece of
// catalog information the LLM Service needs to start a backend.
type ModelLookup interface {
	ModelPath(modelKey string) (string, error)
}

// Service is the LLM Service. It is safe for concurrent use.
type Service struct {
	starter  Starter
	models   ModelLookup
	roleKeys map[string]string // role -> modelKey, e.g. "character_model" -> "qwen-7b"

	cache *lruCache

	startMu sync.Map // modelKey -> *sync.Mutex, serializes concurrent starts of the same model
}

// clientEntry is one LRU cache slot: a constructed client bound to the
// port its backend was listening on when the client was built.
type clientEntry struct {
	client *openai.Client
	port   int
}

// New constructs a Service. roleKeys maps each role (RoleCharacter,
// RoleEmbedding, and any ExecutorRole(taskType) values) to the modelKey
// the Process Runner should start for it. cacheSize bounds how many
// distinct modelKeys keep a warm client; the least recently used entry is
// evicted once the bound is exceeded.
func New(starter Starter, models ModelLookup, roleKeys map[string]string, cacheSize int) *Service {
	if cacheSize <= 0 {
		cacheSize = 3
	}
	return &Service{
		starter:  starter,
		models:   models,
		roleKeys: roleKeys,
		cache:    newLRUCache(cacheSize),
	}
}

// ErrRoleNotConfigured is returned when no modelKey is configured for a
// requested role.
var ErrRoleNotConfigured = fmt.Errorf("llmservice: role not configured")

// ClientFor resolves role to a modelKey, ensures its backend is running,
// and returns a ready-to-use OpenAI-compatible client plus the modelKey it
// is bound to (callers pass modelKey as the chat/embeddings Model field).
func (s *Service) ClientFor(ctx context.Context, role string) (*openai.Client, string, error) {
	modelKey, ok := s.roleKeys[role]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrRoleNotConfigured, role)
	}

	if entry, ok := s.cache.get(modelKey); ok {
		return entry.client, modelKey, nil
	}

	muAny, _ := s.startMu.LoadOrStore(modelKey, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have populated the cache while we waited on mu.
	if entry, ok := s.cache.get(modelKey); ok {
		return entry.client, modelKey, nil
	}

	path, err := s.models.ModelPath(modelKey)
	if err != nil {
		return nil, "", fmt.Errorf("llmservice: resolving model path for %q: %w", modelKey, err)
	}

	port, err := s.starter.Start(ctx, runner.StartConfig{ModelKey: modelKey, ModelPath: path})
	if err != nil {
		return nil, "", fmt.Errorf("llmservice: starting backend for %q: %w", modelKey, err)
	}

	client := openai.NewClient(
		option.WithBaseURL(fmt.Sprintf("http://127.0.0.1:%d/v1", port)),
		option.WithAPIKey("local"),
	)
	entry := clientEntry{client: &client, port: port}
	s.cache.put(modelKey, entry)

	return entry.client, modelKey, nil
}

// Invalidate drops a cached client for modelKey, forcing the next
// ClientFor call to rebuild it. Used when the Process Runner reports the
// backend died and was restarted on a new port.
func (s *Service) Invalidate(modelKey string) {
	s.cache.remove(modelKey)
}
