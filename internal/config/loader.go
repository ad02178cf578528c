package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables, with a .env overlay
// (loaded via godotenv.Overload so repository-local values win
// deterministically in development) and an optional YAML file for the
// structured list env vars are awkward to carry. The YAML overlay reads
// only the MCP server list; model seeds and tool profiles are not read
// from it.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaults()

	if v := firstNonEmpty(os.Getenv("LOG_PATH")); v != "" {
		cfg.LogPath = v
	}
	if v := firstNonEmpty(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := firstNonEmpty(os.Getenv("WORKDIR")); v != "" {
		cfg.Workdir = v
	}

	intFromEnv("MAX_INPUT_LENGTH", &cfg.MaxInputLength)
	intFromEnv("GRAPH_RECURSION_LIMIT", &cfg.GraphRecursionLimit)
	intFromEnv("TOOL_EXECUTION_TIMEOUT_SECONDS", &cfg.ToolExecutionTimeout)
	intFromEnv("DEFAULT_HISTORY_LIMIT", &cfg.DefaultHistoryLimit)
	intFromEnv("HISTORY_TRIM_LIMIT", &cfg.HistoryTrimLimit)

	boolFromEnv("ALLOW_WEB_SEARCH", &cfg.AllowWebSearch)
	boolFromEnv("REDACT_PII", &cfg.RedactPII)
	if v := firstNonEmpty(os.Getenv("SEARCH_PROVIDER")); v != "" {
		cfg.SearchProvider = v
	}
	if v := os.Getenv("URL_DENYLIST"); v != "" {
		cfg.URLDenylist = splitCSV(v)
	}
	if v := os.Getenv("DANGEROUS_PATTERNS"); v != "" {
		cfg.DangerousPatterns = splitCSV(v)
	}

	intFromEnv("EM_SURPRISE_WINDOW", &cfg.EM.SurpriseWindow)
	floatFromEnv("EM_SURPRISE_GAMMA", &cfg.EM.SurpriseGamma)
	intFromEnv("EM_MIN_EVENT_SIZE", &cfg.EM.MinEventSize)
	intFromEnv("EM_MAX_EVENT_SIZE", &cfg.EM.MaxEventSize)
	floatFromEnv("EM_SIMILARITY_BUFFER_RATIO", &cfg.EM.SimilarityBufferRatio)
	intFromEnv("EM_TOTAL_RETRIEVED_EVENTS", &cfg.EM.TotalRetrievedEvents)
	intFromEnv("EM_REPR_TOP_K", &cfg.EM.ReprTopK)
	floatFromEnv("EM_RECENCY_WEIGHT", &cfg.EM.RecencyWeight)
	boolFromEnv("EM_USE_BOUNDARY_REFINEMENT", &cfg.EM.UseBoundaryRefinement)
	if v := firstNonEmpty(os.Getenv("EM_REFINEMENT_METRIC")); v != "" {
		cfg.EM.RefinementMetric = v
	}
	intFromEnv("EM_REFINEMENT_SEARCH_RANGE", &cfg.EM.RefinementSearchRange)

	if v := firstNonEmpty(os.Getenv("RUNNER_BINARY_PATH")); v != "" {
		cfg.Runner.BinaryPath = v
	}
	if v := firstNonEmpty(os.Getenv("RUNNER_LOG_DIR")); v != "" {
		cfg.Runner.LogDir = v
	}
	intFromEnv("RUNNER_HEALTH_CHECK_TIMEOUT", &cfg.Runner.HealthCheckTimeout)
	intFromEnv("RUNNER_HEALTH_CHECK_INTERVAL_MS", &cfg.Runner.HealthCheckInterval)
	intFromEnv("RUNNER_PROCESS_TERMINATE_TIMEOUT", &cfg.Runner.ProcessTerminateTimeout)

	if v := firstNonEmpty(os.Getenv("REGISTRY_CATALOG_PATH")); v != "" {
		cfg.Registry.CatalogPath = v
	}
	if v := firstNonEmpty(os.Getenv("REGISTRY_MANAGED_MODEL_DIR")); v != "" {
		cfg.Registry.ManagedModelDir = v
	}
	if v := os.Getenv("REGISTRY_ALLOWLIST_HOSTS"); v != "" {
		cfg.Registry.AllowlistHosts = splitCSV(v)
	}
	if v := firstNonEmpty(os.Getenv("REGISTRY_S3_BUCKET")); v != "" {
		cfg.Registry.S3Bucket = v
	}
	if v := firstNonEmpty(os.Getenv("REGISTRY_S3_REGION")); v != "" {
		cfg.Registry.S3Region = v
	}
	if v := firstNonEmpty(os.Getenv("REGISTRY_REDIS_ADDR")); v != "" {
		cfg.Registry.RedisAddr = v
	}
	if v := firstNonEmpty(os.Getenv("REGISTRY_REDIS_PASSWORD")); v != "" {
		cfg.Registry.RedisPassword = v
	}
	intFromEnv("REGISTRY_REDIS_DB", &cfg.Registry.RedisDB)

	intFromEnv("LLM_SERVICE_CACHE_SIZE", &cfg.LLMService.CacheSize)

	intFromEnv("TOOL_TIMEOUT_SECONDS", &cfg.ToolFabric.ToolTimeoutSeconds)
	if v := firstNonEmpty(os.Getenv("TOOL_DEFAULT_PROFILE")); v != "" {
		cfg.ToolFabric.DefaultProfile = v
	}

	if v := firstNonEmpty(os.Getenv("VECTOR_STORE_BACKEND")); v != "" {
		cfg.VectorStore.Backend = v
	}
	if v := firstNonEmpty(os.Getenv("VECTOR_STORE_POSTGRES_DSN")); v != "" {
		cfg.VectorStore.PostgresDSN = v
	}
	if v := firstNonEmpty(os.Getenv("VECTOR_STORE_QDRANT_ADDR")); v != "" {
		cfg.VectorStore.QdrantAddr = v
	}

	intFromEnv("RAG_CHUNK_SIZE", &cfg.RAG.ChunkSize)
	intFromEnv("RAG_CHUNK_OVERLAP", &cfg.RAG.ChunkOverlap)
	intFromEnv("RAG_EMBEDDING_BATCH_SIZE", &cfg.RAG.EmbeddingBatchSize)
	intFromEnv("RAG_TOP_K", &cfg.RAG.TopK)
	intFromEnv("RAG_MAX_CONTEXT_CHARS", &cfg.RAG.MaxContextChars)

	if v := firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := firstNonEmpty(os.Getenv("SERVICE_VERSION")); v != "" {
		cfg.Obs.ServiceVersion = v
	}
	if v := firstNonEmpty(os.Getenv("ENVIRONMENT")); v != "" {
		cfg.Obs.Environment = v
	}

	if path := os.Getenv("CONFIG_YAML_PATH"); path != "" {
		if err := mergeYAMLOverlay(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		LogLevel:             "info",
		MaxInputLength:       8000,
		GraphRecursionLimit:  50,
		ToolExecutionTimeout: 30,
		DefaultHistoryLimit:  50,
		HistoryTrimLimit:     1000,
		SearchProvider:       "duckduckgo",
		EM: EMConfig{
			SurpriseWindow:        5,
			SurpriseGamma:         1.0,
			MinEventSize:          8,
			MaxEventSize:          512,
			SimilarityBufferRatio: 0.7,
			TotalRetrievedEvents:  10,
			ReprTopK:              4,
			RecencyWeight:         0.1,
			UseBoundaryRefinement: true,
			RefinementMetric:      "modularity",
			RefinementSearchRange: 5,
		},
		Runner: RunnerConfig{
			HealthCheckTimeout:      60,
			HealthCheckInterval:     500,
			ProcessTerminateTimeout: 10,
		},
		Registry: RegistryConfig{
			RedisDB: 0,
		},
		LLMService: LLMServiceConfig{CacheSize: 3},
		ToolFabric: ToolFabricConfig{ToolTimeoutSeconds: 30},
		VectorStore: VectorStoreConfig{Backend: "postgres"},
		RAG: RAGConfig{
			ChunkSize:          500,
			ChunkOverlap:       50,
			EmbeddingBatchSize: 32,
			TopK:               5,
			MaxContextChars:    3000,
		},
		Obs: ObsConfig{ServiceName: "hearth", ServiceVersion: "dev", Environment: "development"},
	}
}

// yamlOverlay carries structured config that doesn't map well onto a flat
// environment variable: MCP server definitions.
type yamlOverlay struct {
	MCPServers []MCPServerEnvConfig `yaml:"mcpServers"`
}

func mergeYAMLOverlay(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return err
	}
	if len(overlay.MCPServers) > 0 {
		cfg.ToolFabric.MCPServers = overlay.MCPServers
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func intFromEnv(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func floatFromEnv(key string, dst *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func boolFromEnv(key string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
