// Command hearth wires every component into the Facade and drives it from
// stdin: read a line, run it through the graph, print the assistant's
// reply. It has no HTTP surface; a network front end is expected to sit on
// top of the Facade, not be part of it.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthai/hearth/internal/config"
	"github.com/hearthai/hearth/internal/core"
	"github.com/hearthai/hearth/internal/episodic"
	"github.com/hearthai/hearth/internal/facade"
	"github.com/hearthai/hearth/internal/graph"
	"github.com/hearthai/hearth/internal/llmadapter"
	"github.com/hearthai/hearth/internal/llmservice"
	"github.com/hearthai/hearth/internal/mcpclient"
	"github.com/hearthai/hearth/internal/observability"
	"github.com/hearthai/hearth/internal/rag"
	"github.com/hearthai/hearth/internal/registry"
	"github.com/hearthai/hearth/internal/runner"
	"github.com/hearthai/hearth/internal/session"
	"github.com/hearthai/hearth/internal/toolfabric"
	"github.com/hearthai/hearth/internal/vectorstore"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("building application")
	}
	defer app.shutdown(ctx)

	runREPL(ctx, app.facade)
}

// application holds every top-level component so shutdown can reverse
// construction order: graph has nothing to close, tool fabric's MCP
// sessions close, the session manager drops its tracked sessions, then the
// vector store connection closes.
type application struct {
	facade *facade.Facade
	mcp    *mcpclient.Manager
	vs     vectorstore.Store
}

func (a *application) shutdown(ctx context.Context) {
	if a.mcp != nil {
		a.mcp.Close()
	}
	a.facade.Shutdown(ctx)
	_ = a.vs.Close()
}

func build(ctx context.Context, cfg config.Config) (*application, error) {
	sessionMgr := session.NewManager(session.NewInMemoryHistoryStore())

	catalog, err := registry.Open(cfg.Registry.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("opening model catalog: %w", err)
	}

	backend := runner.New(
		cfg.Runner.BinaryPath,
		cfg.Runner.LogDir,
		cfg.Runner.HealthCheckTimeout,
		time.Duration(cfg.Runner.HealthCheckInterval)*time.Millisecond,
		time.Duration(cfg.Runner.ProcessTerminateTimeout)*time.Second,
	)

	roleKeys := map[string]string{
		llmservice.RoleCharacter: "character",
		llmservice.RoleEmbedding: "embedding",
	}
	llm := llmservice.New(backend, catalog, roleKeys, cfg.LLMService.CacheSize)

	vs, err := buildVectorStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}

	fabric := toolfabric.New(time.Duration(cfg.ToolFabric.ToolTimeoutSeconds) * time.Second)
	fabric.RegisterProvider(toolfabric.NewNativeProvider(nil))

	mcpManager := mcpclient.NewManager("hearth", "dev")
	if len(cfg.ToolFabric.MCPServers) > 0 {
		mcpProvider := toolfabric.NewMCPProvider()
		mcpManager.RegisterFromConfig(ctx, mcpProvider, toMCPServerConfigs(cfg.ToolFabric.MCPServers))
		fabric.RegisterProvider(mcpProvider)
	}
	profile := toolfabric.Profile{Name: cfg.ToolFabric.DefaultProfile}

	embedder := llmadapter.Embedder{Resolver: llm, Role: llmservice.RoleEmbedding}
	ragEngine := rag.New(fabric, profile, embedder)

	emCfg := toEMConfig(cfg.EM)
	episodicStore := episodic.NewStore(vs, "episodic_events", emCfg)
	integrator := episodic.NewIntegrator(emCfg, episodicStore, embedder)

	reg := &graph.Registry{
		Chat:    llmadapter.ChatModel{Resolver: llm, Role: llmservice.RoleCharacter},
		Tools:   graph.FabricAdapter{Fabric: fabric, Profile: profile},
		Memory:  integrator,
		RAG:     ragEngine,
		RecallK: emCfg.TotalRetrievedEvents,
	}
	compiled, err := graph.Compile(reg)
	if err != nil {
		return nil, fmt.Errorf("compiling graph: %w", err)
	}

	f := facade.New(sessionMgr, compiled, cfg.AllowWebSearch)
	f.HistoryLimit = cfg.DefaultHistoryLimit

	return &application{facade: f, mcp: mcpManager, vs: vs}, nil
}

func buildVectorStore(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	const embeddingDim = 1536
	switch cfg.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(cfg.QdrantAddr, embeddingDim)
	default:
		return vectorstore.NewPostgresStore(ctx, cfg.PostgresDSN, embeddingDim)
	}
}

func toEMConfig(c config.EMConfig) core.EMConfig {
	metric := core.RefinementModularity
	if c.RefinementMetric == string(core.RefinementConductance) {
		metric = core.RefinementConductance
	}
	return core.EMConfig{
		SurpriseWindow:        c.SurpriseWindow,
		SurpriseGamma:         c.SurpriseGamma,
		MinEventSize:          c.MinEventSize,
		MaxEventSize:          c.MaxEventSize,
		SimilarityBufferRatio: c.SimilarityBufferRatio,
		TotalRetrievedEvents:  c.TotalRetrievedEvents,
		ReprTopK:              c.ReprTopK,
		RecencyWeight:         c.RecencyWeight,
		UseBoundaryRefinement: c.UseBoundaryRefinement,
		RefinementMetric:      metric,
		RefinementSearchRange: c.RefinementSearchRange,
	}
}

func toMCPServerConfigs(servers []config.MCPServerEnvConfig) []mcpclient.ServerConfig {
	out := make([]mcpclient.ServerConfig, 0, len(servers))
	for _, s := range servers {
		out = append(out, mcpclient.ServerConfig{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			URL:     s.URL,
		})
	}
	return out
}

func runREPL(ctx context.Context, f *facade.Facade) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("hearth> ready")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		for event := range f.ProcessUserRequest(ctx, facade.Request{Input: line, Mode: "direct", SessionID: "repl"}) {
			switch event.Type {
			case graph.EventChatModelStream:
				fmt.Print(event.Content)
			case graph.EventGraphEnd:
				fmt.Println()
				if event.Err != nil {
					fmt.Fprintln(os.Stderr, "error:", event.Err)
				}
			}
		}
	}
}
