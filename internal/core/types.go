// Package core holds the data model shared by every orchestration
// component: messages, per-turn agent state, episodic events, and the
// model/runner records the Process Runner and Model Registry exchange.
package core

import "time"

// MessageKind tags a Message the way the graph routes and formats it.
type MessageKind string

const (
	KindHuman  MessageKind = "human"
	KindAI     MessageKind = "ai"
	KindSystem MessageKind = "system"
	KindTool   MessageKind = "tool"
)

// ToolCall is carried as a field on an AI message, never as its own
// message kind.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is the append-only unit of conversation. Once emitted into a
// ChatHistory or a scratchpad, a Message is never mutated.
type Message struct {
	Kind       MessageKind
	Content    string
	Attributes map[string]any
	ToolCalls  []ToolCall
	ToolCallID string
}

// NewHuman, NewAI, NewSystem, and NewToolResult build messages with empty
// Attributes maps so callers can set fields by key without a nil check.
func NewHuman(content string) Message { return Message{Kind: KindHuman, Content: content, Attributes: map[string]any{}} }
func NewAI(content string) Message    { return Message{Kind: KindAI, Content: content, Attributes: map[string]any{}} }
func NewSystem(content string) Message {
	return Message{Kind: KindSystem, Content: content, Attributes: map[string]any{}}
}
func NewToolResult(toolCallID, content string) Message {
	return Message{Kind: KindTool, Content: content, ToolCallID: toolCallID, Attributes: map[string]any{}}
}

// HasToolCalls reports whether an AI message is awaiting tool execution.
func (m Message) HasToolCalls() bool { return m.Kind == KindAI && len(m.ToolCalls) > 0 }

// ChatHistory is the ordered, per-session sequence of messages. Its
// persistence is delegated entirely to a HistoryStore implementation;
// ChatHistory itself is just the in-memory value passed across that
// boundary.
type ChatHistory struct {
	SessionID string
	Messages  []Message
}

// Trim keeps only the most recent n messages.
func (h ChatHistory) Trim(n int) ChatHistory {
	if n <= 0 || len(h.Messages) <= n {
		return h
	}
	out := h
	out.Messages = append([]Message(nil), h.Messages[len(h.Messages)-n:]...)
	return out
}

// TokenLogprob is one entry of a generation's per-token logprob trace, the
// raw material for surprise-based episodic segmentation.
type TokenLogprob struct {
	Token   string
	Logprob float64
}

// SearchGroup bundles the results of one search query.
type SearchGroup struct {
	Query   string
	Results []string
}

// AgentState is the per-turn, single-execution value the Graph Runtime
// threads through every node. Input fields are set once by
// createInitialState; accumulating fields are mutated only by a node's
// return-merge. The state is discarded once the turn ends.
type AgentState struct {
	// Input fields, immutable for the life of the turn.
	SessionID        string
	Input            string
	Mode             string
	AgentMode        string
	Attachments      []Attachment
	SkipWebSearch    bool
	ApprovalCallback func(toolName string, args map[string]any) bool

	// Accumulating fields.
	Scratchpad         []Message
	Messages           []Message
	AgentOutcome       *string
	SearchQueries      []string
	SearchResults      []SearchGroup
	SynthesizedMemory  *string
	RecalledEpisodes   []RetrievedEpisode
	GenerationLogprobs []TokenLogprob

	// UpdatedHistory is set by the memory-formation/save node when it has
	// already produced the final chat history for the turn, short-circuiting
	// the Facade's own append-and-annotate step.
	UpdatedHistory *ChatHistory

	// ReactEntries counts how many times the react-reason node has run this
	// turn, enforcing the graph recursion limit.
	ReactEntries int
}

// Attachment is a user-supplied file or inline payload accompanying a turn.
type Attachment struct {
	Name    string
	Content string
}

// Clone returns a shallow copy of the state suitable for passing into a
// node: slices are not aliased, so a node can append without racing a
// concurrently-read prior value.
func (s AgentState) Clone() AgentState {
	out := s
	out.Attachments = append([]Attachment(nil), s.Attachments...)
	out.Scratchpad = append([]Message(nil), s.Scratchpad...)
	out.Messages = append([]Message(nil), s.Messages...)
	out.SearchQueries = append([]string(nil), s.SearchQueries...)
	out.SearchResults = append([]SearchGroup(nil), s.SearchResults...)
	out.RecalledEpisodes = append([]RetrievedEpisode(nil), s.RecalledEpisodes...)
	out.GenerationLogprobs = append([]TokenLogprob(nil), s.GenerationLogprobs...)
	return out
}

// CreateInitialState builds the zero-value AgentState for a new turn.
func CreateInitialState(sessionID, input, mode string, attachments []Attachment, skipWebSearch bool) AgentState {
	return AgentState{
		SessionID:     sessionID,
		Input:         input,
		Mode:          mode,
		Attachments:   attachments,
		SkipWebSearch: skipWebSearch,
	}
}

// EpisodicEvent is a contiguous token span identified as one coherent
// episodic unit by the segmenter, optionally refined by the boundary
// refinement pass.
type EpisodicEvent struct {
	Tokens                      []string
	StartPos                    int
	EndPos                      int
	SurpriseScores              []float64
	RepresentativeTokenIndices  []int
	RepresentativeEmbeddings    [][]float32
	Summary                     string
}

// RetrievedEpisode is the shape handed back to callers of two-stage
// retrieval: an event plus the bookkeeping a consumer needs to judge
// relevance and provenance.
type RetrievedEpisode struct {
	ID                   string
	Content              string
	Summary              string
	SurpriseMean         float64
	SurpriseMax          float64
	Size                 int
	RepresentativeTokens []string
	RetrievalRank        int
}

// EMConfig holds the immutable EM-LLM segmentation/retrieval parameters.
type EMConfig struct {
	SurpriseWindow         int
	SurpriseGamma          float64
	MinEventSize           int
	MaxEventSize           int
	SimilarityBufferRatio  float64
	TotalRetrievedEvents   int
	ReprTopK               int
	RecencyWeight          float64
	UseBoundaryRefinement  bool
	RefinementMetric       RefinementMetric
	RefinementSearchRange  int
}

// RefinementMetric selects the boundary-refinement scoring function.
type RefinementMetric string

const (
	RefinementModularity  RefinementMetric = "modularity"
	RefinementConductance RefinementMetric = "conductance"
)

// DefaultEMConfig returns the parameter set used when no override is
// supplied, matching the defaults the original segmentation/retrieval
// algorithms were tuned against.
func DefaultEMConfig() EMConfig {
	return EMConfig{
		SurpriseWindow:        5,
		SurpriseGamma:         1.0,
		MinEventSize:          8,
		MaxEventSize:          512,
		SimilarityBufferRatio: 0.7,
		TotalRetrievedEvents:  10,
		ReprTopK:              4,
		RecencyWeight:         0.1,
		UseBoundaryRefinement: true,
		RefinementMetric:      RefinementModularity,
		RefinementSearchRange: 5,
	}
}

// ModelPool is the role category of a model: text-generation or embedding.
type ModelPool string

const (
	PoolText      ModelPool = "text"
	PoolEmbedding ModelPool = "embedding"
)

// ModelSource identifies where a model's file comes from, and therefore
// which download path the Model Registry uses to fetch it.
type ModelSource string

const (
	SourceLocal ModelSource = "local"
	SourceHTTP  ModelSource = "http"
	SourceS3    ModelSource = "s3"
)

// ModelInfo is owned exclusively by the Model Registry; every mutation goes
// through its explicit CRUD operations.
type ModelInfo struct {
	ID          string
	DisplayName string
	Pool        ModelPool
	Path        string
	SizeBytes   int64
	Source      ModelSource
	RepoID      string
	Revision    string
	SHA256      string
	Active      bool
}

// RunnerStatus reports the Process Runner's view of one model process.
type RunnerStatus struct {
	IsRunning bool
	Port      int
	PID       int
	Error     string
}

// DownloadStatus enumerates the lifecycle of a Model Registry download job.
type DownloadStatus string

const (
	DownloadQueued    DownloadStatus = "queued"
	DownloadRunning   DownloadStatus = "running"
	DownloadPaused    DownloadStatus = "paused"
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
	DownloadCancelled DownloadStatus = "cancelled"
)

// DownloadJob is the persisted state of one model download.
type DownloadJob struct {
	JobID            string
	Status           DownloadStatus
	TargetURL        string
	TargetPath       string
	PartialPath      string
	TotalBytes       int64
	DownloadedBytes  int64
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DownloadPolicyDecision is the result of evaluating a requested download
// against the registry's allowlist and per-owner rules.
type DownloadPolicyDecision struct {
	Allowed         bool
	RequiresConsent bool
	Warnings        []string
	Revision        string
	ExpectedSHA256  string
}

// ToolProfile performs glob allow/deny matching over a tool name list.
type ToolProfile struct {
	Name  string
	Allow []string
	Deny  []string
}
