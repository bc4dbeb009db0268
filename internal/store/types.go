package store

import "time"

// Cluster connection states, per the probe's last result.
const (
	ConnectionConnected = "connected"
	ConnectionFailed    = "failed"
	ConnectionWarning   = "warning"
	ConnectionUnknown   = "unknown"
)

// Run executor kinds.
const (
	ExecutorServer = "server"
	ExecutorAgent  = "agent"
)

// Run lifecycle states.
const (
	RunQueued     = "queued"
	RunRunning    = "running"
	RunPaused     = "paused"
	RunCancelled  = "cancelled"
	RunCompleted  = "completed"
	RunIncomplete = "incomplete"
)

// Per-run agent dispatch states, only meaningful when Executor == agent.
const (
	AgentRunQueued   = "queued"
	AgentRunRunning  = "running"
	AgentRunFinished = "finished"
	AgentRunFailed   = "failed"
)

// Result statuses.
const (
	ResultPassed  = "passed"
	ResultWarning = "warning"
	ResultFailed  = "failed"
)

// Inspection item kinds.
const (
	CheckTypeCommand            = "command"
	CheckTypePromQL             = "promql"
	CheckTypeClusterVersion     = "cluster_version"
	CheckTypeNodesStatus        = "nodes_status"
	CheckTypePodsStatus         = "pods_status"
	CheckTypeEventsRecent       = "events_recent"
	CheckTypeClusterCPUUsage    = "cluster_cpu_usage"
	CheckTypeClusterMemoryUsage = "cluster_memory_usage"
	CheckTypeNodeCPUHotspots    = "node_cpu_hotspots"
	CheckTypeNodeMemoryPressure = "node_memory_pressure"
	CheckTypeClusterDiskIO      = "cluster_disk_io"
)

// builtinCheckTypes returns every check_type that is not command or promql:
// a fixed handler with no user-supplied config.
func builtinCheckTypes() map[string]struct{} {
	return map[string]struct{}{
		CheckTypeClusterVersion:     {},
		CheckTypeNodesStatus:        {},
		CheckTypePodsStatus:         {},
		CheckTypeEventsRecent:       {},
		CheckTypeClusterCPUUsage:    {},
		CheckTypeClusterMemoryUsage: {},
		CheckTypeNodeCPUHotspots:    {},
		CheckTypeNodeMemoryPressure: {},
		CheckTypeClusterDiskIO:      {},
	}
}

// IsBuiltinCheckType reports whether kind is a hard-coded builtin handler
// rather than command or promql.
func IsBuiltinCheckType(kind string) bool {
	_, ok := builtinCheckTypes()[kind]
	return ok
}

// Cluster is a registered Kubernetes cluster, identified by its kubeconfig.
type Cluster struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	KubeconfigPath    string     `json:"-"`
	PrometheusURL     string     `json:"prometheus_url,omitempty"`
	Contexts          []string   `json:"contexts,omitempty"`
	ConnectionStatus  string     `json:"connection_status"`
	ConnectionMessage string     `json:"connection_message,omitempty"`
	KubernetesVersion string     `json:"kubernetes_version,omitempty"`
	NodeCount         *int       `json:"node_count,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	ExecutionMode     string     `json:"execution_mode"`
	DefaultAgentID    string     `json:"default_agent_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// InspectionItem is a reusable check definition.
type InspectionItem struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	CheckType   string      `json:"check_type"`
	Config      CheckConfig `json:"config"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CommandConfig is InspectionItem.Config when CheckType == command.
type CommandConfig struct {
	CommandTemplate     string `json:"command_template"`
	Shell               bool   `json:"shell"`
	TimeoutS            int    `json:"timeout_s"`
	SuccessMessage      string `json:"success_message,omitempty"`
	FailureMessage      string `json:"failure_message,omitempty"`
	SuggestionOnFail    string `json:"suggestion_on_fail,omitempty"`
	SuggestionOnSuccess string `json:"suggestion_on_success,omitempty"`
}

// PromQLConfig is InspectionItem.Config when CheckType == promql.
type PromQLConfig struct {
	Expression        string  `json:"expression"`
	Comparison        string  `json:"comparison"`
	FailThreshold     float64 `json:"fail_threshold"`
	DetailTemplate    string  `json:"detail_template,omitempty"`
	SuggestionOnFail  string  `json:"suggestion_on_fail,omitempty"`
	EmptyMessage      string  `json:"empty_message,omitempty"`
	SuggestionIfEmpty string  `json:"suggestion_if_empty,omitempty"`
}

// CheckConfig is a tagged union over the three config shapes an inspection
// item may carry. Exactly one of Command/PromQL is populated, keyed by the
// owning item's CheckType; builtin kinds populate neither. Raw preserves an
// unrecognised historical shape so reads never fail outright.
type CheckConfig struct {
	Command *CommandConfig `json:"command,omitempty"`
	PromQL  *PromQLConfig  `json:"promql,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// InspectionRun is one execution of a set of items against one cluster.
type InspectionRun struct {
	ID             string     `json:"id"`
	ClusterID      string     `json:"cluster_id"`
	Operator       string     `json:"operator,omitempty"`
	Status         string     `json:"status"`
	Executor       string     `json:"executor"`
	AgentID        string     `json:"agent_id,omitempty"`
	AgentStatus    string     `json:"agent_status,omitempty"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	Progress       int        `json:"progress"`
	Summary        string     `json:"summary,omitempty"`
	ReportPath     string     `json:"report_path,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// InspectionResult is the outcome of one item within one run.
type InspectionResult struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	ItemID     string `json:"item_id,omitempty"`
	ItemName   string `json:"item_name"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Sequence   int    `json:"-"`
}

// InspectionAgent is an external worker the coordinator dispatches
// agent-executor work to.
type InspectionAgent struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ClusterID     string     `json:"cluster_id,omitempty"`
	Description   string     `json:"description,omitempty"`
	IsEnabled     bool       `json:"is_enabled"`
	PrometheusURL string     `json:"prometheus_url,omitempty"`
	TokenHash     string     `json:"-"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
