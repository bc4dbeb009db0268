// Package checkengine evaluates one inspection item against one cluster
// and maps raw evidence — a command's exit code, a PromQL sample, a
// Kubernetes API response — to the tri-valued status the orchestrator
// persists. No Evaluate call ever panics or returns an error across this
// package's boundary: every failure becomes a (status, detail, suggestion)
// triple the caller can store directly.
package checkengine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/store"
)

// Cluster is the subset of cluster state the engine needs to evaluate an
// item: where its kubeconfig lives on disk and which Prometheus (if any) to
// query.
type Cluster struct {
	ID             string
	KubeconfigPath string
	PrometheusURL  string
}

// Result is the outcome of evaluating one item.
type Result struct {
	Status     string
	Detail     string
	Suggestion string
}

// defaultCommandTimeout is used when an item's command config omits
// timeout_s.
const defaultCommandTimeout = 30 * time.Second

// defaultPromQLTimeout bounds every Prometheus HTTP query.
const defaultPromQLTimeout = 10 * time.Second

// Engine evaluates inspection items. It holds no per-call state; a single
// Engine is safe to share across concurrently running runs.
type Engine struct {
	logger *zap.Logger
}

// New creates an Engine. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Evaluate dispatches to the handler for item.CheckType and never lets a
// panic or error escape: misconfiguration, transport failures, and timeouts
// are all folded into Result.
func (e *Engine) Evaluate(ctx context.Context, item store.InspectionItem, cluster Cluster) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("check engine panic recovered",
				zap.String("item", item.Name), zap.Any("panic", r))
			result = Result{Status: store.ResultFailed, Detail: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	switch item.CheckType {
	case store.CheckTypeCommand:
		return e.evaluateCommand(ctx, item, cluster)
	case store.CheckTypePromQL:
		return e.evaluatePromQL(ctx, item, cluster)
	default:
		if store.IsBuiltinCheckType(item.CheckType) {
			return e.evaluateBuiltin(ctx, item, cluster)
		}
		return Result{Status: store.ResultFailed, Detail: "unknown check type"}
	}
}

// misconfigured is the uniform edge-case response for a required config key
// that is missing, per the propagation policy: never raise, always report.
func misconfigured(key string) Result {
	return Result{Status: store.ResultFailed, Detail: "inspection item misconfigured: " + key}
}
