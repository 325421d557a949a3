package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/google/uuid"
)

// NotReadyMessage is the fixed soft-failure text when the readiness gate
// rejects a call before it is attempted.
const NotReadyMessage = "local server not ready"

// StatusChecker is the readiness gate; satisfied by supervisor.Prober.
type StatusChecker interface {
	CheckStatus(ctx context.Context) supervisor.ServerStatus
}

type registration struct {
	provider provider.Provider
	gated    bool
}

// Engine fans analysis requests out to registered providers. Providers backed
// by the supervised local server are readiness-gated before each call; cloud
// providers are not. The engine never inspects backend response shapes; that
// normalization lives in each provider.
type Engine struct {
	checker   StatusChecker
	logger    *slog.Logger
	providers map[string]registration
	order     []string
}

func NewEngine(checker StatusChecker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		checker:   checker,
		logger:    logger.With("component", "dispatch"),
		providers: make(map[string]registration),
	}
}

// Register adds a provider. gated marks it as backed by the local server and
// therefore subject to the readiness gate.
func (e *Engine) Register(p provider.Provider, gated bool) {
	if _, exists := e.providers[p.ID()]; !exists {
		e.order = append(e.order, p.ID())
	}
	e.providers[p.ID()] = registration{provider: p, gated: gated}
}

// ProviderIDs returns the registered provider identifiers in registration order.
func (e *Engine) ProviderIDs() []string {
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	return ids
}

// ComparisonReport aggregates the settled outcomes of dispatching one request
// to several providers concurrently. It is only ever complete: every
// dispatched provider appears exactly once, failures included.
type ComparisonReport struct {
	ID          string                    `json:"id"`
	Results     []provider.AnalysisResult `json:"results"`
	TotalTimeMs int64                     `json:"total_time_ms"`
}

// Single dispatches one request to one provider. An unknown provider is a
// hard error; a failed readiness gate yields a soft-failure result without
// touching the backend.
func (e *Engine) Single(ctx context.Context, req provider.Request, providerID string) (provider.AnalysisResult, error) {
	reg, ok := e.providers[providerID]
	if !ok {
		return provider.AnalysisResult{}, fmt.Errorf("unknown provider %q", providerID)
	}

	if reg.gated {
		status := e.checker.CheckStatus(ctx)
		if !status.Running || !status.ModelReady {
			e.logger.Debug("readiness gate rejected call", "provider", providerID, "status_error", status.Error)
			return provider.AnalysisResult{Provider: providerID, Error: NotReadyMessage}, nil
		}
	}

	return reg.provider.Analyze(ctx, req)
}

// Compare dispatches the same request to every listed provider concurrently.
// Each branch carries its own timeout and failure domain: a slow or failing
// provider never cancels or delays its siblings' entries. The report is
// assembled only after all branches settle.
func (e *Engine) Compare(ctx context.Context, req provider.Request, providerIDs []string) (*ComparisonReport, error) {
	if len(providerIDs) == 0 {
		return nil, fmt.Errorf("no providers listed")
	}
	for _, id := range providerIDs {
		if _, ok := e.providers[id]; !ok {
			return nil, fmt.Errorf("unknown provider %q", id)
		}
	}

	start := time.Now()
	results := make([]provider.AnalysisResult, len(providerIDs))

	var wg sync.WaitGroup
	wg.Add(len(providerIDs))
	for i, id := range providerIDs {
		go func(i int, id string) {
			defer wg.Done()
			res, err := e.Single(ctx, req, id)
			if err != nil {
				// Inside a comparison even hard failures become part of the
				// report; one branch must never sink the others.
				res = provider.AnalysisResult{Provider: id, Error: err.Error()}
			}
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	report := &ComparisonReport{
		ID:          uuid.New().String(),
		Results:     results,
		TotalTimeMs: time.Since(start).Milliseconds(),
	}

	e.logger.Info("comparison complete",
		"correlation_id", report.ID,
		"providers", len(providerIDs),
		"total_ms", report.TotalTimeMs)

	return report, nil
}
