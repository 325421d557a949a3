package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
)

type fakeProvider struct {
	id      string
	delay   time.Duration
	result  provider.AnalysisResult
	err     error
	calls   atomic.Int64
	elapsed atomic.Int64
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Analyze(ctx context.Context, req provider.Request) (provider.AnalysisResult, error) {
	f.calls.Add(1)
	start := time.Now()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	f.elapsed.Store(time.Since(start).Milliseconds())
	if f.err != nil {
		return provider.AnalysisResult{}, f.err
	}
	res := f.result
	res.Provider = f.id
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res, nil
}

type fakeChecker struct {
	status supervisor.ServerStatus
	calls  atomic.Int64
}

func (f *fakeChecker) CheckStatus(ctx context.Context) supervisor.ServerStatus {
	f.calls.Add(1)
	return f.status
}

func readyChecker() *fakeChecker {
	return &fakeChecker{status: supervisor.ServerStatus{Running: true, ModelReady: true}}
}

func TestEngine_Single_GateRejectsWhenNotReady(t *testing.T) {
	tests := []struct {
		name   string
		status supervisor.ServerStatus
	}{
		{"server down", supervisor.ServerStatus{Error: "no connection"}},
		{"model missing", supervisor.ServerStatus{Running: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &fakeProvider{id: "ollama"}
			e := NewEngine(&fakeChecker{status: tt.status}, nil)
			e.Register(local, true)

			result, err := e.Single(context.Background(), provider.Request{Op: provider.OpQuery}, "ollama")
			if err != nil {
				t.Fatalf("gate rejection must be soft, got hard error: %v", err)
			}
			if result.Error != NotReadyMessage {
				t.Errorf("expected %q, got %q", NotReadyMessage, result.Error)
			}
			if got := local.calls.Load(); got != 0 {
				t.Errorf("gated provider must not be called, got %d calls", got)
			}
		})
	}
}

func TestEngine_Single_CloudSkipsGate(t *testing.T) {
	cloud := &fakeProvider{id: "moondream", result: provider.AnalysisResult{Response: "ok"}}
	checker := &fakeChecker{status: supervisor.ServerStatus{Error: "down"}}
	e := NewEngine(checker, nil)
	e.Register(cloud, false)

	result, err := e.Single(context.Background(), provider.Request{Op: provider.OpQuery}, "moondream")
	if err != nil {
		t.Fatalf("Single failed: %v", err)
	}
	if result.Error != "" {
		t.Errorf("expected success, got error %q", result.Error)
	}
	if got := checker.calls.Load(); got != 0 {
		t.Errorf("cloud dispatch must not probe the local server, got %d probes", got)
	}
}

func TestEngine_Single_UnknownProvider(t *testing.T) {
	e := NewEngine(readyChecker(), nil)
	if _, err := e.Single(context.Background(), provider.Request{}, "nope"); err == nil {
		t.Error("expected hard error for unknown provider")
	}
}

func TestEngine_Compare_PartialFailure(t *testing.T) {
	failing := &fakeProvider{id: "ollama", err: nil, result: provider.AnalysisResult{Error: "API error 500"}}
	succeeding := &fakeProvider{id: "moondream", result: provider.AnalysisResult{Response: "a scene"}}

	e := NewEngine(readyChecker(), nil)
	e.Register(failing, true)
	e.Register(succeeding, false)

	report, err := e.Compare(context.Background(), provider.Request{Op: provider.OpQuery}, []string{"ollama", "moondream"})
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("expected 2 tagged results, got %d", len(report.Results))
	}
	if report.ID == "" {
		t.Error("expected a correlation id")
	}

	byProvider := map[string]provider.AnalysisResult{}
	for _, r := range report.Results {
		byProvider[r.Provider] = r
	}
	if byProvider["ollama"].Error == "" {
		t.Error("expected failing provider's error in the report")
	}
	if byProvider["moondream"].Error != "" || byProvider["moondream"].Response != "a scene" {
		t.Errorf("expected succeeding provider's result intact, got %+v", byProvider["moondream"])
	}
}

func TestEngine_Compare_SlowBranchDoesNotDelayFastEntry(t *testing.T) {
	slow := &fakeProvider{id: "ollama", delay: 150 * time.Millisecond, result: provider.AnalysisResult{Error: "timed out"}}
	fast := &fakeProvider{id: "moondream", result: provider.AnalysisResult{Response: "quick"}}

	e := NewEngine(readyChecker(), nil)
	e.Register(slow, false)
	e.Register(fast, false)

	report, err := e.Compare(context.Background(), provider.Request{Op: provider.OpQuery}, []string{"ollama", "moondream"})
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if report.TotalTimeMs < slow.elapsed.Load() {
		t.Errorf("total %dms must be >= slowest branch %dms", report.TotalTimeMs, slow.elapsed.Load())
	}

	var fastResult provider.AnalysisResult
	for _, r := range report.Results {
		if r.Provider == "moondream" {
			fastResult = r
		}
	}
	if fastResult.Response != "quick" {
		t.Errorf("fast branch entry missing or altered: %+v", fastResult)
	}
	if fastResult.ProcessingTimeMs >= 100 {
		t.Errorf("fast branch was delayed by the slow one: %dms", fastResult.ProcessingTimeMs)
	}
}

func TestEngine_Compare_HardFailureBecomesReportEntry(t *testing.T) {
	broken := &fakeProvider{id: "ollama", err: errors.New("marshal request: boom")}
	fine := &fakeProvider{id: "moondream", result: provider.AnalysisResult{Response: "ok"}}

	e := NewEngine(readyChecker(), nil)
	e.Register(broken, false)
	e.Register(fine, false)

	report, err := e.Compare(context.Background(), provider.Request{Op: provider.OpQuery}, []string{"ollama", "moondream"})
	if err != nil {
		t.Fatalf("Compare must not raise for a branch failure: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	if report.Results[0].Error == "" {
		t.Error("expected the broken branch to appear as a soft failure")
	}
}

func TestEngine_Compare_UnknownProvider(t *testing.T) {
	e := NewEngine(readyChecker(), nil)
	e.Register(&fakeProvider{id: "ollama"}, false)

	if _, err := e.Compare(context.Background(), provider.Request{}, []string{"ollama", "nope"}); err == nil {
		t.Error("expected hard error for unknown provider in list")
	}
	if _, err := e.Compare(context.Background(), provider.Request{}, nil); err == nil {
		t.Error("expected hard error for empty provider list")
	}
}

func TestEngine_ProviderIDs(t *testing.T) {
	e := NewEngine(readyChecker(), nil)
	e.Register(&fakeProvider{id: "ollama"}, true)
	e.Register(&fakeProvider{id: "moondream"}, false)

	ids := e.ProviderIDs()
	if len(ids) != 2 || ids[0] != "ollama" || ids[1] != "moondream" {
		t.Errorf("unexpected provider ids %v", ids)
	}
}
