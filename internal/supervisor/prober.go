package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const probeTimeout = 2 * time.Second

// defaultModelMarkers are the catalog substrings that count as a loaded vision
// model. The /api/tags body format is not stable across server versions, so
// this is a deliberate substring heuristic rather than a schema check.
var defaultModelMarkers = []string{
	"llava:7b",
	"llava:",
	"llama3.2-vision",
	"moondream",
}

// Prober answers liveness and model-readiness questions about the local
// server. It holds no mutable state and never touches the Supervisor's lock,
// so status polling stays responsive while a slow Start or PullModel runs.
type Prober struct {
	baseURL string
	client  *http.Client
	markers []string
}

func NewProber(baseURL string) *Prober {
	return &Prober{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: probeTimeout},
		markers: defaultModelMarkers,
	}
}

// Alive reports whether anything is answering on the version endpoint. Used by
// Start to detect an externally managed instance.
func (p *Prober) Alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CheckStatus probes the catalog endpoint and classifies the reply. The
// classification order is fixed: transport failure, non-success status, then a
// marker scan of the body.
func (p *Prober) CheckStatus(ctx context.Context) ServerStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return ServerStatus{Error: fmt.Sprintf("build status request: %v", err)}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ServerStatus{Error: fmt.Sprintf("server not responding: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ServerStatus{Error: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ServerStatus{Running: true, Error: fmt.Sprintf("read catalog: %v", err)}
	}

	return ServerStatus{Running: true, ModelReady: p.containsMarker(string(body))}
}

func (p *Prober) containsMarker(body string) bool {
	for _, m := range p.markers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}
