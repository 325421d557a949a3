package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultMoondreamBaseURL = "https://api.moondream.ai/v1"

	// Longer than the local default to tolerate network latency.
	moondreamDefaultTimeout = 60 * time.Second
)

type MoondreamConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Moondream analyzes frames against the hosted cloud API. Each operation has
// its own endpoint and response shape; all are normalized into AnalysisResult
// at this boundary. A missing API key degrades calls to authentication
// failures surfaced as soft errors, never a construction failure.
type Moondream struct {
	client  *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewMoondream(cfg MoondreamConfig, logger *slog.Logger) *Moondream {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMoondreamBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = moondreamDefaultTimeout
	}

	return &Moondream{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		logger:  logger.With("provider", "moondream"),
	}
}

func (m *Moondream) ID() string { return "moondream" }

func (m *Moondream) Analyze(ctx context.Context, req Request) (AnalysisResult, error) {
	start := time.Now()

	path, payload := m.payload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(req, m.timeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Moondream-Auth", m.apiKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return softFailure(m.ID(), time.Since(start), fmt.Sprintf("request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return softFailure(m.ID(), time.Since(start),
			fmt.Sprintf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))), nil
	}

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return softFailure(m.ID(), time.Since(start), fmt.Sprintf("malformed response: %v", err)), nil
	}

	elapsed := time.Since(start)
	m.logger.Debug("analysis complete", "op", string(req.Op), "elapsed_ms", elapsed.Milliseconds())

	return m.normalize(req, parsed, elapsed), nil
}

func (m *Moondream) payload(req Request) (string, map[string]any) {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(req.Image)

	switch req.Op {
	case OpCaption:
		return "/caption", map[string]any{
			"image_url": imageURL,
			"length":    captionLength(req),
			"stream":    false,
		}
	case OpDetect:
		return "/detect", map[string]any{
			"image_url": imageURL,
			"object":    req.Object,
			"stream":    false,
		}
	case OpPoint:
		return "/point", map[string]any{
			"image_url": imageURL,
			"object":    req.Object,
			"stream":    false,
		}
	default:
		return "/query", map[string]any{
			"image_url": imageURL,
			"question":  req.Prompt,
			"stream":    false,
		}
	}
}

func (m *Moondream) normalize(req Request, parsed map[string]any, elapsed time.Duration) AnalysisResult {
	result := AnalysisResult{
		Provider:         m.ID(),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}

	switch req.Op {
	case OpCaption:
		caption, _ := parsed["caption"].(string)
		result.Response = caption
	case OpDetect:
		objects := parsed["objects"]
		result.StructuredData = map[string]any{"objects": objects}
		result.Response = summarize("Detected objects", objects)
	case OpPoint:
		result.StructuredData = parsed
		result.Response = summarize("Object coordinates", parsed)
	default:
		answer, _ := parsed["answer"].(string)
		result.Response = answer
		result.StructuredData = extractJSON(answer)
		if confidence, ok := parsed["confidence"].(float64); ok {
			result.Confidence = &confidence
		}
	}

	return result
}
