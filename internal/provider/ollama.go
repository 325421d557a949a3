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
	// Interactive default for the locally hosted server.
	ollamaDefaultTimeout = 30 * time.Second

	defaultQueryPrompt = "Describe what you see in this image in 2-3 sentences. Focus on the main subjects and activities."
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama analyzes frames against the supervised local server's generate
// endpoint. All four operations go through the same endpoint; detect and
// point steer the model toward a JSON reply that is then normalized.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = ollamaDefaultTimeout
	}

	return &Ollama{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.With("provider", "ollama"),
	}
}

func (o *Ollama) ID() string { return "ollama" }

type ollamaRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Images    []string       `json:"images,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
	NumThread   int     `json:"num_thread"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *Ollama) Analyze(ctx context.Context, req Request) (AnalysisResult, error) {
	start := time.Now()

	genReq := ollamaRequest{
		Model:     o.model,
		Prompt:    o.prompt(req),
		Images:    []string{base64.StdEncoding.EncodeToString(req.Image)},
		Stream:    false,
		KeepAlive: "5m",
		Options: &ollamaOptions{
			Temperature: 0.3,
			NumPredict:  200,
			NumCtx:      2048,
			NumThread:   4,
		},
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(req, o.timeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return softFailure(o.ID(), time.Since(start), fmt.Sprintf("request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return softFailure(o.ID(), time.Since(start),
			fmt.Sprintf("generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))), nil
	}

	var genResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return softFailure(o.ID(), time.Since(start), fmt.Sprintf("malformed response: %v", err)), nil
	}

	elapsed := time.Since(start)
	o.logger.Debug("analysis complete", "op", string(req.Op), "elapsed_ms", elapsed.Milliseconds())

	return o.normalize(req, genResp.Response, elapsed), nil
}

func (o *Ollama) prompt(req Request) string {
	switch req.Op {
	case OpCaption:
		switch captionLength(req) {
		case "short":
			return "Describe this image in one short sentence."
		case "long":
			return "Describe this image in detail: the setting, every person and object, and any visible text or activity."
		default:
			return defaultQueryPrompt
		}
	case OpDetect:
		return fmt.Sprintf(`Locate every instance of "%s" in this image. Respond with only JSON in the form {"objects":[{"label":"%s","bbox":{"x":0,"y":0,"width":0,"height":0}}]} using coordinates normalized to [0,1].`, req.Object, req.Object)
	case OpPoint:
		return fmt.Sprintf(`Find "%s" in this image. Respond with only JSON in the form {"points":[{"x":0.5,"y":0.5}]} using coordinates normalized to [0,1].`, req.Object)
	default:
		if req.Prompt == "" {
			return defaultQueryPrompt
		}
		return req.Prompt
	}
}

func (o *Ollama) normalize(req Request, text string, elapsed time.Duration) AnalysisResult {
	result := AnalysisResult{
		Provider:         o.ID(),
		Response:         text,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}

	switch req.Op {
	case OpQuery:
		result.StructuredData = extractJSON(text)
	case OpDetect:
		if data := extractJSON(text); data != nil {
			result.StructuredData = data
			result.Response = summarize("Detected objects", data)
		}
	case OpPoint:
		if data := extractJSON(text); data != nil {
			result.StructuredData = data
			result.Response = summarize("Object coordinates", data)
		}
	}

	return result
}
