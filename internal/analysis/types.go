package analysis

import (
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/shared"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
)

type AnalyzeRequest struct {
	Op       string `json:"op"`
	Provider string `json:"provider"`

	// Either an inline frame or a session whose latest stored frame is used.
	ImageBase64 string `json:"image_base64,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	Prompt    string `json:"prompt,omitempty"`
	Length    string `json:"length,omitempty"`
	Object    string `json:"object,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`

	Trigger *shared.TriggerSignal `json:"trigger,omitempty"`
}

type CompareRequest struct {
	Op        string   `json:"op"`
	Providers []string `json:"providers"`

	ImageBase64 string `json:"image_base64,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	Prompt    string `json:"prompt,omitempty"`
	Length    string `json:"length,omitempty"`
	Object    string `json:"object,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`

	Trigger *shared.TriggerSignal `json:"trigger,omitempty"`
}

type PushFrameRequest struct {
	Timestamp   int64  `json:"timestamp"`
	ImageBase64 string `json:"image_base64"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type StartServerResponse struct {
	Status supervisor.ServerStatus `json:"status"`
	Model  string                  `json:"model"`
}
