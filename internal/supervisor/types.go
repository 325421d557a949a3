package supervisor

import (
	"fmt"
	"time"
)

// ServerStatus is a fresh snapshot of the local inference server, produced on
// every probe and never cached. Error is set when the server is unreachable,
// answered with a non-success status, or the catalog body could not be read.
type ServerStatus struct {
	Running    bool   `json:"running"`
	ModelReady bool   `json:"model_ready"`
	Error      string `json:"error,omitempty"`
}

type Config struct {
	// BaseURL is the well-known local endpoint, e.g. "http://127.0.0.1:11434".
	BaseURL string
	// BindAddr is passed to the spawned server via OLLAMA_HOST.
	BindAddr string
	// DataDir holds the downloaded binary under bin/ and models under models/.
	DataDir string
	// Model is the vision model provisioned by PullModel on startup.
	Model string
	// ReleaseVersion selects the binary download URL.
	ReleaseVersion string
	// DownloadURL overrides the platform release URL when set.
	DownloadURL string
	// SettleDelay is the fixed wait after spawning before Start returns.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:11434"
	}
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1:11434"
	}
	if c.Model == "" {
		c.Model = "llava:7b"
	}
	if c.ReleaseVersion == "" {
		c.ReleaseVersion = "v0.4.7"
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	return c
}

// StartupError reports a hard failure while acquiring or spawning the local
// server binary. A server that is already running is never a StartupError.
type StartupError struct {
	Op  string
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Op, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ModelPullError reports a non-success response from the model-management
// endpoint. Retrying is the caller's decision.
type ModelPullError struct {
	Model  string
	Status int
	Err    error
}

func (e *ModelPullError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pull model %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("pull model %s: status %d", e.Model, e.Status)
}

func (e *ModelPullError) Unwrap() error { return e.Err }
