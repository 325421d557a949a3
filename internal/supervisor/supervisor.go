package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const releaseURLBase = "https://github.com/ollama/ollama/releases/download"

// Supervisor owns the local inference server's process lifecycle. It holds at
// most one live child handle; Start, Stop and PullModel serialize on the
// mutex, while status probing goes through the lock-free Prober.
type Supervisor struct {
	cfg    Config
	prober *Prober
	logger *slog.Logger

	// No client-level timeout: binary downloads and model pulls are long
	// transfers, bounded by the caller's context instead.
	client *http.Client

	mu  sync.Mutex
	cmd *exec.Cmd
}

func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Supervisor{
		cfg:    cfg,
		prober: NewProber(cfg.BaseURL),
		logger: logger.With("component", "supervisor"),
		client: &http.Client{},
	}
}

func (s *Supervisor) Prober() *Prober { return s.prober }

func (s *Supervisor) Model() string { return s.cfg.Model }

// Start brings up the local server. It is idempotent: a held process handle or
// an externally managed instance answering the version endpoint both count as
// success without spawning. Otherwise the binary is downloaded if absent and
// spawned with the models directory and bind address in its environment.
// Start returns after a fixed settle delay; callers needing a stronger
// guarantee poll CheckStatus afterwards.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	if s.prober.Alive(ctx) {
		s.logger.Info("local server already running, using existing instance")
		return nil
	}

	bin, err := s.ensureBinary(ctx)
	if err != nil {
		return err
	}

	modelsDir := s.modelsDir()
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return &StartupError{Op: "create models dir", Err: err}
	}

	cmd := exec.Command(bin, "serve")
	cmd.Env = append(os.Environ(),
		"OLLAMA_MODELS="+modelsDir,
		"OLLAMA_HOST="+s.cfg.BindAddr,
	)

	if err := cmd.Start(); err != nil {
		return &StartupError{Op: "spawn", Err: err}
	}
	s.cmd = cmd
	go func() { _ = cmd.Wait() }()

	s.logger.Info("local server spawned", "pid", cmd.Process.Pid, "bind", s.cfg.BindAddr)

	// Give the server time to bind its socket before callers start probing.
	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Stop kills the held process if any. It is safe to call repeatedly and never
// fails; killing an already-exited process is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			s.logger.Debug("kill local server", "error", err)
		}
	}
	s.cmd = nil
}

// PullModel provisions a model on the running server. A model whose manifest
// already exists on disk short-circuits without a network request. There are
// no automatic retries; retry policy belongs to the caller.
func (s *Supervisor) PullModel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.manifestPath(name)); err == nil {
		s.logger.Info("model already present", "model", name)
		return nil
	}

	body, err := json.Marshal(map[string]any{"name": name, "stream": false})
	if err != nil {
		return &ModelPullError{Model: name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return &ModelPullError{Model: name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Info("pulling model", "model", name)
	resp, err := s.client.Do(req)
	if err != nil {
		return &ModelPullError{Model: name, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ModelPullError{Model: name, Status: resp.StatusCode}
	}

	s.logger.Info("model pulled", "model", name)
	return nil
}

func (s *Supervisor) modelsDir() string {
	return filepath.Join(s.cfg.DataDir, "models")
}

// manifestPath mirrors the server's on-disk manifest layout, with the model
// tag mapped to a path component ("llava:7b" -> library/llava/7b).
func (s *Supervisor) manifestPath(name string) string {
	model, tag := name, "latest"
	if i := strings.IndexByte(name, ':'); i >= 0 {
		model, tag = name[:i], name[i+1:]
	}
	return filepath.Join(s.modelsDir(), "manifests", "registry.ollama.ai", "library", model, tag)
}

func (s *Supervisor) binaryPath() string {
	name := "ollama"
	if runtime.GOOS == "windows" {
		name = "ollama.exe"
	}
	return filepath.Join(s.cfg.DataDir, "bin", name)
}

func (s *Supervisor) downloadURL() string {
	if s.cfg.DownloadURL != "" {
		return s.cfg.DownloadURL
	}

	var asset string
	switch runtime.GOOS {
	case "darwin":
		asset = "ollama-darwin"
	case "windows":
		asset = "ollama-windows-amd64.exe"
	default:
		if runtime.GOARCH == "arm64" {
			asset = "ollama-linux-arm64"
		} else {
			asset = "ollama-linux-amd64"
		}
	}
	return fmt.Sprintf("%s/%s/%s", releaseURLBase, s.cfg.ReleaseVersion, asset)
}

// ensureBinary returns the path to the server binary, downloading it from the
// platform release URL on first use and marking it executable.
func (s *Supervisor) ensureBinary(ctx context.Context) (string, error) {
	path := s.binaryPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &StartupError{Op: "create bin dir", Err: err}
	}

	url := s.downloadURL()
	s.logger.Info("downloading local server binary", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &StartupError{Op: "build download request", Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &StartupError{Op: "download binary", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StartupError{Op: "download binary", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "ollama-*")
	if err != nil {
		return "", &StartupError{Op: "create binary file", Err: err}
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &StartupError{Op: "write binary", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &StartupError{Op: "write binary", Err: err}
	}

	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return "", &StartupError{Op: "mark executable", Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", &StartupError{Op: "install binary", Err: err}
	}

	return path, nil
}
