package analysis

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/dispatch"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/frames"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/history"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/shared"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/labstack/echo/v4"
)

// Handler exposes the supervision and dispatch surface over HTTP. Expected
// backend failures ride inside the result payloads; HTTP error statuses are
// reserved for malformed requests and infrastructure faults.
type Handler struct {
	sup     *supervisor.Supervisor
	engine  *dispatch.Engine
	frames  *frames.Store
	history *history.Store
	logger  *slog.Logger
}

func NewHandler(sup *supervisor.Supervisor, engine *dispatch.Engine, frameStore *frames.Store, historyStore *history.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sup:     sup,
		engine:  engine,
		frames:  frameStore,
		history: historyStore,
		logger:  logger.With("component", "analysis"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/server/start", h.StartServer)
	g.GET("/server/status", h.ServerStatus)
	g.POST("/server/stop", h.StopServer)

	g.POST("/analyze", h.Analyze)
	g.POST("/compare", h.Compare)

	g.POST("/sessions/:id/frames", h.PushFrame)
	g.GET("/history", h.History)
	g.GET("/comparisons/:id", h.GetComparison)
}

// StartServer brings up the local server and provisions the configured model.
// Safe to call repeatedly; an already-running server short-circuits.
func (h *Handler) StartServer(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.sup.Start(ctx); err != nil {
		h.logger.Error("local server start failed", "error", err)
		return shared.InternalError("server_start_failed", err.Error())
	}

	if err := h.sup.PullModel(ctx, h.sup.Model()); err != nil {
		h.logger.Error("model pull failed", "model", h.sup.Model(), "error", err)
		return shared.InternalError("model_pull_failed", err.Error())
	}

	return c.JSON(http.StatusOK, StartServerResponse{
		Status: h.sup.Prober().CheckStatus(ctx),
		Model:  h.sup.Model(),
	})
}

// ServerStatus probes the local server live; nothing is cached.
func (h *Handler) ServerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sup.Prober().CheckStatus(c.Request().Context()))
}

func (h *Handler) StopServer(c echo.Context) error {
	h.sup.Stop()
	return c.JSON(http.StatusOK, map[string]any{"stopped": true})
}

// Analyze dispatches one frame to one provider. Backend-side failures come
// back inside the result with HTTP 200; only malformed requests get 4xx.
func (h *Handler) Analyze(c echo.Context) error {
	var body AnalyzeRequest
	if err := c.Bind(&body); err != nil {
		return shared.BadRequest("invalid_request", "Invalid request body")
	}

	req, httpErr := h.buildRequest(c, body.Op, body.ImageBase64, body.SessionID, body.Prompt, body.Length, body.Object, body.TimeoutMs)
	if httpErr != nil {
		return httpErr
	}

	providerID := body.Provider
	if providerID == "" {
		providerID = "ollama"
	}

	res, err := h.engine.Single(c.Request().Context(), req, providerID)
	if err != nil {
		return shared.BadRequest("unknown_provider", err.Error())
	}

	if h.history != nil {
		if _, err := h.history.SaveResult(c.Request().Context(), body.SessionID, req.Op, body.Trigger, res); err != nil {
			h.logger.Warn("failed to persist analysis", "error", err)
		}
	}

	return c.JSON(http.StatusOK, res)
}

// Compare dispatches one frame to several providers concurrently and returns
// the full report. An empty provider list means every registered provider.
func (h *Handler) Compare(c echo.Context) error {
	var body CompareRequest
	if err := c.Bind(&body); err != nil {
		return shared.BadRequest("invalid_request", "Invalid request body")
	}

	req, httpErr := h.buildRequest(c, body.Op, body.ImageBase64, body.SessionID, body.Prompt, body.Length, body.Object, body.TimeoutMs)
	if httpErr != nil {
		return httpErr
	}

	providerIDs := body.Providers
	if len(providerIDs) == 0 {
		providerIDs = h.engine.ProviderIDs()
	}

	report, err := h.engine.Compare(c.Request().Context(), req, providerIDs)
	if err != nil {
		return shared.BadRequest("unknown_provider", err.Error())
	}

	if h.history != nil {
		if err := h.history.SaveReport(c.Request().Context(), body.SessionID, req.Op, body.Trigger, report); err != nil {
			h.logger.Warn("failed to persist comparison", "error", err)
		}
	}

	return c.JSON(http.StatusOK, report)
}

// PushFrame stores one encoded frame in the session's sliding window so a
// later analyze call can reference it by session instead of re-uploading.
func (h *Handler) PushFrame(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return shared.BadRequest("missing_session", "Session id is required")
	}
	if h.frames == nil {
		return shared.InternalError("frames_unavailable", "Frame storage is not configured")
	}

	var body PushFrameRequest
	if err := c.Bind(&body); err != nil {
		return shared.BadRequest("invalid_request", "Invalid request body")
	}

	data, err := base64.StdEncoding.DecodeString(body.ImageBase64)
	if err != nil || len(data) == 0 {
		return shared.BadRequest("invalid_image", "image_base64 must be non-empty base64")
	}

	ts := body.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	frame := &frames.Frame{
		SessionID: sessionID,
		Timestamp: ts,
		Data:      data,
		Width:     body.Width,
		Height:    body.Height,
	}
	if err := h.frames.StoreFrame(c.Request().Context(), frame); err != nil {
		h.logger.Error("failed to store frame", "session_id", sessionID, "error", err)
		return shared.InternalError("frame_store_failed", "Failed to store frame")
	}

	return c.JSON(http.StatusOK, map[string]any{"stored": true, "timestamp": ts})
}

// History returns recent analyses, newest first, optionally scoped to one
// session via ?session_id= and capped via ?limit=.
func (h *Handler) History(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return shared.BadRequest("invalid_limit", "limit must be a non-negative integer")
		}
		limit = n
	}

	rows, err := h.history.Recent(c.Request().Context(), c.QueryParam("session_id"), limit)
	if err != nil {
		h.logger.Error("failed to load history", "error", err)
		return shared.InternalError("history_failed", "Failed to load history")
	}

	return c.JSON(http.StatusOK, map[string]any{"analyses": rows, "count": len(rows)})
}

func (h *Handler) GetComparison(c echo.Context) error {
	cmp, rows, err := h.history.GetComparison(c.Request().Context(), c.Param("id"))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("comparison_not_found", "Comparison not found")
	}
	if err != nil {
		h.logger.Error("failed to load comparison", "error", err)
		return shared.InternalError("comparison_failed", "Failed to load comparison")
	}

	return c.JSON(http.StatusOK, map[string]any{"comparison": cmp, "results": rows})
}

// buildRequest validates the shared analysis fields and resolves the frame
// bytes, either inline base64 or the session's latest stored frame.
func (h *Handler) buildRequest(c echo.Context, op, imageB64, sessionID, prompt, length, object string, timeoutMs int64) (provider.Request, *echo.HTTPError) {
	if op == "" {
		op = string(provider.OpQuery)
	}
	parsedOp := provider.Op(op)
	if !parsedOp.Valid() {
		return provider.Request{}, shared.BadRequest("invalid_op", "op must be one of query, caption, detect, point")
	}

	image, httpErr := h.resolveImage(c, imageB64, sessionID)
	if httpErr != nil {
		return provider.Request{}, httpErr
	}

	return provider.Request{
		Op:      parsedOp,
		Image:   image,
		Prompt:  prompt,
		Length:  length,
		Object:  object,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	}, nil
}

func (h *Handler) resolveImage(c echo.Context, imageB64, sessionID string) ([]byte, *echo.HTTPError) {
	if imageB64 != "" {
		data, err := base64.StdEncoding.DecodeString(imageB64)
		if err != nil {
			return nil, shared.BadRequest("invalid_image", "image_base64 is not valid base64")
		}
		return data, nil
	}

	if sessionID != "" {
		if h.frames == nil {
			return nil, shared.InternalError("frames_unavailable", "Frame storage is not configured")
		}
		frame, err := h.frames.GetLatestFrame(c.Request().Context(), sessionID)
		if err != nil {
			h.logger.Error("failed to load frame", "session_id", sessionID, "error", err)
			return nil, shared.InternalError("frame_load_failed", "Failed to load latest frame")
		}
		if frame == nil {
			return nil, shared.NotFound("no_frame", "No frame stored for session")
		}
		return frame.Data, nil
	}

	return nil, shared.BadRequest("missing_image", "Either image_base64 or session_id is required")
}
