package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/supervisor"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait       = 10 * time.Second
	defaultInterval = 2 * time.Second
)

// StatusChecker is satisfied by supervisor.Prober.
type StatusChecker interface {
	CheckStatus(ctx context.Context) supervisor.ServerStatus
}

// Stream pushes live local-server status snapshots over a websocket so the
// shell can render readiness without polling the status endpoint.
type Stream struct {
	checker  StatusChecker
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewStream(checker StatusChecker, interval time.Duration, logger *slog.Logger) *Stream {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		checker:  checker,
		interval: interval,
		logger:   logger.With("component", "realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades the connection and streams one status snapshot immediately,
// then one per interval, until the client goes away.
func (s *Stream) Handle(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Drain the read side so close frames are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.push(ctx, ws); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.push(ctx, ws); err != nil {
				s.logger.Debug("status stream closed", "error", err)
				return nil
			}
		}
	}
}

func (s *Stream) push(ctx context.Context, ws *websocket.Conn) error {
	status := s.checker.CheckStatus(ctx)
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(status)
}
