package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
)

// ThresholdRequest is the body of start and threshold calls.
type ThresholdRequest struct {
	ThresholdMs *uint64 `json:"threshold_ms" binding:"required"`
}

// AutostartRequest is the body of PUT /autostart.
// ThresholdMs defaults to the filter's current threshold.
type AutostartRequest struct {
	Enabled     *bool   `json:"enabled" binding:"required"`
	ThresholdMs *uint64 `json:"threshold_ms,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	FilterSupported bool   `json:"filter_supported"`
}

// ErrorResponse wraps every error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail mirrors the FilterError JSON form.
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

func errorBody(name, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Name: name, Message: message}}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         s.opts.Version,
		FilterSupported: s.opts.FilterSupported,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	var req ThresholdRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "start")(s.svc.Start(*req.ThresholdMs))
}

func (s *Server) handleStop(c *gin.Context) {
	s.respond(c, "stop")(s.svc.Stop())
}

func (s *Server) handleThreshold(c *gin.Context) {
	var req ThresholdRequest
	if !bindJSON(c, &req) {
		return
	}
	s.respond(c, "update threshold")(s.svc.UpdateThreshold(*req.ThresholdMs))
}

func (s *Server) handleAutostartStatus(c *gin.Context) {
	if s.autostart == nil {
		s.writeError(c, domain.ErrUnsupported)
		return
	}
	c.JSON(http.StatusOK, s.autostart.Status())
}

func (s *Server) handleAutostartSet(c *gin.Context) {
	if s.autostart == nil {
		s.writeError(c, domain.ErrUnsupported)
		return
	}
	var req AutostartRequest
	if !bindJSON(c, &req) {
		return
	}

	var err error
	if *req.Enabled {
		threshold := s.svc.Status().ThresholdMs
		if req.ThresholdMs != nil {
			threshold = *req.ThresholdMs
		}
		err = s.autostart.Enable(threshold)
	} else {
		err = s.autostart.Disable()
	}
	if err != nil {
		s.logger.Warn("autostart change failed", zap.Bool("enabled", *req.Enabled), zap.Error(err))
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.autostart.Status())
}

// respond writes the status of a filter command or its error.
func (s *Server) respond(c *gin.Context, op string) func(domain.FilterStatus, error) {
	return func(status domain.FilterStatus, err error) {
		if err != nil {
			s.logger.Info("filter command failed", zap.String("op", op), zap.Error(err))
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	var fe *domain.FilterError
	if !errors.As(err, &fe) {
		c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
		return
	}
	c.JSON(statusFor(fe.Kind), ErrorResponse{Error: ErrorDetail{Name: string(fe.Kind), Message: fe.Message}})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAlreadyRunning, domain.KindNotRunning:
		return http.StatusConflict
	case domain.KindUnsupported:
		return http.StatusNotImplemented
	case domain.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("badRequest", err.Error()))
		return false
	}
	return true
}

// handleEvents streams notifications over a websocket. The first message
// is the current status.
func (s *Server) handleEvents(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	sub := s.hub.Subscribe(s.opts.SubscriberBuffer)
	defer sub.Close()
	logger := s.logger.With(zap.String("subscriber", sub.ID))
	logger.Info("event stream opened")
	defer logger.Info("event stream closed")

	snapshot := notify.Notification{Event: notify.EventStatusChanged, Payload: s.svc.Status(), At: time.Now()}
	if err := s.write(ws, snapshot); err != nil {
		return
	}

	// Inbound frames are ignored; reading surfaces the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.write(ws, n); err != nil {
				logger.Debug("event write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ws *websocket.Conn, n notify.Notification) error {
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteJSON(n)
}
