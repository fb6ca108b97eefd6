package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	eventBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunSource looks up the state of a run.
type RunSource interface {
	GetStatus(ctx context.Context, runID string) (*domain.RunState, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	runs     RunSource
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. The bus must deliver every
// event to every subscriber.
func NewHandler(eventBus ports.EventBus, runs RunSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		runs:     runs,
		logger:   logger,
	}
}

// HandleRunStream streams the run and node events of one run. The
// connection is closed after the run's final event.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	if _, err := h.runs.GetStatus(c.Request.Context(), runID); err != nil {
		status, code := http.StatusInternalServerError, "INTERNAL"
		if errors.Is(err, domain.ErrRunNotFound) {
			status, code = http.StatusNotFound, "RUN_NOT_FOUND"
		}
		c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan domain.Event, eventBuffer)
	if err := h.subscribe(ctx, runID, events); err != nil {
		h.logger.Error("failed to subscribe to events", zap.String("run_id", runID), zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	go readPump(conn, cancel)

	// Checked after subscribing so a run finishing in between is not missed.
	if state, err := h.runs.GetStatus(ctx, runID); err == nil && state.Status.Terminal() {
		if err := writeEvent(conn, finalEvent(state)); err == nil {
			closeWith(conn, websocket.CloseNormalClosure, "run finished")
		}
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := writeEvent(conn, event); err != nil {
				h.logger.Debug("failed to write message", zap.String("run_id", runID), zap.Error(err))
				return
			}
			if finishes(event.Type) {
				closeWith(conn, websocket.CloseNormalClosure, "run finished")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// subscribe forwards the events of runID on both topics to ch until ctx ends.
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- domain.Event) error {
	handler := func(ctx context.Context, event domain.Event) error {
		if event.RunID != runID {
			return nil
		}
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{domain.TopicRunEvents, domain.TopicNodeEvents} {
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

// readPump discards client messages and ends the stream when the client
// goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func finishes(t domain.EventType) bool {
	return t == domain.EventRunCompleted || t == domain.EventRunFailed || t == domain.EventRunCancelled
}

// finalEvent describes an already finished run to a late subscriber.
func finalEvent(state *domain.RunState) domain.Event {
	ts := time.Now()
	if state.CompletedAt != nil {
		ts = *state.CompletedAt
	}
	data := map[string]any{"status": string(state.Status)}
	if state.Error != "" {
		data["error"] = state.Error
	}
	return domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventType("run." + string(state.Status)),
		Timestamp: ts,
		RunID:     state.RunID,
		Data:      data,
	}
}
