// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 10:12:03 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, matching the CORS middleware
	},
}

// WSMessage is the envelope written to event stream clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// JobEventsHandler streams the transitions and steps of one job over a WebSocket.
// The stream starts with the current snapshot and closes after the terminal status.
type JobEventsHandler struct {
	service      JobService
	eventService interfaces.EventService
	logger       arbor.ILogger
}

func NewJobEventsHandler(service JobService, eventService interfaces.EventService, logger arbor.ILogger) *JobEventsHandler {
	return &JobEventsHandler{
		service:      service,
		eventService: eventService,
		logger:       logger,
	}
}

// HandleJobEvents serves GET /api/v1/jobs/{id}/events
func (h *JobEventsHandler) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	segments := JobPathSegments(r.URL.Path)
	if len(segments) != 2 || segments[1] != "events" {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	jobID := segments[0]

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Subscribe before upgrading so no transition between snapshot and stream is lost
	messages := make(chan WSMessage, wsBuffer)
	unsubscribeStatus := h.eventService.Subscribe(interfaces.EventJobStatusChanged, h.forward(jobID, messages))
	unsubscribeSteps := h.eventService.Subscribe(interfaces.EventJobStep, h.forward(jobID, messages))
	defer unsubscribeStatus()
	defer unsubscribeSteps()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	logger := h.logger.WithCorrelationId(jobID)
	logger.Debug().Msg("Job event stream opened")

	// Re-read so a transition that raced the upgrade is reflected in the snapshot
	if latest, err := h.service.GetJob(r.Context(), jobID); err == nil {
		job = latest
	}
	if err := h.write(conn, WSMessage{Type: "snapshot", Payload: job}); err != nil {
		return
	}
	if job.Status.IsTerminal() {
		h.close(conn, "job finished")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Job event stream closed by client")
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg := <-messages:
			if err := h.write(conn, msg); err != nil {
				logger.Debug().Err(err).Msg("Failed to write job event")
				return
			}
			if event, ok := msg.Payload.(models.JobEvent); ok && event.Status.IsTerminal() {
				h.close(conn, "job finished")
				return
			}
		}
	}
}

// forward queues events of jobID without ever blocking the publisher
func (h *JobEventsHandler) forward(jobID string, messages chan<- WSMessage) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var msg WSMessage
		switch payload := event.Payload.(type) {
		case models.JobEvent:
			if payload.JobID != jobID {
				return nil
			}
			msg = WSMessage{Type: "status", Payload: payload}
		case models.JobStepEvent:
			if payload.JobID != jobID {
				return nil
			}
			msg = WSMessage{Type: "step", Payload: payload}
		default:
			return nil
		}

		select {
		case messages <- msg:
		default:
			h.logger.Warn().Str("job_id", jobID).Str("type", msg.Type).Msg("Job event stream full, dropping event")
		}
		return nil
	}
}

func (h *JobEventsHandler) write(conn *websocket.Conn, msg WSMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

func (h *JobEventsHandler) close(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}

// readPump discards client frames and cancels the stream when the client goes away
func (h *JobEventsHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}
