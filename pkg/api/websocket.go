// pkg/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"audio-transcriber/pkg/models"
	"audio-transcriber/pkg/storage"

	"github.com/gorilla/websocket"
)

const pollInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketMessage struct {
	Type        string          `json:"type"`
	JobID       string          `json:"job_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	ChunksTotal int             `json:"chunks_total,omitempty"`
	ChunksDone  int             `json:"chunks_done,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg WebSocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// WebSocketHandler streams job progress. Clients send
// {"type":"subscribe","job_id":"..."} and receive status_update messages
// until job_complete or job_failed.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}
	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "subscribe":
			h.handleSubscribe(ctx, c, &msg)
		case "cancel":
			h.handleCancel(c, &msg)
		case "ping":
			c.send(WebSocketMessage{Type: "pong"})
		default:
			c.send(WebSocketMessage{
				Type:  "error",
				Error: "Unknown message type",
			})
		}
	}
}

func (h *Handlers) handleSubscribe(ctx context.Context, c *wsConn, msg *WebSocketMessage) {
	if msg.JobID == "" {
		c.send(WebSocketMessage{Type: "error", Error: "job_id is required"})
		return
	}
	if _, err := h.manager.Job(msg.JobID); err != nil {
		c.send(WebSocketMessage{Type: "error", JobID: msg.JobID, Error: err.Error()})
		return
	}

	c.send(WebSocketMessage{Type: "subscribed", JobID: msg.JobID})
	go h.monitorJob(ctx, c, msg.JobID)
}

func (h *Handlers) handleCancel(c *wsConn, msg *WebSocketMessage) {
	if err := h.manager.Cancel(msg.JobID); err != nil {
		c.send(WebSocketMessage{Type: "error", JobID: msg.JobID, Error: err.Error()})
		return
	}
	c.send(WebSocketMessage{Type: "cancelling", JobID: msg.JobID})
}

func (h *Handlers) monitorJob(ctx context.Context, c *wsConn, jobID string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	type progress struct {
		status      models.JobStatus
		total, done int
	}
	var last progress
	for {
		job, err := h.manager.Job(jobID)
		if err != nil {
			if !errors.Is(err, storage.ErrJobNotFound) {
				c.send(WebSocketMessage{Type: "error", JobID: jobID, Error: err.Error()})
			}
			return
		}

		if now := (progress{job.Status, job.ChunksTotal, job.ChunksDone}); now != last {
			err := c.send(WebSocketMessage{
				Type:        "status_update",
				JobID:       jobID,
				Status:      string(job.Status),
				ChunksTotal: job.ChunksTotal,
				ChunksDone:  job.ChunksDone,
			})
			if err != nil {
				return
			}
			last = now
		}

		switch job.Status {
		case models.JobCompleted, models.JobPartial:
			log.Printf("WS: Job %s finished with status %s", jobID, job.Status)
			c.send(WebSocketMessage{
				Type:   "job_complete",
				JobID:  jobID,
				Status: string(job.Status),
				Data:   mustMarshal(job.Transcript),
				Error:  job.Error,
			})
			return
		case models.JobFailed, models.JobCancelled:
			log.Printf("WS: Job %s ended: %s", jobID, job.Error)
			c.send(WebSocketMessage{
				Type:   "job_failed",
				JobID:  jobID,
				Status: string(job.Status),
				Error:  job.Error,
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
