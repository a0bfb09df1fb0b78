package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/progress"
)

// DefaultKeepAlive is the comment interval on idle progress streams
const DefaultKeepAlive = 30 * time.Second

// ProgressHandler streams tracker state to observers and aborts jobs
type ProgressHandler struct {
	trackers  map[progress.Kind]*progress.Tracker
	keepAlive time.Duration
}

// NewProgressHandler creates a ProgressHandler over the given trackers
func NewProgressHandler(keepAlive time.Duration, trackers ...*progress.Tracker) *ProgressHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	byKind := make(map[progress.Kind]*progress.Tracker, len(trackers))
	for _, t := range trackers {
		byKind[t.Kind()] = t
	}
	return &ProgressHandler{
		trackers:  byKind,
		keepAlive: keepAlive,
	}
}

// Stream returns an SSE handler for one job kind. The current state is sent
// immediately, then one event per change.
// GET /api/progress, GET /api/extraction/progress
func (h *ProgressHandler) Stream(kind progress.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker, ok := h.trackers[kind]
		if !ok {
			respondError(c, http.StatusNotFound, CodeNotFound, "Unknown job kind")
			return
		}

		ctx := c.Request.Context()
		updates, unsubscribe := tracker.Subscribe(ctx)
		defer unsubscribe()

		c.Header("Content-Type", sse.ContentType)
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case state, ok := <-updates:
				if !ok {
					return false
				}
				c.Render(-1, sse.Event{Data: state})
				return true
			case <-keepAlive.C:
				_, err := io.WriteString(w, ": keep-alive\n\n")
				return err == nil
			}
		})
	}
}

// GetState returns the current state of one job kind
// GET /api/jobs/:kind
func (h *ProgressHandler) GetState(c *gin.Context) {
	tracker, ok := h.trackers[progress.Kind(c.Param("kind"))]
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, "Unknown job kind")
		return
	}
	respondOK(c, http.StatusOK, tracker.Snapshot())
}

// Abort cancels the running job of one kind
// POST /api/jobs/:kind/abort
func (h *ProgressHandler) Abort(c *gin.Context) {
	tracker, ok := h.trackers[progress.Kind(c.Param("kind"))]
	if !ok {
		respondError(c, http.StatusNotFound, CodeNotFound, "Unknown job kind")
		return
	}
	if !tracker.Abort() {
		respondError(c, http.StatusConflict, CodeConflict, "No job is running")
		return
	}
	respondOK(c, http.StatusOK, tracker.Snapshot())
}
