package main

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vidsecure/pipeline/internal/middleware"
	"github.com/vidsecure/pipeline/internal/notify"
)

const sseHeartbeat = 15 * time.Second

// Event stream endpoint. Delivers the caller's pipeline events over SSE;
// delivery is at-most-once and clients reconcile through the query API after
// a reconnect.
func (api *API) streamEvents(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	sub := api.hub.Subscribe(userID, notify.DefaultBuffer)
	defer api.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("status", event)
			return true
		case <-heartbeat.C:
			// Comment frames keep intermediaries from closing idle streams.
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
