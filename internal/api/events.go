package api

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/notify"
)

// eventBuffer bounds the events queued for one slow client.
const eventBuffer = 64

// events streams notifier events as server-sent events named "change" until
// the client goes away. An optional topic query parameter narrows the stream.
func (s *Server) events(c *gin.Context) {
	topic := notify.Topic(c.DefaultQuery("topic", string(notify.TopicAll)))

	ch := make(chan notify.Event, eventBuffer)
	cancel := s.bus.Subscribe(topic, func(ev notify.Event) {
		select {
		case ch <- ev:
		default:
			// a dropped event is recovered by the next one; subscribers recompute
			s.log.Warn("sse client lagging, event dropped", zap.String("topic", string(ev.Topic)))
		}
	})
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"topic": topic})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent("change", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
