package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamForwardOptions tunes ForwardStream.
type StreamForwardOptions struct {
	// KeepAliveInterval overrides the configured keep-alive interval.
	// If nil, the configured default is used. If set to <= 0, keep-alives are disabled.
	KeepAliveInterval *time.Duration

	// WriteChunk writes a single data chunk to the response body. It should not flush.
	WriteChunk func(chunk []byte)
}

// ForwardStream copies data to the client, flushing after every write, until
// data closes or the client goes away. Idle periods are filled with SSE
// comments. cancel is called exactly once with the reason the stream ended.
func (h *BaseAPIHandler) ForwardStream(c *gin.Context, flusher http.Flusher, cancel func(error), data <-chan []byte, opts StreamForwardOptions) {
	if c == nil || cancel == nil {
		return
	}

	writeChunk := opts.WriteChunk
	if writeChunk == nil {
		writeChunk = func([]byte) {}
	}

	keepAliveInterval := StreamingKeepAliveInterval(h.Cfg)
	if opts.KeepAliveInterval != nil {
		keepAliveInterval = *opts.KeepAliveInterval
	}
	var keepAliveC <-chan time.Time
	if keepAliveInterval > 0 {
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		keepAliveC = keepAlive.C
	}

	for {
		select {
		case <-c.Request.Context().Done():
			cancel(c.Request.Context().Err())
			return
		case chunk, ok := <-data:
			if !ok {
				flusher.Flush()
				cancel(nil)
				return
			}
			writeChunk(chunk)
			flusher.Flush()
		case <-keepAliveC:
			_, _ = c.Writer.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		}
	}
}
