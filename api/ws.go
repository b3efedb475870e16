package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/Papyszoo/Modelibr-sub004/stream"
)

// handleNotificationsWS upgrades to a WebSocket and pushes the asset's
// status transitions until the peer disconnects. The wire format is
// negotiated with ?format=json|msgpack (JSON default).
func (s *Server) handleNotificationsWS(c *gin.Context) {
	assetID, ok := parseAssetID(c)
	if !ok {
		return
	}
	if s.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications disabled"})
		return
	}

	codec := stream.GetCodec(c.Query("format"))
	opcode := ws.OpText
	if codec.Name() == stream.CodecNameMsgpack {
		opcode = ws.OpBinary
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		// UpgradeHTTP already wrote the handshake error.
		return
	}

	subID := "ws-" + uuid.NewString()
	sub := s.broker.Subscribe(subID, stream.AssetTopic(assetID))

	done := make(chan struct{})

	// Reader goroutine: detects disconnect and applies flow-control
	// grants so a long-lived draining client keeps receiving.
	go func() {
		defer close(done)
		for {
			data, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			frame, err := codec.Decode(data)
			if err != nil || frame.Credits <= 0 {
				continue
			}
			sub.AddCredits(frame.Credits)
		}
	}()

	go func() {
		defer func() {
			s.broker.RemoveSubscriber(subID)
			_ = conn.Close()
		}()
		for {
			select {
			case <-done:
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				data, err := codec.Encode(evt)
				if err != nil {
					s.logger.Warn("encoding notification",
						slog.String("codec", codec.Name()),
						slog.String("error", err.Error()))
					continue
				}
				if err := wsutil.WriteServerMessage(conn, opcode, data); err != nil {
					return
				}
			}
		}
	}()
}

// handleNotificationsSSE is the fallback for clients that cannot speak
// WebSocket. Always JSON.
func (s *Server) handleNotificationsSSE(c *gin.Context) {
	assetID, ok := parseAssetID(c)
	if !ok {
		return
	}
	if s.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications disabled"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	subID := "sse-" + uuid.NewString()
	sub := s.broker.Subscribe(subID, stream.AssetTopic(assetID))
	defer s.broker.RemoveSubscriber(subID)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(c.Writer, evt); err != nil {
				return
			}
			flusher.Flush()
			// SSE has no inbound channel for credit grants; every
			// delivered frame restores its credit so the window
			// stays constant for a draining client.
			sub.AddCredits(1)
		}
	}
}

func writeSSE(w io.Writer, evt *stream.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}
