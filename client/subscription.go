package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Papyszoo/Modelibr-sub004/stream"
)

// Subscription is a live WebSocket feed of an asset's thumbnail status
// transitions.
type Subscription struct {
	conn   net.Conn
	events chan *stream.Event
	closed atomic.Bool
}

// Subscribe opens a notification stream for the asset. Format is a
// stream codec name (json or msgpack); an empty format means JSON. The
// subscription stays open until Close or a transport error.
func (c *Client) Subscribe(ctx context.Context, assetID int64, format string) (*Subscription, error) {
	wsURL, err := notificationURL(c.baseURL, assetID, format)
	if err != nil {
		return nil, err
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("thumbq/client: subscribe: %w", err)
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan *stream.Event, 64),
	}
	go sub.readLoop(stream.GetCodec(format))
	return sub, nil
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan *stream.Event { return s.events }

// Close tears down the connection. Safe to call more than once.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// creditGrantBatch is how many received frames the subscription lets
// accumulate before granting them back to the server. The outstanding
// window therefore never shrinks by more than one batch.
const creditGrantBatch = 16

func (s *Subscription) readLoop(codec stream.Codec) {
	defer close(s.events)
	defer s.Close()

	opcode := ws.OpText
	if codec.Name() == stream.CodecNameMsgpack {
		opcode = ws.OpBinary
	}

	var received int64
	for {
		data, _, err := wsutil.ReadServerData(s.conn)
		if err != nil {
			return
		}
		evt, err := codec.Decode(data)
		if err != nil {
			continue
		}

		received++
		if received%creditGrantBatch == 0 {
			grant, err := codec.Encode(stream.NewCreditGrant(creditGrantBatch))
			if err == nil {
				_ = wsutil.WriteClientMessage(s.conn, opcode, grant)
			}
		}

		select {
		case s.events <- evt:
		default:
			// Slow consumer: drop rather than stall the read loop.
		}
	}
}

func notificationURL(baseURL string, assetID int64, format string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("thumbq/client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") +
		"/models/" + strconv.FormatInt(assetID, 10) + "/thumbnail/notifications"
	if format != "" {
		u.RawQuery = "format=" + url.QueryEscape(format)
	}
	return u.String(), nil
}
