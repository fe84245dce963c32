package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xsync/xsync/internal/models"
)

// Client publishes events to a single relay over websocket. Each publish uses
// its own connection so a stalled ack never blocks the next interaction.
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewClient creates a relay client. timeout bounds the whole publish, from
// dial until the ack arrives.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Publish submits ev and waits for the relay's OK message for ev.ID.
// It returns models.ErrPublishTimeout when no ack arrives in time and
// models.ErrPublishRejected when the relay refuses the event.
func (c *Client) Publish(ctx context.Context, ev Event) (Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Ack{}, fmt.Errorf("%w: dial %s", models.ErrPublishTimeout, c.url)
		}
		return Ack{}, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	// Unblock the read if the caller's context is canceled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return Ack{}, fmt.Errorf("encode event: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return Ack{}, c.wrapConnErr("write event", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return Ack{}, c.wrapConnErr("read ack", err)
		}

		ack, ok := parseAck(raw)
		if !ok {
			c.logger.Debug("ignoring relay message", "message", string(raw))
			continue
		}
		if ack.EventID != ev.ID {
			continue
		}

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
			c.logger.Debug("relay close handshake failed", "error", err)
		}

		if !ack.Accepted {
			return ack, fmt.Errorf("%w: %s", models.ErrPublishRejected, ack.Message)
		}
		return ack, nil
	}
}

func (c *Client) wrapConnErr(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s", models.ErrPublishTimeout, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// parseAck decodes ["OK", <event id>, <accepted>, <message>].
func parseAck(raw []byte) (Ack, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 3 {
		return Ack{}, false
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil || label != "OK" {
		return Ack{}, false
	}

	var ack Ack
	if err := json.Unmarshal(frame[1], &ack.EventID); err != nil {
		return Ack{}, false
	}
	if err := json.Unmarshal(frame[2], &ack.Accepted); err != nil {
		return Ack{}, false
	}
	if len(frame) > 3 {
		// A non-string message leaves Message empty; the verdict still stands.
		if err := json.Unmarshal(frame[3], &ack.Message); err != nil {
			ack.Message = ""
		}
	}
	return ack, true
}
