package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"svs-converter/internal/domain"
	"svs-converter/internal/logging"
)

// Kind names a pushed engine event.
type Kind string

const (
	KindTaskProgress Kind = "task_progress"
	KindMoveResult   Kind = "move_result"
	KindMoveCallback Kind = "move_callback"
)

// Message is one decoded push event. Task is set for progress and
// move-result events, Callback for move-callback events.
type Message struct {
	Kind     Kind
	Task     domain.ConversionTask
	Callback domain.MoveCallback
}

type envelope struct {
	Event   Kind            `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeMessage parses one event envelope.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode event envelope: %w", err)
	}

	msg := Message{Kind: env.Event}
	switch env.Event {
	case KindTaskProgress, KindMoveResult:
		if err := json.Unmarshal(env.Payload, &msg.Task); err != nil {
			return Message{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		if msg.Task.ID == "" {
			return Message{}, fmt.Errorf("%s payload without task id", env.Event)
		}
	case KindMoveCallback:
		if err := json.Unmarshal(env.Payload, &msg.Callback); err != nil {
			return Message{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		if msg.Callback.ID == "" {
			return Message{}, fmt.Errorf("%s payload without task id", env.Event)
		}
	default:
		return Message{}, fmt.Errorf("unknown engine event %q", env.Event)
	}
	return msg, nil
}

// EventsURL converts the engine base URL to its websocket endpoint.
func EventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse engine url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported engine url scheme %q", u.Scheme)
	}
	u.Path += "/events"
	return u.String(), nil
}

// Subscribe connects to the event stream and forwards decoded messages to
// out in arrival order until the connection drops or ctx is cancelled.
// Undecodable events are logged and skipped.
func (c *Client) Subscribe(ctx context.Context, out chan<- Message) error {
	endpoint, err := EventsURL(c.baseURL)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial engine events: %w", err)
	}
	c.logger.Info("engine event stream connected", logging.String("url", endpoint))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("engine event stream closed")
			}
			return fmt.Errorf("read engine event: %w", err)
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.logger.Warn("dropping engine event", logging.Error(err))
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
