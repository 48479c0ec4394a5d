package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/audio"
	"github.com/troikatech/carecall/pkg/circuitbreaker"
	"github.com/troikatech/carecall/pkg/retry"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// ErrConversationClosed is returned when sending on a finished conversation.
var ErrConversationClosed = errors.New("conversation closed")

// Formats are the audio encodings the agent negotiated for this conversation.
type Formats struct {
	Input  audio.Format
	Output audio.Format
}

type DialOptions struct {
	AgentID        string
	InitiationData InitiationData
}

// Conversation is one live session on the conversation websocket.
// Events are delivered in emission order; pings are answered internally.
type Conversation struct {
	conn    *websocket.Conn
	log     *zap.Logger
	writeMu sync.Mutex

	id      string
	formats Formats

	events  chan Event
	ending  chan struct{}
	done    chan struct{}
	endOnce sync.Once
	err     error
}

// Dial opens a conversation with a private agent through a signed URL.
func (c *Client) Dial(ctx context.Context, opts DialOptions) (*Conversation, error) {
	var conv *Conversation
	err := retry.Do(ctx, c.dialRetry, func(ctx context.Context, attempt int) error {
		// Signed URLs are single use, so every attempt fetches a new one.
		signedURL, err := c.SignedURL(ctx, opts.AgentID)
		if err != nil {
			if IsClientError(err) || errors.Is(err, circuitbreaker.ErrOpen) {
				return retry.Permanent(err)
			}
			return err
		}
		conv, err = DialURL(ctx, c.dialer, signedURL, opts.InitiationData, c.log)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// DialURL connects to a conversation socket, sends the initiation data and
// waits for the agent's session metadata before returning.
func DialURL(ctx context.Context, dialer *websocket.Dialer, url string, init InitiationData, log *zap.Logger) (*Conversation, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial conversation: %w", err)
	}

	conv := &Conversation{
		conn:   conn,
		log:    log,
		events: make(chan Event, eventBuffer),
		ending: make(chan struct{}),
		done:   make(chan struct{}),
	}

	if init.Type == "" {
		init.Type = InitiationType
	}
	if err := conv.writeJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send initiation data: %w", err)
	}

	pending, err := conv.awaitMetadata(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}

	go conv.readLoop(pending)
	return conv, nil
}

// awaitMetadata reads until the session metadata arrives, answering pings and
// keeping any other events for delivery once the read loop starts.
func (c *Conversation) awaitMetadata(ctx context.Context) ([]Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var pending []Event
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await conversation metadata: %w", err)
		}

		msg, ev, ok, err := decodeEvent(data)
		if err != nil {
			c.log.Warn("Dropping undecodable agent message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		switch ev.Type {
		case EventMetadata:
			if msg.Metadata != nil {
				c.id = msg.Metadata.ConversationID
				c.formats = Formats{
					Input:  formatOrDefault(msg.Metadata.UserInputAudioFormat),
					Output: formatOrDefault(msg.Metadata.AgentOutputAudioFormat),
				}
			} else {
				c.formats = Formats{Input: audio.TelephonyFormat, Output: audio.TelephonyFormat}
			}
			return pending, nil
		case EventPing:
			if err := c.writeJSON(pongMessage{Type: "pong", EventID: ev.EventID}); err != nil {
				return nil, fmt.Errorf("answer ping: %w", err)
			}
		default:
			pending = append(pending, ev)
		}
	}
}

func formatOrDefault(f string) audio.Format {
	if f == "" {
		return audio.TelephonyFormat
	}
	return audio.Format(f)
}

func (c *Conversation) readLoop(pending []Event) {
	defer close(c.done)
	defer close(c.events)
	defer c.conn.Close()

	for _, ev := range pending {
		if !c.deliver(ev) {
			return
		}
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		_, ev, ok, err := decodeEvent(data)
		if err != nil {
			c.log.Warn("Dropping undecodable agent message",
				zap.String("conversation_id", c.id),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}

		if ev.Type == EventPing {
			if err := c.writeJSON(pongMessage{Type: "pong", EventID: ev.EventID}); err != nil {
				c.finish(err)
				return
			}
			continue
		}

		if !c.deliver(ev) {
			return
		}
	}
}

func (c *Conversation) deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ending:
		return false
	}
}

// finish records why the socket stopped. Closures we asked for, and normal
// closures from the agent, are not errors.
func (c *Conversation) finish(err error) {
	select {
	case <-c.ending:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	c.err = err
}

// ID is the platform's conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// Formats returns the negotiated audio formats.
func (c *Conversation) Formats() Formats {
	return c.formats
}

// Events yields agent events until the conversation ends, then closes.
func (c *Conversation) Events() <-chan Event {
	return c.events
}

// Done is closed once the socket has been fully torn down.
func (c *Conversation) Done() <-chan struct{} {
	return c.done
}

// SendAudio forwards one chunk of caller audio, already in the agent's input format.
func (c *Conversation) SendAudio(chunk []byte) error {
	select {
	case <-c.ending:
		return ErrConversationClosed
	case <-c.done:
		return ErrConversationClosed
	default:
	}
	return c.writeJSON(userAudioMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(chunk)})
}

// End asks the agent to close the session. Calling it more than once is a no-op.
func (c *Conversation) End() {
	c.endOnce.Do(func() {
		close(c.ending)

		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()

		if err != nil {
			// The peer is already gone; unblock the reader directly.
			c.conn.Close()
		}
	})
}

// Wait blocks until the socket is closed. When ctx expires first the socket
// is closed forcibly and ctx's error is returned.
func (c *Conversation) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		c.conn.Close()
		<-c.done
		return ctx.Err()
	}
}

func (c *Conversation) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}
