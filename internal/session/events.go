package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/logger"
)

type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventAgentResponse  EventKind = "agent_response"
	EventUserTranscript EventKind = "user_transcript"
	EventInterruption   EventKind = "interruption"
)

// Event is a structured notification about a live session.
type Event struct {
	Kind           EventKind
	SessionID      string
	CallSid        string
	StreamSid      string
	ConversationID string
	State          State
	Reason         string
	Text           string
	At             time.Time
}

// EventSink receives session events. Publish is called from the session's
// relay goroutines and must not block for long.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// LogSink writes session events to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(e Event) {
	fields := logger.CallFields(e.SessionID, e.CallSid, e.StreamSid)
	if e.ConversationID != "" {
		fields = append(fields, zap.String("conversation_id", e.ConversationID))
	}

	switch e.Kind {
	case EventStateChanged:
		fields = append(fields, zap.String("state", e.State.String()))
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}
		s.log.Info("Session state changed", fields...)
	case EventAgentResponse:
		s.log.Info("Agent said", append(fields, zap.String("text", e.Text))...)
	case EventUserTranscript:
		s.log.Info("Caller said", append(fields, zap.String("text", e.Text))...)
	case EventInterruption:
		s.log.Debug("Caller interrupted agent", fields...)
	}
}

// multiSink fans an event out to several sinks.
type multiSink []EventSink

func (m multiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
