// Package session bridges one telephony media stream to one voice agent
// conversation for the lifetime of a call.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/pkg/audio"
	"github.com/troikatech/carecall/pkg/elevenlabs"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/otel"
	"github.com/troikatech/carecall/pkg/twilio"
)

const inboundBuffer = 256

var (
	errStreamStopped = errors.New("media stream stopped")
	errStreamClosed  = errors.New("media stream closed")
	errAgentEnded    = errors.New("agent ended conversation")
)

// Agent is a live voice agent conversation.
type Agent interface {
	Events() <-chan elevenlabs.Event
	SendAudio(chunk []byte) error
	Formats() elevenlabs.Formats
	ID() string
	End()
	Wait(ctx context.Context) error
}

// AgentDialer starts agent conversations.
type AgentDialer interface {
	Dial(ctx context.Context, init elevenlabs.InitiationData) (Agent, error)
}

// VariableSource resolves the dynamic variables for a caller id. It must not fail.
type VariableSource interface {
	Variables(ctx context.Context, callerID string) map[string]string
}

type conversationDialer struct {
	client  *elevenlabs.Client
	agentID string
}

// NewAgentDialer dials conversations with agentID through client.
func NewAgentDialer(client *elevenlabs.Client, agentID string) AgentDialer {
	return &conversationDialer{client: client, agentID: agentID}
}

func (d *conversationDialer) Dial(ctx context.Context, init elevenlabs.InitiationData) (Agent, error) {
	conv, err := d.client.Dial(ctx, elevenlabs.DialOptions{AgentID: d.agentID, InitiationData: init})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

type Config struct {
	// ConnectTimeout bounds the wait for the stream's start frame and,
	// separately, the agent dial.
	ConnectTimeout time.Duration
	// TeardownTimeout bounds the wait for the agent to confirm the end.
	TeardownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		TeardownTimeout: 5 * time.Second,
	}
}

type Orchestrator struct {
	dialer AgentDialer
	vars   VariableSource
	sink   EventSink
	cfg    Config
	log    *zap.Logger
}

type Option func(*Orchestrator)

// WithEventSink adds a subscriber for session events next to the log sink.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = multiSink{o.sink, sink}
	}
}

func NewOrchestrator(dialer AgentDialer, vars VariableSource, cfg Config, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaults.TeardownTimeout
	}

	o := &Orchestrator{
		dialer: dialer,
		vars:   vars,
		sink:   NewLogSink(log),
		cfg:    cfg,
		log:    log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Serve runs one call over stream until either side ends it. The stream is
// closed on return. A nil error means the call ended normally.
func (o *Orchestrator) Serve(ctx context.Context, stream MediaStream) error {
	return o.NewSession(stream).Run(ctx)
}

// NewSession prepares a session for stream without starting it.
func (o *Orchestrator) NewSession(stream MediaStream) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		o:        o,
		stream:   stream,
		log:      o.log.With(zap.String("session_id", id)),
		inbound:  make(chan twilio.StreamMessage, inboundBuffer),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Session is one call. Its exported methods are safe for concurrent use.
type Session struct {
	id     string
	o      *Orchestrator
	stream MediaStream
	log    *zap.Logger
	state  atomic.Int32

	started        time.Time
	callSid        string
	streamSid      string
	conversationID string
	agent          Agent

	inbound  chan twilio.StreamMessage
	readErr  error
	readDone chan struct{}
	closing  chan struct{}

	teardownOnce sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run drives the session through its states. Teardown runs exactly once on
// every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	s.started = time.Now()
	metrics.SessionStarted()
	s.setState(StateConnecting, "")

	go s.readLoop(s.log)

	reason := ReasonError
	var span trace.Span
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Session panicked", zap.Any("panic", r), zap.Stack("stack"))
			reason = ReasonError
			err = fmt.Errorf("session panic: %v", r)
		}
		s.teardown(reason)
		otel.EndCallSpan(span, reason, err)
	}()

	start, pending, reason, err := s.awaitStart(ctx)
	if start == nil {
		return err
	}

	s.callSid = start.Start.CallSid
	s.streamSid = start.StreamSid
	s.log = s.log.With(logger.CallFields("", s.callSid, s.streamSid)...)
	s.log.Info("Media stream started", logger.MaskPhoneIfPresent("caller_id", start.CallerID()))
	ctx, span = otel.StartCallSpan(ctx, s.id, s.callSid, s.streamSid)

	vars, pending, endReason, err := s.resolveVariables(ctx, start.CallerID(), pending)
	if vars == nil {
		reason = endReason
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.o.cfg.ConnectTimeout)
	agent, err := s.o.dialer.Dial(dialCtx, convai.NewInitiationData(vars))
	cancel()
	if err != nil {
		reason = ReasonDialFailed
		s.log.Error("Failed to start agent conversation", zap.Error(err))
		return fmt.Errorf("dial agent: %w", err)
	}
	s.agent = agent
	s.conversationID = agent.ID()
	s.log = s.log.With(zap.String("conversation_id", s.conversationID))

	formats := agent.Formats()
	toAgent := s.converter(audio.TelephonyFormat, formats.Input)
	toCaller := s.converter(formats.Output, audio.TelephonyFormat)

	s.setState(StateActive, "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.relayInbound(gctx, pending, toAgent) })
	g.Go(func() error { return s.relayOutbound(gctx, toCaller) })

	reason, err = s.classify(ctx, g.Wait())
	return err
}

// awaitStart reads frames until the stream's start frame. Media that arrives
// first is returned for forwarding once the agent is up. A nil start means
// the session ended before it began.
func (s *Session) awaitStart(ctx context.Context) (*twilio.StreamMessage, []twilio.StreamMessage, string, error) {
	timer := time.NewTimer(s.o.cfg.ConnectTimeout)
	defer timer.Stop()

	var pending []twilio.StreamMessage
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ReasonCancelled, ctx.Err()
		case <-timer.C:
			s.log.Warn("Media stream never sent start frame")
			return nil, nil, ReasonConnectTimeout, errors.New("timed out waiting for stream start")
		case msg, ok := <-s.inbound:
			if !ok {
				return nil, nil, ReasonStreamClosed, transportErr(s.readErr)
			}
			switch msg.Event {
			case twilio.EventStart:
				if msg.Start == nil {
					s.log.Warn("Dropping start frame without start block")
					continue
				}
				return &msg, pending, "", nil
			case twilio.EventStop:
				return nil, nil, ReasonStreamStopped, nil
			case twilio.EventMedia:
				pending = append(pending, msg)
			}
		}
	}
}

// resolveVariables looks up the caller's dynamic variables within
// ConnectTimeout, falling back to the generic set when the lookup overruns.
// The stream is watched meanwhile so a hangup ends the session at once. A nil
// map means the session ended during the lookup.
func (s *Session) resolveVariables(ctx context.Context, callerID string, pending []twilio.StreamMessage) (map[string]string, []twilio.StreamMessage, string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.o.cfg.ConnectTimeout)
	defer cancel()

	resolved := make(chan map[string]string, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Caller variable lookup panicked", zap.Any("panic", r))
				resolved <- convai.Fallback()
			}
		}()
		resolved <- s.o.vars.Variables(lookupCtx, callerID)
	}()

	for {
		select {
		case vars := <-resolved:
			return vars, pending, "", nil
		case <-lookupCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, nil, ReasonCancelled, err
			}
			s.log.Warn("Caller variable lookup timed out, using fallback variables",
				zap.Duration("timeout", s.o.cfg.ConnectTimeout))
			return convai.Fallback(), pending, "", nil
		case msg, ok := <-s.inbound:
			if !ok {
				return nil, nil, ReasonStreamClosed, transportErr(s.readErr)
			}
			switch msg.Event {
			case twilio.EventStop:
				return nil, nil, ReasonStreamStopped, nil
			case twilio.EventMedia:
				pending = append(pending, msg)
			}
		}
	}
}

func (s *Session) readLoop(log *zap.Logger) {
	defer close(s.readDone)
	defer close(s.inbound)

	for {
		data, err := s.stream.ReadFrame()
		if err != nil {
			s.readErr = err
			return
		}

		msg, err := twilio.ParseStreamMessage(data)
		if err != nil {
			log.Warn("Dropping undecodable media stream frame", zap.Error(err))
			continue
		}

		select {
		case s.inbound <- msg:
		case <-s.closing:
			return
		}
	}
}

// relayInbound forwards caller frames to the agent in receipt order.
func (s *Session) relayInbound(ctx context.Context, pending []twilio.StreamMessage, convert audio.Converter) (err error) {
	defer recoverRelay("inbound", &err)

	for _, msg := range pending {
		if err := s.forwardToAgent(msg, convert); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.inbound:
			if !ok {
				if terr := transportErr(s.readErr); terr != nil {
					return fmt.Errorf("%w: %v", errStreamClosed, terr)
				}
				return errStreamClosed
			}
			if err := s.forwardToAgent(msg, convert); err != nil {
				return err
			}
		}
	}
}

func (s *Session) forwardToAgent(msg twilio.StreamMessage, convert audio.Converter) error {
	switch msg.Event {
	case twilio.EventMedia:
		chunk, err := msg.Audio()
		if err != nil {
			s.log.Warn("Dropping media frame", zap.Error(err))
			return nil
		}
		if err := s.agent.SendAudio(convert(chunk)); err != nil {
			return fmt.Errorf("forward caller audio: %w", err)
		}
	case twilio.EventStop:
		s.log.Info("Media stream stopped by telephony platform")
		return errStreamStopped
	case twilio.EventMark:
		if msg.Mark != nil {
			s.log.Debug("Playback reached mark", zap.String("mark", msg.Mark.Name))
		}
	default:
		s.log.Debug("Ignoring media stream frame", zap.String("event", string(msg.Event)))
	}
	return nil
}

// relayOutbound forwards agent output to the caller in emission order.
func (s *Session) relayOutbound(ctx context.Context, convert audio.Converter) (err error) {
	defer recoverRelay("outbound", &err)

	events := s.agent.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errAgentEnded
			}
			if err := s.forwardToCaller(ev, convert); err != nil {
				return err
			}
		}
	}
}

func (s *Session) forwardToCaller(ev elevenlabs.Event, convert audio.Converter) error {
	switch ev.Type {
	case elevenlabs.EventAudio:
		if err := s.stream.WriteMessage(twilio.MediaMessage(s.streamSid, convert(ev.Audio))); err != nil {
			return fmt.Errorf("forward agent audio: %w", err)
		}
	case elevenlabs.EventInterruption:
		if err := s.stream.WriteMessage(twilio.ClearMessage(s.streamSid)); err != nil {
			return fmt.Errorf("clear caller audio: %w", err)
		}
		s.publish(Event{Kind: EventInterruption})
	case elevenlabs.EventAgentResponse, elevenlabs.EventAgentResponseCorrection:
		s.publish(Event{Kind: EventAgentResponse, Text: ev.Text})
	case elevenlabs.EventUserTranscript:
		s.publish(Event{Kind: EventUserTranscript, Text: ev.Text})
	}
	return nil
}

// classify maps the relay result to an end reason and the error Run reports.
func (s *Session) classify(ctx context.Context, err error) (string, error) {
	switch {
	case err == nil, errors.Is(err, errStreamStopped):
		return ReasonStreamStopped, nil
	case errors.Is(err, errAgentEnded):
		return ReasonAgentEnded, nil
	case errors.Is(err, errStreamClosed):
		return ReasonStreamClosed, transportErr(s.readErr)
	case ctx.Err() != nil:
		return ReasonCancelled, ctx.Err()
	default:
		s.log.Error("Session relay failed", zap.Error(err))
		return ReasonError, err
	}
}

// teardown ends the agent conversation, waits for it to confirm and closes
// the stream. Only the first call has any effect.
func (s *Session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.setState(StateClosing, reason)

		if s.agent != nil {
			s.agent.End()

			ctx, cancel := context.WithTimeout(context.Background(), s.o.cfg.TeardownTimeout)
			if err := s.agent.Wait(ctx); err != nil {
				s.log.Warn("Agent conversation did not end cleanly", zap.Error(err))
			}
			cancel()
		}

		close(s.closing)
		if err := s.stream.Close(); err != nil {
			s.log.Debug("Closing media stream", zap.Error(err))
		}
		<-s.readDone

		s.setState(StateClosed, reason)
		metrics.SessionEnded(reason, time.Since(s.started))
	})
}

func (s *Session) converter(from, to audio.Format) audio.Converter {
	convert, err := audio.NewConverter(from, to)
	if err != nil {
		s.log.Warn("Passing audio through unconverted", zap.Error(err))
		return func(b []byte) []byte { return b }
	}
	return convert
}

func (s *Session) setState(state State, reason string) {
	s.state.Store(int32(state))
	s.publish(Event{Kind: EventStateChanged, State: state, Reason: reason})
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	e.CallSid = s.callSid
	e.StreamSid = s.streamSid
	e.ConversationID = s.conversationID
	e.At = time.Now()
	s.o.sink.Publish(e)
}

func recoverRelay(direction string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s relay panic: %v", direction, r)
	}
}

// transportErr drops errors that only report an orderly close.
func transportErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}
