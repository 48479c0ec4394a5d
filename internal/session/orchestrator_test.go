package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/pkg/audio"
	"github.com/troikatech/carecall/pkg/elevenlabs"
	"github.com/troikatech/carecall/pkg/twilio"
)

type fakeStream struct {
	frames chan []byte
	errs   chan error
	closed chan struct{}

	mu       sync.Mutex
	written  []twilio.StreamMessage
	writeErr error

	closeCalls int32
	closeOnce  sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) ReadFrame() ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeStream) WriteMessage(msg twilio.StreamMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeStream) Close() error {
	atomic.AddInt32(&f.closeCalls, 1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) send(frame string) {
	f.frames <- []byte(frame)
}

func (f *fakeStream) start(callerID string) {
	f.send(fmt.Sprintf(`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"caller_id":%q}}}`, callerID))
}

func (f *fakeStream) media(chunk []byte) {
	f.send(fmt.Sprintf(`{"event":"media","streamSid":"MZ1","media":{"payload":%q}}`, base64.StdEncoding.EncodeToString(chunk)))
}

func (f *fakeStream) stop() {
	f.send(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)
}

func (f *fakeStream) messages() []twilio.StreamMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.StreamMessage(nil), f.written...)
}

type fakeAgent struct {
	events  chan elevenlabs.Event
	formats elevenlabs.Formats

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	panics  bool

	endCalls   int32
	waitCalls  int32
	eventsOnce sync.Once
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		events:  make(chan elevenlabs.Event, 16),
		formats: elevenlabs.Formats{Input: audio.FormatMuLaw8k, Output: audio.FormatMuLaw8k},
	}
}

func (a *fakeAgent) Events() <-chan elevenlabs.Event { return a.events }
func (a *fakeAgent) Formats() elevenlabs.Formats     { return a.formats }
func (a *fakeAgent) ID() string                      { return "conv-1" }

func (a *fakeAgent) SendAudio(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panics {
		panic("agent exploded")
	}
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, chunk)
	return nil
}

func (a *fakeAgent) End() {
	atomic.AddInt32(&a.endCalls, 1)
	a.hangUp()
}

func (a *fakeAgent) Wait(ctx context.Context) error {
	atomic.AddInt32(&a.waitCalls, 1)
	return nil
}

func (a *fakeAgent) hangUp() {
	a.eventsOnce.Do(func() { close(a.events) })
}

func (a *fakeAgent) received() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]byte(nil), a.sent...)
}

type fakeDialer struct {
	agent   *fakeAgent
	err     error
	release chan struct{}

	mu   sync.Mutex
	init elevenlabs.InitiationData
}

func (d *fakeDialer) Dial(ctx context.Context, init elevenlabs.InitiationData) (Agent, error) {
	d.mu.Lock()
	d.init = init
	d.mu.Unlock()

	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.agent, nil
}

type staticVars map[string]string

func (v staticVars) Variables(context.Context, string) map[string]string { return v }

// blockingVars stands in for a datastore that never answers.
type blockingVars struct{ calls int32 }

func (v *blockingVars) Variables(ctx context.Context, _ string) map[string]string {
	atomic.AddInt32(&v.calls, 1)
	<-ctx.Done()
	return map[string]string{"caller_name": "late"}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	kinds  []EventKind
}

func (r *stateRecorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, e.Kind)
	if e.Kind == EventStateChanged {
		r.states = append(r.states, e.State)
	}
}

func (r *stateRecorder) snapshot() ([]State, []EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]EventKind(nil), r.kinds...)
}

func newTestOrchestrator(dialer AgentDialer, sink EventSink) *Orchestrator {
	cfg := Config{ConnectTimeout: time.Second, TeardownTimeout: time.Second}
	opts := []Option{}
	if sink != nil {
		opts = append(opts, WithEventSink(sink))
	}
	return NewOrchestrator(dialer, staticVars{"caller_name": "Ann"}, cfg, nil, opts...)
}

func runAsync(s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSessionRelaysBothDirections(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	dialer := &fakeDialer{agent: agent}
	rec := &stateRecorder{}

	s := newTestOrchestrator(dialer, rec).NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	stream.media([]byte{0x01, 0x02})

	require.Eventually(t, func() bool { return len(agent.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0x01, 0x02}, agent.received()[0])
	assert.Equal(t, StateActive, s.State())

	agent.events <- elevenlabs.Event{Type: elevenlabs.EventAgentResponse, Text: "Hello Ann"}
	agent.events <- elevenlabs.Event{Type: elevenlabs.EventAudio, Audio: []byte{0x7f}}
	agent.events <- elevenlabs.Event{Type: elevenlabs.EventInterruption}

	require.Eventually(t, func() bool { return len(stream.messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := stream.messages()
	assert.Equal(t, twilio.MediaMessage("MZ1", []byte{0x7f}), msgs[0])
	assert.Equal(t, twilio.ClearMessage("MZ1"), msgs[1])

	stream.stop()
	require.NoError(t, waitRun(t, done))

	dialer.mu.Lock()
	assert.Equal(t, elevenlabs.InitiationType, dialer.init.Type)
	assert.Equal(t, "Ann", dialer.init.DynamicVariables["caller_name"])
	dialer.mu.Unlock()

	states, kinds := rec.snapshot()
	assert.Equal(t, []State{StateConnecting, StateActive, StateClosing, StateClosed}, states)
	assert.Contains(t, kinds, EventAgentResponse)
	assert.Contains(t, kinds, EventInterruption)
	assert.Equal(t, StateClosed, s.State())
}

func TestTeardownRunsExactlyOnce(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(agent *fakeAgent, stream *fakeStream)
		trigger func(agent *fakeAgent, stream *fakeStream)
		wantErr bool
	}{
		{
			name:    "stream stop frame",
			trigger: func(_ *fakeAgent, stream *fakeStream) { stream.stop() },
		},
		{
			name: "stream closed normally",
			trigger: func(_ *fakeAgent, stream *fakeStream) {
				stream.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
			},
		},
		{
			name: "abrupt disconnect",
			trigger: func(_ *fakeAgent, stream *fakeStream) {
				stream.errs <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}
			},
			wantErr: true,
		},
		{
			name:    "agent hangs up",
			trigger: func(agent *fakeAgent, _ *fakeStream) { agent.hangUp() },
		},
		{
			name:    "agent send fails",
			setup:   func(agent *fakeAgent, _ *fakeStream) { agent.sendErr = errors.New("socket gone") },
			trigger: func(_ *fakeAgent, stream *fakeStream) { stream.media([]byte{0x01}) },
			wantErr: true,
		},
		{
			name:    "panic during relay",
			setup:   func(agent *fakeAgent, _ *fakeStream) { agent.panics = true },
			trigger: func(_ *fakeAgent, stream *fakeStream) { stream.media([]byte{0x01}) },
			wantErr: true,
		},
		{
			name: "stream write fails",
			setup: func(_ *fakeAgent, stream *fakeStream) {
				stream.writeErr = errors.New("broken pipe")
			},
			trigger: func(agent *fakeAgent, _ *fakeStream) {
				agent.events <- elevenlabs.Event{Type: elevenlabs.EventAudio, Audio: []byte{0x7f}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newFakeStream()
			agent := newFakeAgent()
			if tt.setup != nil {
				tt.setup(agent, stream)
			}

			s := newTestOrchestrator(&fakeDialer{agent: agent}, nil).NewSession(stream)
			done := runAsync(s)

			stream.start("+15551234567")
			require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, 5*time.Millisecond)

			tt.trigger(agent, stream)
			err := waitRun(t, done)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			// A late second request is a no-op.
			s.teardown(ReasonError)

			assert.Equal(t, int32(1), atomic.LoadInt32(&agent.endCalls))
			assert.Equal(t, int32(1), atomic.LoadInt32(&agent.waitCalls))
			assert.Equal(t, int32(1), atomic.LoadInt32(&stream.closeCalls))
			assert.Equal(t, StateClosed, s.State())
		})
	}
}

func TestSessionCancelledByContext(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	s := newTestOrchestrator(&fakeDialer{agent: agent}, nil).NewSession(stream)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	stream.start("+15551234567")
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&agent.endCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&agent.waitCalls))
}

func TestFramesBeforeAgentAreForwardedInOrder(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	dialer := &fakeDialer{agent: agent, release: make(chan struct{})}

	s := newTestOrchestrator(dialer, nil).NewSession(stream)
	done := runAsync(s)

	stream.media([]byte{0x01})
	stream.start("+15551234567")
	stream.media([]byte{0x02})
	stream.media([]byte{0x03})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnecting, s.State())
	close(dialer.release)

	require.Eventually(t, func() bool { return len(agent.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{0x01}, {0x02}, {0x03}}, agent.received())

	stream.stop()
	require.NoError(t, waitRun(t, done))
}

func TestUndecodableFramesAreDropped(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	s := newTestOrchestrator(&fakeDialer{agent: agent}, nil).NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	stream.send(`not json`)
	stream.send(`{"event":"media","streamSid":"MZ1","media":{"payload":"%%%"}}`)
	stream.send(`{"event":"mark","streamSid":"MZ1","mark":{"name":"m1"}}`)
	stream.media([]byte{0x09})

	require.Eventually(t, func() bool { return len(agent.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{0x09}, agent.received()[0])
	assert.Equal(t, StateActive, s.State())

	stream.stop()
	require.NoError(t, waitRun(t, done))
}

func TestAudioTranscodedForPCMAgent(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	agent.formats = elevenlabs.Formats{Input: audio.FormatPCM16k, Output: audio.FormatPCM16k}

	s := newTestOrchestrator(&fakeDialer{agent: agent}, nil).NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	stream.media([]byte{0xff, 0x7f})
	require.Eventually(t, func() bool { return len(agent.received()) == 1 }, time.Second, 5*time.Millisecond)
	// Two μ-law samples become four 16-bit samples at 16kHz.
	assert.Len(t, agent.received()[0], 8)

	agent.events <- elevenlabs.Event{Type: elevenlabs.EventAudio, Audio: make([]byte, 8)}
	require.Eventually(t, func() bool { return len(stream.messages()) == 1 }, time.Second, 5*time.Millisecond)
	payload, err := base64.StdEncoding.DecodeString(stream.messages()[0].Media.Payload)
	require.NoError(t, err)
	assert.Len(t, payload, 2)

	stream.stop()
	require.NoError(t, waitRun(t, done))
}

func TestDialFailureClosesStream(t *testing.T) {
	stream := newFakeStream()
	s := newTestOrchestrator(&fakeDialer{err: errors.New("signed url: 401")}, nil).NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	assert.Error(t, waitRun(t, done))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stream.closeCalls))
	assert.Equal(t, StateClosed, s.State())
}

func TestStopBeforeStart(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	s := newTestOrchestrator(&fakeDialer{agent: agent}, nil).NewSession(stream)
	done := runAsync(s)

	stream.stop()
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, int32(0), atomic.LoadInt32(&agent.endCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stream.closeCalls))
}

func TestConnectTimeoutWithoutStart(t *testing.T) {
	stream := newFakeStream()
	o := NewOrchestrator(&fakeDialer{agent: newFakeAgent()}, staticVars{},
		Config{ConnectTimeout: 50 * time.Millisecond, TeardownTimeout: time.Second}, nil)

	err := o.Serve(context.Background(), stream)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stream.closeCalls))
}

func TestHangupDuringCallerLookup(t *testing.T) {
	stream := newFakeStream()
	vars := &blockingVars{}
	dialer := &fakeDialer{agent: newFakeAgent()}
	o := NewOrchestrator(dialer, vars, Config{ConnectTimeout: time.Minute, TeardownTimeout: time.Second}, nil)
	s := o.NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&vars.calls) == 1 }, time.Second, 5*time.Millisecond)
	stream.Close()

	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, dialer.init.DynamicVariables, "agent must not be dialled")
}

func TestStopDuringCallerLookup(t *testing.T) {
	stream := newFakeStream()
	vars := &blockingVars{}
	o := NewOrchestrator(&fakeDialer{agent: newFakeAgent()}, vars, Config{ConnectTimeout: time.Minute, TeardownTimeout: time.Second}, nil)
	s := o.NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	require.Eventually(t, func() bool { return atomic.LoadInt32(&vars.calls) == 1 }, time.Second, 5*time.Millisecond)
	stream.stop()

	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stream.closeCalls))
}

func TestSlowCallerLookupFallsBack(t *testing.T) {
	stream := newFakeStream()
	agent := newFakeAgent()
	dialer := &fakeDialer{agent: agent}
	o := NewOrchestrator(dialer, &blockingVars{}, Config{ConnectTimeout: 50 * time.Millisecond, TeardownTimeout: time.Second}, nil)
	s := o.NewSession(stream)
	done := runAsync(s)

	stream.start("+15551234567")
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, 5*time.Millisecond)

	dialer.mu.Lock()
	assert.Equal(t, convai.Fallback(), dialer.init.DynamicVariables)
	dialer.mu.Unlock()

	stream.stop()
	assert.NoError(t, waitRun(t, done))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
