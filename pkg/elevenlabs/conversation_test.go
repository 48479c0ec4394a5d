package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/carecall/pkg/audio"
)

// newFakeAgent serves a conversation socket driven by script.
func newFakeAgent(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func metadataFrame(id string) map[string]interface{} {
	return map[string]interface{}{
		"type": "conversation_initiation_metadata",
		"conversation_initiation_metadata_event": map[string]interface{}{
			"conversation_id":           id,
			"agent_output_audio_format": "ulaw_8000",
			"user_input_audio_format":   "pcm_16000",
		},
	}
}

func TestDialHandshake(t *testing.T) {
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))
		assert.Equal(t, InitiationType, init["type"])
		vars := init["dynamic_variables"].(map[string]interface{})
		assert.Equal(t, "Jane", vars["caller_name"])

		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-1")))
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{
		DynamicVariables: map[string]string{"caller_name": "Jane"},
	}, nil)
	require.NoError(t, err)
	defer conv.End()

	assert.Equal(t, "conv-1", conv.ID())
	assert.Equal(t, Formats{Input: audio.FormatPCM16k, Output: audio.FormatMuLaw8k}, conv.Formats())
}

func TestDialAnswersPingBeforeMetadata(t *testing.T) {
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))

		assert.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":       "ping",
			"ping_event": map[string]interface{}{"event_id": 7, "ping_ms": 20},
		}))
		var pong map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&pong))
		assert.Equal(t, "pong", pong["type"])
		assert.EqualValues(t, 7, pong["event_id"])

		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-2")))
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{}, nil)
	require.NoError(t, err)
	defer conv.End()
	assert.Equal(t, "conv-2", conv.ID())
}

func TestDialTimesOutWithoutMetadata(t *testing.T) {
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		_ = conn.ReadJSON(&init)
		time.Sleep(500 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := DialURL(ctx, nil, url, InitiationData{}, nil)
	assert.Error(t, err)
}

func TestConversationEventsInOrder(t *testing.T) {
	chunk := []byte{0xff, 0x7f, 0x00}
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))
		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-3")))

		frames := []map[string]interface{}{
			{"type": "agent_response", "agent_response_event": map[string]interface{}{"agent_response": "Hello Jane"}},
			{"type": "audio", "audio_event": map[string]interface{}{"audio_base_64": base64.StdEncoding.EncodeToString(chunk), "event_id": 1}},
			{"type": "user_transcript", "user_transcription_event": map[string]interface{}{"user_transcript": "Hi"}},
			{"type": "interruption", "interruption_event": map[string]interface{}{"event_id": 1}},
			{"type": "vad_score", "vad_score_event": map[string]interface{}{"vad_score": 0.5}},
		}
		for _, f := range frames {
			assert.NoError(t, conn.WriteJSON(f))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		time.Sleep(50 * time.Millisecond)
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{}, nil)
	require.NoError(t, err)

	var got []Event
	for ev := range conv.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	assert.Equal(t, EventAgentResponse, got[0].Type)
	assert.Equal(t, "Hello Jane", got[0].Text)
	assert.Equal(t, EventAudio, got[1].Type)
	assert.Equal(t, chunk, got[1].Audio)
	assert.Equal(t, EventUserTranscript, got[2].Type)
	assert.Equal(t, "Hi", got[2].Text)
	assert.Equal(t, EventInterruption, got[3].Type)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, conv.Wait(ctx))
}

func TestConversationSendAudioAndEnd(t *testing.T) {
	received := make(chan map[string]interface{}, 8)
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))
		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-4")))
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			select {
			case received <- msg:
			default:
			}
		}
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{}, nil)
	require.NoError(t, err)

	require.NoError(t, conv.SendAudio([]byte{1, 2, 3}))

	select {
	case msg := <-received:
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), msg["user_audio_chunk"])
	case <-time.After(time.Second):
		t.Fatal("agent never received audio")
	}

	conv.End()
	conv.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, conv.Wait(ctx))
	assert.ErrorIs(t, conv.SendAudio([]byte{1}), ErrConversationClosed)
}

func TestConversationWaitForcesCloseOnTimeout(t *testing.T) {
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))
		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-5")))
		// Never answers the close handshake.
		time.Sleep(time.Second)
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{}, nil)
	require.NoError(t, err)

	conv.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, conv.Wait(ctx), context.DeadlineExceeded)

	select {
	case <-conv.Done():
	default:
		t.Fatal("conversation not torn down after forced close")
	}
}

func TestConversationAbruptDisconnect(t *testing.T) {
	url := newFakeAgent(t, func(conn *websocket.Conn) {
		var init map[string]interface{}
		assert.NoError(t, conn.ReadJSON(&init))
		assert.NoError(t, conn.WriteJSON(metadataFrame("conv-6")))
		conn.UnderlyingConn().Close()
	})

	conv, err := DialURL(context.Background(), nil, url, InitiationData{}, nil)
	require.NoError(t, err)

	for range conv.Events() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, conv.Wait(ctx))
}

func TestDecodeEventIgnoresUnknown(t *testing.T) {
	data, _ := json.Marshal(map[string]interface{}{"type": "internal_tentative_agent_response"})
	_, _, ok, err := decodeEvent(data)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = decodeEvent([]byte("not json"))
	assert.Error(t, err)
}

func TestClientDialRetriesWithFreshSignedURL(t *testing.T) {
	var signed, handshakes int32
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc(signedURLPath, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&signed, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"signed_url": "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent?token=" + strconv.Itoa(int(n)),
		})
	})
	mux.HandleFunc("/agent", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&handshakes, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var init map[string]interface{}
		if conn.ReadJSON(&init) != nil {
			return
		}
		_ = conn.WriteJSON(metadataFrame("conv-r"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "xi-test", RetryCount: 2}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conv, err := client.Dial(ctx, DialOptions{AgentID: "agent-1"})
	require.NoError(t, err)
	defer conv.End()

	assert.Equal(t, "conv-r", conv.ID())
	assert.Equal(t, int32(2), atomic.LoadInt32(&signed))
	assert.Equal(t, int32(2), atomic.LoadInt32(&handshakes))
}

func TestClientDialRejectedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "xi-test", RetryCount: 2}, nil)
	_, err := client.Dial(context.Background(), DialOptions{AgentID: "agent-1"})

	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
