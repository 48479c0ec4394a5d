package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"bridge.example.com", "wss://bridge.example.com/media-stream"},
		{"https://bridge.example.com/", "wss://bridge.example.com/media-stream"},
		{"localhost:8000", "wss://localhost:8000/media-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, StreamURL(tt.host))
		})
	}
}

func TestConnectStream(t *testing.T) {
	doc, err := ConnectStream("wss://bridge.example.com/media-stream", "+15551234567")
	require.NoError(t, err)

	assert.Contains(t, doc, "<Response>")
	assert.Contains(t, doc, "<Connect>")
	assert.Contains(t, doc, `url="wss://bridge.example.com/media-stream"`)
	assert.Contains(t, doc, `name="caller_id"`)
	assert.Contains(t, doc, `value="+15551234567"`)
}

func TestConnectStreamWithoutCaller(t *testing.T) {
	doc, err := ConnectStream("wss://bridge.example.com/media-stream", "")
	require.NoError(t, err)
	assert.NotContains(t, doc, "caller_id")
}

func TestParseStreamMessage(t *testing.T) {
	start := `{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"customParameters":{"caller_id":"+15551234567"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`
	msg, err := ParseStreamMessage([]byte(start))
	require.NoError(t, err)
	assert.Equal(t, EventStart, msg.Event)
	assert.Equal(t, "MZ1", msg.StreamSid)
	assert.Equal(t, "CA1", msg.Start.CallSid)
	assert.Equal(t, "+15551234567", msg.CallerID())
	assert.Equal(t, 8000, msg.Start.MediaFormat.SampleRate)

	media := `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"20","payload":"` +
		base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f}) + `"}}`
	msg, err = ParseStreamMessage([]byte(media))
	require.NoError(t, err)
	audio, err := msg.Audio()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x7f}, audio)

	_, err = ParseStreamMessage([]byte(`{"streamSid":"MZ1"}`))
	assert.Error(t, err)

	_, err = ParseStreamMessage([]byte(`nope`))
	assert.Error(t, err)
}

func TestStartWithoutTopLevelStreamSid(t *testing.T) {
	msg, err := ParseStreamMessage([]byte(`{"event":"start","start":{"streamSid":"MZ9","callSid":"CA9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "MZ9", msg.StreamSid)
	assert.Empty(t, msg.CallerID())
}

func TestAudioOnNonMediaFrame(t *testing.T) {
	_, err := StreamMessage{Event: EventStop}.Audio()
	assert.Error(t, err)

	_, err = StreamMessage{Event: EventMedia, Media: &Media{Payload: "%%%"}}.Audio()
	assert.Error(t, err)
}

func TestOutboundMessages(t *testing.T) {
	msg := MediaMessage("MZ1", []byte{1, 2})
	assert.Equal(t, EventMedia, msg.Event)
	assert.Equal(t, "MZ1", msg.StreamSid)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2}), msg.Media.Payload)

	assert.Equal(t, StreamMessage{Event: EventClear, StreamSid: "MZ1"}, ClearMessage("MZ1"))
	assert.Equal(t, "turn-1", MarkMessage("MZ1", "turn-1").Mark.Name)
}

// twilioSignature reproduces Twilio's webhook signing scheme.
func twilioSignature(token, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidator(t *testing.T) {
	const (
		token   = "auth-token"
		fullURL = "https://bridge.example.com/incoming-call"
	)
	params := map[string]string{"CallSid": "CA1", "From": "+15551234567"}

	newRequest := func(signature string) *http.Request {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		req := httptest.NewRequest(http.MethodPost, "/incoming-call", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if signature != "" {
			req.Header.Set(SignatureHeader, signature)
		}
		require.NoError(t, req.ParseForm())
		return req
	}

	v := NewValidator(token)
	assert.True(t, v.Validate(fullURL, newRequest(twilioSignature(token, fullURL, params))))
	assert.False(t, v.Validate(fullURL, newRequest(twilioSignature("other", fullURL, params))))
	assert.False(t, v.Validate(fullURL, newRequest("")))
}

type fakeCalls struct {
	params *api.CreateCallParams
	sid    *string
	err    error
}

func (f *fakeCalls) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &api.ApiV2010Call{Sid: f.sid}, nil
}

func TestCallerCall(t *testing.T) {
	sid := "CA123"
	fake := &fakeCalls{sid: &sid}
	caller := newCaller(fake, "+15550000000", nil)

	got, err := caller.Call(context.Background(), "+15551234567", "<Response/>")
	require.NoError(t, err)
	assert.Equal(t, "CA123", got)
	assert.Equal(t, "+15551234567", *fake.params.To)
	assert.Equal(t, "+15550000000", *fake.params.From)
	assert.Equal(t, "<Response/>", *fake.params.Twiml)
}

func TestCallerCallErrors(t *testing.T) {
	caller := newCaller(&fakeCalls{err: errors.New("boom")}, "+15550000000", nil)
	_, err := caller.Call(context.Background(), "+15551234567", "<Response/>")
	assert.Error(t, err)

	caller = newCaller(&fakeCalls{}, "+15550000000", nil)
	_, err = caller.Call(context.Background(), "+15551234567", "<Response/>")
	assert.Error(t, err)
}
