// Package twilio covers the pieces of Twilio Programmable Voice the bridge
// touches: the TwiML that connects a call to a media stream, the media
// stream wire messages, request signature checks and REST call creation.
package twilio

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// CallerIDParameter is the custom stream parameter carrying the caller's number.
const CallerIDParameter = "caller_id"

// MediaStreamPath is where Twilio opens the call's media websocket.
const MediaStreamPath = "/media-stream"

// BareHost strips any scheme and trailing slash from a configured host.
func BareHost(host string) string {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return strings.TrimRight(host, "/")
}

// StreamURL builds the wss URL for the media stream on host.
func StreamURL(host string) string {
	return fmt.Sprintf("wss://%s%s", BareHost(host), MediaStreamPath)
}

// ConnectStream renders TwiML that bridges the call into a bidirectional
// media stream. The caller's number travels as a custom parameter so the
// stream handler can look up who is calling.
func ConnectStream(streamURL, callerID string) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL}
	if callerID != "" {
		stream.InnerElements = []twiml.Element{
			&twiml.VoiceParameter{Name: CallerIDParameter, Value: callerID},
		}
	}

	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}
