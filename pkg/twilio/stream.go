package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type EventName string

const (
	EventConnected EventName = "connected"
	EventStart     EventName = "start"
	EventMedia     EventName = "media"
	EventMark      EventName = "mark"
	EventStop      EventName = "stop"
	EventDTMF      EventName = "dtmf"
	EventClear     EventName = "clear"
)

// StreamMessage is one frame on a media stream, in either direction.
type StreamMessage struct {
	Event          EventName `json:"event"`
	StreamSid      string    `json:"streamSid,omitempty"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	Start          *Start    `json:"start,omitempty"`
	Media          *Media    `json:"media,omitempty"`
	Mark           *Mark     `json:"mark,omitempty"`
	Stop           *Stop     `json:"stop,omitempty"`
}

type Start struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Mark struct {
	Name string `json:"name"`
}

type Stop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// ParseStreamMessage decodes one inbound text frame.
func ParseStreamMessage(data []byte) (StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode stream message: %w", err)
	}
	if msg.Event == "" {
		return msg, fmt.Errorf("decode stream message: missing event")
	}
	if msg.Event == EventStart && msg.Start != nil && msg.StreamSid == "" {
		msg.StreamSid = msg.Start.StreamSid
	}
	return msg, nil
}

// Audio returns the decoded μ-law payload of a media frame.
func (m StreamMessage) Audio() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("%s frame carries no media", m.Event)
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return audio, nil
}

// CallerID returns the caller_id custom parameter of a start frame.
func (m StreamMessage) CallerID() string {
	if m.Start == nil {
		return ""
	}
	return m.Start.CustomParameters[CallerIDParameter]
}

// MediaMessage wraps outbound μ-law audio for the caller's leg.
func MediaMessage(streamSid string, audio []byte) StreamMessage {
	return StreamMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// ClearMessage drops audio Twilio has buffered but not yet played.
func ClearMessage(streamSid string) StreamMessage {
	return StreamMessage{Event: EventClear, StreamSid: streamSid}
}

// MarkMessage asks Twilio to echo name back once playback reaches it.
func MarkMessage(streamSid, name string) StreamMessage {
	return StreamMessage{Event: EventMark, StreamSid: streamSid, Mark: &Mark{Name: name}}
}
