package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventMetadata                EventType = "conversation_initiation_metadata"
	EventAudio                   EventType = "audio"
	EventAgentResponse           EventType = "agent_response"
	EventAgentResponseCorrection EventType = "agent_response_correction"
	EventUserTranscript          EventType = "user_transcript"
	EventInterruption            EventType = "interruption"
	EventPing                    EventType = "ping"
)

// Event is one decoded message from the conversation socket.
// Audio holds decoded bytes in the agent's output format.
type Event struct {
	Type    EventType
	EventID int
	Audio   []byte
	Text    string
}

type serverMessage struct {
	Type     EventType `json:"type"`
	Metadata *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`
	Audio *struct {
		Audio   string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event"`
	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	Correction *struct {
		CorrectedAgentResponse string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event"`
	UserTranscript *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	Interruption *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event"`
	Ping *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// decodeEvent parses a server frame. ok is false for frames the bridge ignores.
func decodeEvent(data []byte) (msg serverMessage, ev Event, ok bool, err error) {
	if err = json.Unmarshal(data, &msg); err != nil {
		return msg, ev, false, fmt.Errorf("decode agent message: %w", err)
	}

	ev.Type = msg.Type
	switch msg.Type {
	case EventAudio:
		if msg.Audio == nil {
			return msg, ev, false, nil
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Audio.Audio)
		if err != nil {
			return msg, ev, false, fmt.Errorf("decode agent audio: %w", err)
		}
		ev.Audio = audio
		ev.EventID = msg.Audio.EventID
	case EventAgentResponse:
		if msg.AgentResponse != nil {
			ev.Text = msg.AgentResponse.AgentResponse
		}
	case EventAgentResponseCorrection:
		if msg.Correction != nil {
			ev.Text = msg.Correction.CorrectedAgentResponse
		}
	case EventUserTranscript:
		if msg.UserTranscript != nil {
			ev.Text = msg.UserTranscript.UserTranscript
		}
	case EventInterruption:
		if msg.Interruption != nil {
			ev.EventID = msg.Interruption.EventID
		}
	case EventPing:
		if msg.Ping != nil {
			ev.EventID = msg.Ping.EventID
		}
	case EventMetadata:
	default:
		return msg, ev, false, nil
	}
	return msg, ev, true, nil
}
