package callrecord

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HappinessKey is the data-collection field the agent fills with its mood estimate.
const HappinessKey = "happy does the person seem?"

// payload is the post-call result body. Fields may appear under "data" or at
// the top level depending on the webhook version, so both are decoded.
type payload struct {
	Data *section `json:"data"`
	section
}

type section struct {
	ConversationID string          `json:"conversation_id"`
	Transcript     []turn          `json:"transcript"`
	Metadata       *metadata       `json:"metadata"`
	Analysis       *analysis       `json:"analysis"`
	InitiationData *initiationData `json:"conversation_initiation_client_data"`
}

type turn struct {
	Role    *string `json:"role"`
	Message *string `json:"message"`
}

type metadata struct {
	CallDurationSecs *float64   `json:"call_duration_secs"`
	PhoneCall        *phoneCall `json:"phone_call"`
}

type phoneCall struct {
	ExternalNumber string  `json:"external_number"`
	Direction      *string `json:"direction"`
}

type analysis struct {
	DataCollectionResults map[string]struct {
		Value interface{} `json:"value"`
	} `json:"data_collection_results"`
}

type initiationData struct {
	DynamicVariables map[string]interface{} `json:"dynamic_variables"`
}

// sections returns the nested section first, then the top level.
func (p *payload) sections() []*section {
	if p.Data != nil {
		return []*section{p.Data, &p.section}
	}
	return []*section{&p.section}
}

func (p *payload) conversationID() string {
	for _, s := range p.sections() {
		if s.ConversationID != "" {
			return s.ConversationID
		}
	}
	return ""
}

// callerPhone prefers the telephony metadata and falls back to the caller id
// the platform injected into the dynamic variables.
func (p *payload) callerPhone() string {
	for _, s := range p.sections() {
		if s.Metadata != nil && s.Metadata.PhoneCall != nil && s.Metadata.PhoneCall.ExternalNumber != "" {
			return s.Metadata.PhoneCall.ExternalNumber
		}
	}
	for _, s := range p.sections() {
		if s.InitiationData == nil {
			continue
		}
		if v, ok := s.InitiationData.DynamicVariables["system__caller_id"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (p *payload) transcript() []turn {
	for _, s := range p.sections() {
		if len(s.Transcript) > 0 {
			return s.Transcript
		}
	}
	return nil
}

func (p *payload) duration() *float64 {
	for _, s := range p.sections() {
		if s.Metadata != nil && s.Metadata.CallDurationSecs != nil {
			return s.Metadata.CallDurationSecs
		}
	}
	return nil
}

func (p *payload) direction() *string {
	for _, s := range p.sections() {
		if s.Metadata != nil && s.Metadata.PhoneCall != nil && s.Metadata.PhoneCall.Direction != nil {
			return s.Metadata.PhoneCall.Direction
		}
	}
	return nil
}

func (p *payload) happiness() *string {
	for _, s := range p.sections() {
		if s.Analysis == nil {
			continue
		}
		result, ok := s.Analysis.DataCollectionResults[HappinessKey]
		if !ok || result.Value == nil {
			continue
		}
		var v string
		switch val := result.Value.(type) {
		case string:
			v = val
		default:
			v = fmt.Sprint(val)
		}
		return &v
	}
	return nil
}

// FormatTranscript renders one "<Role>: <message>" line per turn, skipping
// turns without a message.
func FormatTranscript(turns []turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Message == nil || *t.Message == "" {
			continue
		}
		role := "unknown"
		if t.Role != nil {
			role = *t.Role
		}
		lines = append(lines, capitalize(role)+": "+*t.Message)
	}
	return strings.Join(lines, "\n")
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func decode(body []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
