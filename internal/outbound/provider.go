package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/pkg/elevenlabs"
	"github.com/troikatech/carecall/pkg/twilio"
)

// Provider originates a call to a canonical phone number and returns its call SID.
type Provider interface {
	Name() string
	Call(ctx context.Context, to string, vars map[string]string) (string, error)
}

type agentPlatform interface {
	OutboundCall(ctx context.Context, req elevenlabs.OutboundCallRequest) (*elevenlabs.OutboundCallResponse, error)
}

// AgentPlatformProvider asks the voice agent platform to place the call
// through its own telephony integration.
type AgentPlatformProvider struct {
	client      agentPlatform
	agentID     string
	phoneNumber string
}

func NewAgentPlatformProvider(client *elevenlabs.Client, agentID, agentPhoneNumberID string) *AgentPlatformProvider {
	return &AgentPlatformProvider{client: client, agentID: agentID, phoneNumber: agentPhoneNumberID}
}

func (p *AgentPlatformProvider) Name() string { return "elevenlabs" }

func (p *AgentPlatformProvider) Call(ctx context.Context, to string, vars map[string]string) (string, error) {
	resp, err := p.client.OutboundCall(ctx, elevenlabs.OutboundCallRequest{
		AgentID:            p.agentID,
		AgentPhoneNumberID: p.phoneNumber,
		ToNumber:           to,
		InitiationData:     convai.NewInitiationData(vars),
	})
	if err != nil {
		return "", err
	}
	if !resp.Success && resp.CallSid == "" {
		msg := resp.Message
		if msg == "" {
			msg = "platform declined the call"
		}
		return "", errors.New(msg)
	}
	return resp.CallSid, nil
}

type twilioCaller interface {
	Call(ctx context.Context, to, twimlDoc string) (string, error)
}

// TwilioProvider dials from the account's own number. The answered call is
// streamed back into this service's media stream endpoint, so it runs through
// the same session path as an inbound call.
type TwilioProvider struct {
	caller    twilioCaller
	streamURL string
}

func NewTwilioProvider(caller *twilio.Caller, publicHost string) *TwilioProvider {
	return &TwilioProvider{caller: caller, streamURL: twilio.StreamURL(publicHost)}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// Call ignores vars: the session resolves them again from the caller_id parameter.
func (p *TwilioProvider) Call(ctx context.Context, to string, _ map[string]string) (string, error) {
	doc, err := twilio.ConnectStream(p.streamURL, to)
	if err != nil {
		return "", fmt.Errorf("build call twiml: %w", err)
	}
	return p.caller.Call(ctx, to, doc)
}
