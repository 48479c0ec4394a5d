// Package outbound places calls to known callers, personalised with their profile.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/phone"
)

var (
	// ErrProfileNotFound means the number has no caller or loved one on file.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileUnavailable means the profile could not be read.
	ErrProfileUnavailable = errors.New("profile unavailable")
)

// ProfileError reports why a call was not placed. Its message is the one
// the profile endpoint would show for the same number.
type ProfileError struct {
	Status  profile.Status
	Message string
}

func (e *ProfileError) Error() string {
	return e.Message
}

func (e *ProfileError) Unwrap() error {
	if e.Status == profile.StatusDegraded {
		return ErrProfileUnavailable
	}
	return ErrProfileNotFound
}

type Result struct {
	Phone    string
	CallSid  string
	Provider string
}

type Initiator struct {
	assembler convai.Assembler
	provider  Provider
	log       *zap.Logger
}

func NewInitiator(assembler convai.Assembler, provider Provider, log *zap.Logger) *Initiator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Initiator{assembler: assembler, provider: provider, log: log}
}

// Initiate assembles the callee's profile and places the call. Nothing is
// dialled unless the profile assembled fully.
func (i *Initiator) Initiate(ctx context.Context, rawPhone string) (Result, error) {
	to := phone.Normalize(rawPhone)
	res := Result{Phone: to, Provider: i.provider.Name()}
	log := i.log.With(zap.String("phone", phone.Mask(to)), zap.String("provider", res.Provider))

	profileRes := i.assembler.Assemble(ctx, to)
	if !profileRes.OK() {
		metrics.RecordOutboundCall("skipped")
		log.Warn("Not placing call without profile",
			zap.String("status", string(profileRes.Status)),
			zap.Error(profileRes.Err),
		)
		return res, &ProfileError{Status: profileRes.Status, Message: profileRes.ErrorMessage()}
	}

	start := time.Now()
	callSid, err := i.provider.Call(ctx, to, convai.Variables(profileRes))
	if err != nil {
		metrics.RecordOutboundCall("failed")
		log.Error("Failed to place outbound call", zap.Error(err))
		return res, fmt.Errorf("place call: %w", err)
	}

	res.CallSid = callSid
	metrics.RecordOutboundCall("placed")
	log.Info("Outbound call placed",
		zap.String("call_sid", callSid),
		zap.Duration("latency", time.Since(start)),
	)
	return res, nil
}
