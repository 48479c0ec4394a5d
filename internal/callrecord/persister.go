// Package callrecord stores the outcome of finished calls reported by the voice platform.
package callrecord

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/phone"
)

// PlaceholderUserName names callers first seen through a call result.
const PlaceholderUserName = "Unknown User"

// ErrInvalidPayload is returned when the body is not JSON.
var ErrInvalidPayload = errors.New("invalid JSON payload")

// Kind tags a persistence outcome.
type Kind string

const (
	KindSaved         Kind = "saved"
	KindMissingFields Kind = "missing_fields"
	KindNoTranscript  Kind = "no_transcript"
)

// Outcome reports what Persist did with a payload.
type Outcome struct {
	Kind           Kind
	ConversationID string
	Phone          string
	UserID         string
	CallerCreated  bool
}

// Status is the response status string for the outcome.
func (o Outcome) Status() string {
	if o.Kind == KindSaved {
		return "success"
	}
	return "error"
}

// Message is the response message for the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSaved:
		return "Transcript and additional data saved"
	case KindMissingFields:
		return "Missing required fields"
	case KindNoTranscript:
		return "No transcript available"
	default:
		return ""
	}
}

// Repository is the write side of the datastore used by the persister.
type Repository interface {
	EnsureUser(ctx context.Context, phone, name string) (*store.User, bool, error)
	InsertConversation(ctx context.Context, conv *store.Conversation) error
}

type Persister struct {
	repo Repository
	log  *zap.Logger
}

func NewPersister(repo Repository, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{repo: repo, log: log}
}

// Persist stores one conversation record for an authenticated result payload.
// Validation problems are reported through the Outcome; the error is reserved
// for undecodable bodies and datastore failures. Every call appends a new
// record, so a redelivered payload is stored twice.
func (p *Persister) Persist(ctx context.Context, body []byte) (Outcome, error) {
	pl, err := decode(body)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := Outcome{ConversationID: pl.conversationID()}
	rawPhone := pl.callerPhone()
	if out.ConversationID == "" || rawPhone == "" {
		p.log.Warn("Call result missing conversation id or caller phone",
			zap.String("conversation_id", out.ConversationID),
		)
		out.Kind = KindMissingFields
		return out, nil
	}
	out.Phone = phone.Normalize(rawPhone)

	turns := pl.transcript()
	if len(turns) == 0 {
		p.log.Warn("Call result has no transcript", zap.String("conversation_id", out.ConversationID))
		out.Kind = KindNoTranscript
		return out, nil
	}

	user, created, err := p.repo.EnsureUser(ctx, out.Phone, PlaceholderUserName)
	if err != nil {
		return out, fmt.Errorf("resolve caller: %w", err)
	}
	out.UserID = user.ID
	out.CallerCreated = created

	conv := &store.Conversation{
		ConversationID:   out.ConversationID,
		UserID:           user.ID,
		PhoneNumber:      out.Phone,
		Transcript:       FormatTranscript(turns),
		CallDurationSecs: pl.duration(),
		HappinessLevel:   pl.happiness(),
		CallDirection:    pl.direction(),
	}
	if err := p.repo.InsertConversation(ctx, conv); err != nil {
		return out, fmt.Errorf("save conversation: %w", err)
	}

	p.log.Info("Call result saved",
		zap.String("conversation_id", out.ConversationID),
		zap.String("user_id", user.ID),
		zap.Bool("caller_created", created),
		logger.MaskPhone("phone", out.Phone),
	)

	out.Kind = KindSaved
	return out, nil
}
