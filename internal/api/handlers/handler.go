package handlers

import (
	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/callrecord"
	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/internal/outbound"
	"github.com/troikatech/carecall/internal/session"
	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/audit"
	"github.com/troikatech/carecall/pkg/env"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/twilio"
)

// CallerDirectory looks callers up by canonical phone number.
type CallerDirectory interface {
	UserByPhone(ctx context.Context, phone string) (*store.User, error)
}

type CallResultPersister interface {
	Persist(ctx context.Context, body []byte) (callrecord.Outcome, error)
}

type SessionServer interface {
	Serve(ctx context.Context, stream session.MediaStream) error
}

type CallInitiator interface {
	Initiate(ctx context.Context, rawPhone string) (outbound.Result, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

type Dependencies struct {
	Callers   CallerDirectory
	Assembler convai.Assembler
	Resolver  *convai.Resolver
	Persister CallResultPersister
	Sessions  SessionServer
	Initiator CallInitiator
	// Validator is nil when Twilio request signatures are not checked.
	Validator *twilio.Validator
	// Audit is optional; nil disables the outbound call audit trail.
	Audit  audit.Recorder
	Health map[string]Pinger
	// BaseContext outlives requests and is cancelled at shutdown; live
	// media sessions derive from it.
	BaseContext context.Context
}

type Handler struct {
	cfg       *env.Config
	logger    *zap.Logger
	callers   CallerDirectory
	assembler convai.Assembler
	resolver  *convai.Resolver
	persister CallResultPersister
	sessions  SessionServer
	initiator CallInitiator
	validator *twilio.Validator
	auditor   audit.Recorder
	health    map[string]Pinger
	baseCtx   context.Context
	upgrader  websocket.Upgrader
}

func NewHandler(cfg *env.Config, deps Dependencies) *Handler {
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	resolver := deps.Resolver
	if resolver == nil && deps.Assembler != nil {
		resolver = convai.NewResolver(deps.Assembler, logger.Log)
	}

	return &Handler{
		cfg:       cfg,
		logger:    logger.Log,
		callers:   deps.Callers,
		assembler: deps.Assembler,
		resolver:  resolver,
		persister: deps.Persister,
		sessions:  deps.Sessions,
		initiator: deps.Initiator,
		validator: deps.Validator,
		auditor:   deps.Audit,
		health:    deps.Health,
		baseCtx:   baseCtx,
		upgrader:  newMediaStreamUpgrader(cfg),
	}
}
