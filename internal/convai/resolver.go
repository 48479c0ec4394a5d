package convai

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/pkg/phone"
)

// Assembler builds a caller's profile from a canonical phone number.
type Assembler interface {
	Assemble(ctx context.Context, phone string) profile.Result
}

// Resolver turns a raw caller id into dynamic variables. It never fails:
// callers it cannot personalise for get a name-only variable set.
type Resolver struct {
	assembler Assembler
	log       *zap.Logger
}

func NewResolver(assembler Assembler, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{assembler: assembler, log: log}
}

// Resolve returns the variables for callerID along with the assembly result.
// A blank caller id skips assembly entirely.
func (r *Resolver) Resolve(ctx context.Context, callerID string) (map[string]string, profile.Result) {
	if strings.TrimSpace(callerID) == "" {
		r.log.Info("No caller id supplied, using fallback variables")
		return Fallback(), profile.Result{Status: profile.StatusCallerNotFound, CallerName: FallbackCallerName}
	}

	canonical := phone.Normalize(callerID)
	res := r.assembler.Assemble(ctx, canonical)
	if !res.OK() {
		r.log.Info("Personalisation unavailable for caller",
			zap.String("phone", phone.Mask(canonical)),
			zap.String("status", string(res.Status)),
		)
	}
	return Variables(res), res
}

// Variables is Resolve without the assembly result.
func (r *Resolver) Variables(ctx context.Context, callerID string) map[string]string {
	vars, _ := r.Resolve(ctx, callerID)
	return vars
}
