package twilio

import (
	"context"
	"errors"
	"fmt"
	"time"

	twilio "github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/otel"
)

const serviceName = "twilio"

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Caller places outbound calls from the account's number.
type Caller struct {
	calls callCreator
	from  string
	log   *zap.Logger
}

func NewCaller(accountSID, authToken, from string, log *zap.Logger) *Caller {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newCaller(rest.Api, from, log)
}

func newCaller(calls callCreator, from string, log *zap.Logger) *Caller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Caller{calls: calls, from: from, log: log}
}

// Call dials to and executes twimlDoc when the callee answers. It returns the call SID.
func (c *Caller) Call(ctx context.Context, to, twimlDoc string) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetTwiml(twimlDoc)

	start := time.Now()
	var sid string
	err := otel.WithClientSpan(ctx, serviceName, "create_call", func(ctx context.Context) error {
		call, err := c.calls.CreateCall(params)
		if err != nil {
			return err
		}
		if call == nil || call.Sid == nil {
			return errors.New("response carried no call sid")
		}
		sid = *call.Sid
		return nil
	})
	metrics.RecordServiceCall(serviceName, err == nil, time.Since(start))

	if err != nil {
		return "", fmt.Errorf("create twilio call: %w", err)
	}
	return sid, nil
}
