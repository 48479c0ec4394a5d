package twilio

import (
	"net/http"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Validator checks that webhook requests were signed with the account's auth token.
type Validator struct {
	rv client.RequestValidator
}

func NewValidator(authToken string) *Validator {
	return &Validator{rv: client.NewRequestValidator(authToken)}
}

// Validate checks a form-encoded webhook. url must be the full public URL
// Twilio requested, including any query string. r.ParseForm must have run.
func (v *Validator) Validate(url string, r *http.Request) bool {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return false
	}

	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return v.rv.Validate(url, params, signature)
}
