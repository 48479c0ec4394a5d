package logger

import (
	"go.uber.org/zap"
)

// CallFields returns the identifiers attached to every log line of a live call.
// Empty values are omitted.
func CallFields(sessionID, callSid, streamSid string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if callSid != "" {
		fields = append(fields, zap.String("call_sid", callSid))
	}
	if streamSid != "" {
		fields = append(fields, zap.String("stream_sid", streamSid))
	}
	return fields
}
