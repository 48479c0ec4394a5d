package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorder_StampsAndCopies(t *testing.T) {
	r := NewMemoryRecorder()
	require.NoError(t, r.Record(context.Background(), Entry{
		Subject:  "scheduler",
		Action:   ActionInitiateCall,
		Resource: "***4567",
		Outcome:  OutcomeSuccess,
	}))

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.IsZero())

	entries[0].Subject = "changed"
	assert.Equal(t, "scheduler", r.Entries()[0].Subject)
}

func TestMongoRecorder_NilClientIsNoop(t *testing.T) {
	var r *MongoRecorder
	assert.NoError(t, r.Record(context.Background(), Entry{Action: ActionInitiateCall}))
	assert.NoError(t, NewMongoRecorder(nil).Record(context.Background(), Entry{Action: ActionInitiateCall}))
}
