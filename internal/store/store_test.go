package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*MongoStore)(nil)

func TestTimesOfDay_DecodesBothShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  bson.M
		want TimesOfDay
	}{
		{name: "array", doc: bson.M{"medication_name": "Aspirin", "time_taken": bson.A{"Morning", "Evening"}}, want: TimesOfDay{"Morning", "Evening"}},
		{name: "comma string", doc: bson.M{"medication_name": "Aspirin", "time_taken": "morning, Afternoon"}, want: TimesOfDay{"morning", "Afternoon"}},
		{name: "null", doc: bson.M{"medication_name": "Aspirin", "time_taken": nil}, want: nil},
		{name: "absent", doc: bson.M{"medication_name": "Aspirin"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(tt.doc)
			require.NoError(t, err)

			var med Medication
			require.NoError(t, bson.Unmarshal(raw, &med))
			assert.Equal(t, "Aspirin", med.Name)
			assert.Equal(t, tt.want, med.TimesOfDay)
		})
	}
}

func TestCallPreferences_MissingFieldsStayNil(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"loved_one_id": "lo1", "call_length": "short", "mood_check": true})
	require.NoError(t, err)

	var prefs CallPreferences
	require.NoError(t, bson.Unmarshal(raw, &prefs))
	require.NotNil(t, prefs.CallLength)
	assert.Equal(t, "short", *prefs.CallLength)
	assert.Nil(t, prefs.VoicePreference)
	require.NotNil(t, prefs.MoodCheck)
	assert.True(t, *prefs.MoodCheck)
	assert.Nil(t, prefs.SleepQuality)
}

func TestMemoryStore_EnsureUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, created, err := s.EnsureUser(ctx, "+15550001111", "Unknown User")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.EnsureUser(ctx, "+15550001111", "Someone Else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Unknown User", second.UserName)
	assert.Len(t, s.Users(), 1)
}

func TestMemoryStore_LookupsAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.UserByPhone(ctx, "+1")
	assert.ErrorIs(t, err, ErrNotFound)

	u := s.AddUser(User{PhoneNumber: "+1", UserName: "Ann"})
	lo := s.AddLovedOne(LovedOne{UserID: u.ID, Name: "Bob"})
	for _, title := range []string{"c", "a", "b"} {
		s.AddAppointment(Appointment{LovedOneID: lo.ID, Title: title})
	}
	s.AddAppointment(Appointment{LovedOneID: "other", Title: "z"})

	got, err := s.LovedOneByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)

	appts, err := s.Appointments(ctx, lo.ID)
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{appts[0].Title, appts[1].Title, appts[2].Title})

	_, err = s.CallPreferences(ctx, lo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FailOn(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("connection reset")

	s.FailOn(OpMedications, boom)
	_, err := s.Medications(ctx, "lo1")
	assert.ErrorIs(t, err, boom)

	s.FailOn(OpMedications, nil)
	_, err = s.Medications(ctx, "lo1")
	assert.NoError(t, err)
}
