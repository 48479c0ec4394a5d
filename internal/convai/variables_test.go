package convai

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/carecall/internal/profile"
)

func okResult() profile.Result {
	appts := []profile.Appointment{
		{Title: "Dentist", Date: "2024-05-01", Time: "09:00"},
	}
	return profile.Result{
		Status:     profile.StatusOK,
		CallerName: "Ann",
		Context: &profile.Context{
			Caller:   profile.Caller{Name: "Ann"},
			LovedOne: profile.LovedOne{Name: "Robert", Nickname: "Bob", Gender: "male", Relationship: "father"},
			Medications: profile.Medications{
				HasMedications: true,
				Morning:        "Aspirin",
				Afternoon:      "none",
				Evening:        "Aspirin",
			},
			CallSettings: profile.CallSettings{
				Length:    "medium",
				Voice:     "female",
				Frequency: "daily check ins",
				Checklist: profile.Checklist{SleepQuality: true},
			},
			Notifications:      profile.Notifications{LowSentiment: true},
			Appointments:       appts,
			AppointmentSummary: profile.AppointmentSummary{HasUpcoming: true, Upcoming: "Dentist on 2024-05-01 at 09:00", Next: &appts[0]},
			TimeOfDay:          "afternoon",
		},
	}
}

func TestVariables_FullContext(t *testing.T) {
	vars := Variables(okResult())

	assert.Equal(t, map[string]string{
		"caller_name":              "Ann",
		"loved_one_name":           "Robert",
		"loved_one_nickname":       "Bob",
		"loved_one_gender":         "male",
		"loved_one_relationship":   "father",
		"has_medications":          "true",
		"morning_medications":      "Aspirin",
		"afternoon_medications":    "none",
		"evening_medications":      "Aspirin",
		"call_length":              "medium",
		"voice_preference":         "female",
		"call_frequency":           "daily check ins",
		"check_medications":        "false",
		"check_sleep":              "true",
		"check_mood":               "false",
		"check_appointments":       "false",
		"notify_daily_summary":     "false",
		"notify_missed_calls":      "false",
		"notify_low_sentiment":     "true",
		"has_upcoming_appointment": "true",
		"upcoming_appointments":    "Dentist on 2024-05-01 at 09:00",
		"next_appointment_title":   "Dentist",
		"next_appointment_date":    "2024-05-01",
		"next_appointment_time":    "09:00",
		"time_of_day":              "afternoon",
	}, vars)
}

func TestVariables_NoAppointments(t *testing.T) {
	res := okResult()
	res.Context.Appointments = nil
	res.Context.AppointmentSummary = profile.AppointmentSummary{Upcoming: "none"}

	vars := Variables(res)

	assert.Equal(t, "false", vars[KeyHasUpcomingAppointment])
	assert.Equal(t, "none", vars[KeyUpcomingAppointments])
	assert.NotContains(t, vars, KeyNextAppointmentTitle)
}

func TestVariables_NonOKResults(t *testing.T) {
	tests := []struct {
		name string
		res  profile.Result
		want string
	}{
		{name: "caller not found", res: profile.Result{Status: profile.StatusCallerNotFound, CallerName: "Valued Customer"}, want: "Valued Customer"},
		{name: "loved one not found", res: profile.Result{Status: profile.StatusLovedOneNotFound, CallerName: "Ann"}, want: "Ann"},
		{name: "degraded", res: profile.Result{Status: profile.StatusDegraded, CallerName: "Valued Customer", Err: errors.New("x")}, want: "Valued Customer"},
		{name: "empty", res: profile.Result{}, want: "there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, map[string]string{"caller_name": tt.want}, Variables(tt.res))
		})
	}
}

func TestInitiationData_JSON(t *testing.T) {
	raw, err := json.Marshal(NewInitiationData(Fallback()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation_initiation_client_data","dynamic_variables":{"caller_name":"there"}}`, string(raw))
}
