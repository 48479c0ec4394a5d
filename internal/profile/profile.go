// Package profile assembles the caller context the voice agent personalises a call with.
package profile

import (
	"encoding/json"
	"strings"
)

// Status tags the outcome of an assembly.
type Status string

const (
	StatusOK               Status = "ok"
	StatusCallerNotFound   Status = "caller_not_found"
	StatusLovedOneNotFound Status = "loved_one_not_found"
	StatusDegraded         Status = "degraded"
)

const (
	// DefaultCallerName greets callers with no usable record.
	DefaultCallerName = "Valued Customer"

	DefaultCallLength    = "medium"
	DefaultVoice         = "female"
	DefaultCallFrequency = "daily check ins"

	// NoneValue stands in for an empty list in the flattened form.
	NoneValue = "none"

	// MaxSummarisedAppointments bounds the upcoming_appointments summary.
	MaxSummarisedAppointments = 3
)

// Time-of-day buckets.
const (
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
)

// Result is what Assemble returns. Context is set only for StatusOK.
type Result struct {
	Status     Status
	CallerName string
	Context    *Context
	Err        error
}

// OK reports whether a full context was assembled.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// ErrorMessage is the text reported to clients for a non-OK result.
func (r Result) ErrorMessage() string {
	switch r.Status {
	case StatusCallerNotFound:
		return "User not found"
	case StatusLovedOneNotFound:
		return "No loved one profile found"
	case StatusDegraded:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "profile unavailable"
	default:
		return ""
	}
}

// MarshalJSON renders the nested context for OK results and
// {caller_name, error} otherwise.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK() && r.Context != nil {
		return json.Marshal(r.Context)
	}
	return json.Marshal(struct {
		CallerName string `json:"caller_name"`
		Error      string `json:"error"`
	}{r.CallerName, r.ErrorMessage()})
}

// Context is the typed caller context.
type Context struct {
	Caller             Caller             `json:"caller"`
	LovedOne           LovedOne           `json:"loved_one"`
	Medications        Medications        `json:"medications"`
	CallSettings       CallSettings       `json:"call_settings"`
	Notifications      Notifications      `json:"notifications"`
	Appointments       []Appointment      `json:"appointments"`
	AppointmentSummary AppointmentSummary `json:"appointment_summary"`
	TimeOfDay          string             `json:"time_of_day"`
}

type Caller struct {
	Name string `json:"name"`
}

type LovedOne struct {
	Name         string `json:"name"`
	Nickname     string `json:"nickname"`
	AgeRange     string `json:"age_range"`
	Gender       string `json:"gender"`
	Relationship string `json:"relationship"`
}

// Medications holds the names due in each part of the day, joined with ", ",
// or NoneValue when a bucket is empty.
type Medications struct {
	HasMedications bool   `json:"has_medications"`
	Morning        string `json:"morning_medications"`
	Afternoon      string `json:"afternoon_medications"`
	Evening        string `json:"evening_medications"`
}

type CallSettings struct {
	Length    string    `json:"length"`
	Voice     string    `json:"voice"`
	Frequency string    `json:"frequency"`
	Checklist Checklist `json:"checklist"`
}

type Checklist struct {
	MedicationReminders  bool `json:"medication_reminders"`
	SleepQuality         bool `json:"sleep_quality"`
	MoodCheck            bool `json:"mood_check"`
	UpcomingAppointments bool `json:"upcoming_appointments"`
}

type Notifications struct {
	DailySummary bool `json:"daily_summary"`
	MissedCalls  bool `json:"missed_calls"`
	LowSentiment bool `json:"low_sentiment"`
}

type Appointment struct {
	Title     string `json:"title"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Frequency string `json:"frequency"`
}

// AppointmentSummary is derived from Appointments in retrieval order.
// Next is the first appointment returned by the datastore.
type AppointmentSummary struct {
	HasUpcoming bool         `json:"has_upcoming_appointment"`
	Upcoming    string       `json:"upcoming_appointments"`
	Next        *Appointment `json:"next_appointment,omitempty"`
}

// TimeOfDay buckets a local hour: [5,12) morning, [12,17) afternoon, else evening.
func TimeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	default:
		return Evening
	}
}

func summarise(appts []Appointment) AppointmentSummary {
	if len(appts) == 0 {
		return AppointmentSummary{Upcoming: NoneValue}
	}

	n := len(appts)
	if n > MaxSummarisedAppointments {
		n = MaxSummarisedAppointments
	}
	parts := make([]string, 0, n)
	for _, a := range appts[:n] {
		parts = append(parts, a.Title+" on "+a.Date+" at "+a.Time)
	}

	next := appts[0]
	return AppointmentSummary{
		HasUpcoming: true,
		Upcoming:    strings.Join(parts, ", "),
		Next:        &next,
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return NoneValue
	}
	return strings.Join(names, ", ")
}
