// Package convai converts caller profiles into the dynamic variables the
// voice agent accepts. The agent only takes scalar string values, so every
// boolean is rendered as "true" or "false".
package convai

import (
	"strconv"

	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/pkg/elevenlabs"
)

// FallbackCallerName greets callers when no number was supplied or assembly blew up.
const FallbackCallerName = "there"

// Variable keys.
const (
	KeyCallerName             = "caller_name"
	KeyLovedOneName           = "loved_one_name"
	KeyLovedOneNickname       = "loved_one_nickname"
	KeyLovedOneGender         = "loved_one_gender"
	KeyLovedOneRelationship   = "loved_one_relationship"
	KeyHasMedications         = "has_medications"
	KeyMorningMedications     = "morning_medications"
	KeyAfternoonMedications   = "afternoon_medications"
	KeyEveningMedications     = "evening_medications"
	KeyCallLength             = "call_length"
	KeyVoicePreference        = "voice_preference"
	KeyCallFrequency          = "call_frequency"
	KeyCheckMedications       = "check_medications"
	KeyCheckSleep             = "check_sleep"
	KeyCheckMood              = "check_mood"
	KeyCheckAppointments      = "check_appointments"
	KeyNotifyDailySummary     = "notify_daily_summary"
	KeyNotifyMissedCalls      = "notify_missed_calls"
	KeyNotifyLowSentiment     = "notify_low_sentiment"
	KeyHasUpcomingAppointment = "has_upcoming_appointment"
	KeyUpcomingAppointments   = "upcoming_appointments"
	KeyNextAppointmentTitle   = "next_appointment_title"
	KeyNextAppointmentDate    = "next_appointment_date"
	KeyNextAppointmentTime    = "next_appointment_time"
	KeyTimeOfDay              = "time_of_day"
)

// InitiationData is the payload that personalises one conversation.
type InitiationData = elevenlabs.InitiationData

func NewInitiationData(vars map[string]string) InitiationData {
	return InitiationData{Type: elevenlabs.InitiationType, DynamicVariables: vars}
}

// Fallback is the variable set used when there is nothing to look up.
func Fallback() map[string]string {
	return map[string]string{KeyCallerName: FallbackCallerName}
}

// Variables flattens an assembly result. Results without a context carry only
// the caller name the assembler settled on.
func Variables(res profile.Result) map[string]string {
	if !res.OK() || res.Context == nil {
		name := res.CallerName
		if name == "" {
			name = FallbackCallerName
		}
		return map[string]string{KeyCallerName: name}
	}

	pc := res.Context
	name := pc.Caller.Name
	if name == "" {
		name = FallbackCallerName
	}

	vars := map[string]string{
		KeyCallerName:           name,
		KeyLovedOneName:         pc.LovedOne.Name,
		KeyLovedOneNickname:     pc.LovedOne.Nickname,
		KeyLovedOneGender:       pc.LovedOne.Gender,
		KeyLovedOneRelationship: pc.LovedOne.Relationship,

		KeyHasMedications:       strconv.FormatBool(pc.Medications.HasMedications),
		KeyMorningMedications:   pc.Medications.Morning,
		KeyAfternoonMedications: pc.Medications.Afternoon,
		KeyEveningMedications:   pc.Medications.Evening,

		KeyCallLength:      pc.CallSettings.Length,
		KeyVoicePreference: pc.CallSettings.Voice,
		KeyCallFrequency:   pc.CallSettings.Frequency,

		KeyCheckMedications:  strconv.FormatBool(pc.CallSettings.Checklist.MedicationReminders),
		KeyCheckSleep:        strconv.FormatBool(pc.CallSettings.Checklist.SleepQuality),
		KeyCheckMood:         strconv.FormatBool(pc.CallSettings.Checklist.MoodCheck),
		KeyCheckAppointments: strconv.FormatBool(pc.CallSettings.Checklist.UpcomingAppointments),

		KeyNotifyDailySummary: strconv.FormatBool(pc.Notifications.DailySummary),
		KeyNotifyMissedCalls:  strconv.FormatBool(pc.Notifications.MissedCalls),
		KeyNotifyLowSentiment: strconv.FormatBool(pc.Notifications.LowSentiment),

		KeyHasUpcomingAppointment: strconv.FormatBool(pc.AppointmentSummary.HasUpcoming),
		KeyUpcomingAppointments:   pc.AppointmentSummary.Upcoming,

		KeyTimeOfDay: pc.TimeOfDay,
	}

	if next := pc.AppointmentSummary.Next; next != nil {
		vars[KeyNextAppointmentTitle] = next.Title
		vars[KeyNextAppointmentDate] = next.Date
		vars[KeyNextAppointmentTime] = next.Time
	}

	return vars
}
