package store

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Collection names.
const (
	CollectionUsers                = "users"
	CollectionLovedOnes            = "loved_ones"
	CollectionMedications          = "medications"
	CollectionCallPreferences      = "call_preferences"
	CollectionNotificationSettings = "notification_settings"
	CollectionAppointments         = "consolidated_appointments"
	CollectionConversations        = "conversations"
)

// User is the caller record, keyed by canonical phone number.
type User struct {
	ID          string    `bson:"id" json:"id"`
	PhoneNumber string    `bson:"phone_number" json:"phone_number"`
	UserName    string    `bson:"user_name" json:"user_name"`
	CreatedAt   time.Time `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// LovedOne is the person the caller arranges check-in calls for.
type LovedOne struct {
	ID           string `bson:"id" json:"id"`
	UserID       string `bson:"user_id" json:"user_id"`
	Name         string `bson:"name" json:"name"`
	Nickname     string `bson:"nickname" json:"nickname"`
	AgeRange     string `bson:"age_range" json:"age_range"`
	Gender       string `bson:"gender" json:"gender"`
	Relationship string `bson:"relationship_to_user" json:"relationship_to_user"`
}

type Medication struct {
	ID         string     `bson:"id" json:"id"`
	LovedOneID string     `bson:"loved_one_id" json:"loved_one_id"`
	Name       string     `bson:"medication_name" json:"medication_name"`
	TimesOfDay TimesOfDay `bson:"time_taken" json:"time_taken"`
}

// TimesOfDay holds free-form time tags such as "Morning" or "after dinner (evening)".
// Stored documents carry either an array or a single comma-separated string.
type TimesOfDay []string

// UnmarshalBSONValue accepts both storage shapes of time_taken.
func (t *TimesOfDay) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}

	switch typ {
	case bsontype.Null, bsontype.Undefined:
		*t = nil
	case bsontype.String:
		*t = splitTags(raw.StringValue())
	case bsontype.Array:
		values, err := raw.Array().Values()
		if err != nil {
			return fmt.Errorf("time_taken: %w", err)
		}
		tags := make(TimesOfDay, 0, len(values))
		for _, v := range values {
			if s, ok := v.StringValueOK(); ok {
				tags = append(tags, s)
			} else {
				tags = append(tags, v.String())
			}
		}
		*t = tags
	default:
		*t = TimesOfDay{raw.String()}
	}
	return nil
}

func splitTags(s string) TimesOfDay {
	parts := strings.Split(s, ",")
	tags := make(TimesOfDay, 0, len(parts))
	for _, p := range parts {
		tags = append(tags, strings.TrimSpace(p))
	}
	return tags
}

// CallPreferences fields are nil when the column is absent or null.
type CallPreferences struct {
	LovedOneID           string  `bson:"loved_one_id" json:"loved_one_id"`
	CallLength           *string `bson:"call_length,omitempty" json:"call_length,omitempty"`
	VoicePreference      *string `bson:"voice_preference,omitempty" json:"voice_preference,omitempty"`
	CallFrequency        *string `bson:"call_frequency,omitempty" json:"call_frequency,omitempty"`
	MedicationReminders  *bool   `bson:"medication_reminders,omitempty" json:"medication_reminders,omitempty"`
	SleepQuality         *bool   `bson:"sleep_quality,omitempty" json:"sleep_quality,omitempty"`
	MoodCheck            *bool   `bson:"mood_check,omitempty" json:"mood_check,omitempty"`
	UpcomingAppointments *bool   `bson:"upcoming_appointments,omitempty" json:"upcoming_appointments,omitempty"`
}

type NotificationSettings struct {
	LovedOneID       string `bson:"loved_one_id" json:"loved_one_id"`
	DailyCallSummary *bool  `bson:"daily_call_summary,omitempty" json:"daily_call_summary,omitempty"`
	MissedCalls      *bool  `bson:"missed_calls,omitempty" json:"missed_calls,omitempty"`
	LowSentiment     *bool  `bson:"low_sentiment,omitempty" json:"low_sentiment,omitempty"`
}

type Appointment struct {
	ID         string `bson:"id" json:"id"`
	LovedOneID string `bson:"loved_one_id" json:"loved_one_id"`
	Title      string `bson:"appointment_title" json:"appointment_title"`
	Date       string `bson:"appointment_date" json:"appointment_date"`
	Time       string `bson:"appointment_time" json:"appointment_time"`
	Frequency  string `bson:"frequency" json:"frequency"`
}

// Conversation is one completed call. Records are append-only.
type Conversation struct {
	ID               string    `bson:"id" json:"id"`
	ConversationID   string    `bson:"conversation_id" json:"conversation_id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	PhoneNumber      string    `bson:"phone_number" json:"phone_number"`
	Transcript       string    `bson:"transcript" json:"transcript"`
	CallDurationSecs *float64  `bson:"call_duration_secs" json:"call_duration_secs"`
	HappinessLevel   *string   `bson:"happiness_level" json:"happiness_level"`
	CallDirection    *string   `bson:"call_direction" json:"call_direction"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}
