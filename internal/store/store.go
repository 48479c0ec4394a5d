package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/troikatech/carecall/pkg/mongo"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// Store is every datastore operation the service performs.
// Consumers depend on the narrower interfaces they declare.
type Store interface {
	UserByPhone(ctx context.Context, phone string) (*User, error)
	LovedOneByUser(ctx context.Context, userID string) (*LovedOne, error)
	Medications(ctx context.Context, lovedOneID string) ([]Medication, error)
	CallPreferences(ctx context.Context, lovedOneID string) (*CallPreferences, error)
	NotificationSettings(ctx context.Context, lovedOneID string) (*NotificationSettings, error)
	Appointments(ctx context.Context, lovedOneID string) ([]Appointment, error)
	EnsureUser(ctx context.Context, phone, name string) (*User, bool, error)
	InsertConversation(ctx context.Context, conv *Conversation) error
}

// MongoStore implements Store on top of the mongo query builder.
type MongoStore struct {
	db *mongo.Client
}

func NewMongoStore(db *mongo.Client) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) UserByPhone(ctx context.Context, phone string) (*User, error) {
	var user User
	if err := s.findOne(ctx, s.db.NewQuery(CollectionUsers).Eq("phone_number", phone), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// LovedOneByUser returns the first loved one stored for the user.
func (s *MongoStore) LovedOneByUser(ctx context.Context, userID string) (*LovedOne, error) {
	var lovedOne LovedOne
	if err := s.findOne(ctx, s.db.NewQuery(CollectionLovedOnes).Eq("user_id", userID), &lovedOne); err != nil {
		return nil, err
	}
	return &lovedOne, nil
}

func (s *MongoStore) Medications(ctx context.Context, lovedOneID string) ([]Medication, error) {
	var meds []Medication
	if err := s.db.NewQuery(CollectionMedications).Eq("loved_one_id", lovedOneID).Find(ctx, &meds); err != nil {
		return nil, fmt.Errorf("find medications: %w", err)
	}
	return meds, nil
}

func (s *MongoStore) CallPreferences(ctx context.Context, lovedOneID string) (*CallPreferences, error) {
	var prefs CallPreferences
	if err := s.findOne(ctx, s.db.NewQuery(CollectionCallPreferences).Eq("loved_one_id", lovedOneID), &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (s *MongoStore) NotificationSettings(ctx context.Context, lovedOneID string) (*NotificationSettings, error) {
	var settings NotificationSettings
	if err := s.findOne(ctx, s.db.NewQuery(CollectionNotificationSettings).Eq("loved_one_id", lovedOneID), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Appointments are returned in storage order; no sort key is applied.
func (s *MongoStore) Appointments(ctx context.Context, lovedOneID string) ([]Appointment, error) {
	var appts []Appointment
	if err := s.db.NewQuery(CollectionAppointments).Eq("loved_one_id", lovedOneID).Find(ctx, &appts); err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	return appts, nil
}

// EnsureUser returns the user for phone, creating it with name when absent.
// The boolean reports whether a new record was created.
func (s *MongoStore) EnsureUser(ctx context.Context, phone, name string) (*User, bool, error) {
	candidate := User{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		UserName:    name,
		CreatedAt:   time.Now().UTC(),
	}

	var existing User
	created, err := s.db.NewQuery(CollectionUsers).Eq("phone_number", phone).FindOrInsert(ctx, candidate, &existing)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		return &candidate, true, nil
	}
	return &existing, false, nil
}

func (s *MongoStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if err := s.db.NewQuery(CollectionConversations).Insert(ctx, conv); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, q *mongo.QueryBuilder, out interface{}) error {
	found, err := q.FindOne(ctx, out)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}
