package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for local runs and tests.
// Slices keep insertion order, which stands in for storage order.
type MemoryStore struct {
	mu            sync.RWMutex
	users         []User
	lovedOnes     []LovedOne
	medications   []Medication
	preferences   []CallPreferences
	notifications []NotificationSettings
	appointments  []Appointment
	conversations []Conversation
	failures      map[string]error
}

// Operation names accepted by FailOn.
const (
	OpUserByPhone          = "UserByPhone"
	OpLovedOneByUser       = "LovedOneByUser"
	OpMedications          = "Medications"
	OpCallPreferences      = "CallPreferences"
	OpNotificationSettings = "NotificationSettings"
	OpAppointments         = "Appointments"
	OpEnsureUser           = "EnsureUser"
	OpInsertConversation   = "InsertConversation"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failures: make(map[string]error)}
}

// FailOn makes every later call of op return err. A nil err clears the fault.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStore) AddUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users = append(s.users, u)
	return u
}

func (s *MemoryStore) AddLovedOne(l LovedOne) LovedOne {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.lovedOnes = append(s.lovedOnes, l)
	return l
}

func (s *MemoryStore) AddMedication(m Medication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medications = append(s.medications, m)
}

func (s *MemoryStore) AddCallPreferences(p CallPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences = append(s.preferences, p)
}

func (s *MemoryStore) AddNotificationSettings(n NotificationSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *MemoryStore) AddAppointment(a Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = append(s.appointments, a)
}

// Users returns a copy of every stored caller record.
func (s *MemoryStore) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.users...)
}

// Conversations returns a copy of every stored conversation record.
func (s *MemoryStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conversation(nil), s.conversations...)
}

func (s *MemoryStore) UserByPhone(ctx context.Context, phone string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpUserByPhone]; err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.PhoneNumber == phone {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) LovedOneByUser(ctx context.Context, userID string) (*LovedOne, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpLovedOneByUser]; err != nil {
		return nil, err
	}
	for _, l := range s.lovedOnes {
		if l.UserID == userID {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Medications(ctx context.Context, lovedOneID string) ([]Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpMedications]; err != nil {
		return nil, err
	}
	var out []Medication
	for _, m := range s.medications {
		if m.LovedOneID == lovedOneID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) CallPreferences(ctx context.Context, lovedOneID string) (*CallPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpCallPreferences]; err != nil {
		return nil, err
	}
	for _, p := range s.preferences {
		if p.LovedOneID == lovedOneID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) NotificationSettings(ctx context.Context, lovedOneID string) (*NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpNotificationSettings]; err != nil {
		return nil, err
	}
	for _, n := range s.notifications {
		if n.LovedOneID == lovedOneID {
			return &n, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Appointments(ctx context.Context, lovedOneID string) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[OpAppointments]; err != nil {
		return nil, err
	}
	var out []Appointment
	for _, a := range s.appointments {
		if a.LovedOneID == lovedOneID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) EnsureUser(ctx context.Context, phone, name string) (*User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpEnsureUser]; err != nil {
		return nil, false, err
	}
	for _, u := range s.users {
		if u.PhoneNumber == phone {
			return &u, false, nil
		}
	}
	u := User{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		UserName:    name,
		CreatedAt:   time.Now().UTC(),
	}
	s.users = append(s.users, u)
	return &u, true, nil
}

func (s *MemoryStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[OpInsertConversation]; err != nil {
		return err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	s.conversations = append(s.conversations, *conv)
	return nil
}
