package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/mongo"
)

// Action represents an audited action
type Action string

const (
	ActionInitiateCall Action = "initiate_call"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collection holds audit entries.
const Collection = "audit_log"

type Entry struct {
	Subject string `bson:"subject" json:"subject"`
	Action  Action `bson:"action" json:"action"`
	// Resource is the masked target, never a raw phone number.
	Resource  string            `bson:"resource" json:"resource"`
	Outcome   string            `bson:"outcome" json:"outcome"`
	Detail    string            `bson:"detail,omitempty" json:"detail,omitempty"`
	Metadata  map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// MongoRecorder writes entries to the audit_log collection.
type MongoRecorder struct {
	client *mongo.Client
}

func NewMongoRecorder(client *mongo.Client) *MongoRecorder {
	return &MongoRecorder{client: client}
}

func (r *MongoRecorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.client == nil {
		logger.Log.Warn("Audit logging skipped: MongoDB client not available")
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.NewQuery(Collection).Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// MemoryRecorder keeps entries in memory; used by tests and local runs.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
