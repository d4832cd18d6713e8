package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the conversation step a submission is waiting on.
type State string

const (
	StateIdle        State = "IDLE"
	StateCategory    State = "CATEGORY"
	StatePhoto       State = "PHOTO"
	StateLocation    State = "LOCATION"
	StateDescription State = "DESCRIPTION"
)

// Submission is one in-progress report, mutated field by field as each step completes.
type Submission struct {
	ID          string
	UserID      int64
	ChatID      int64
	State       State
	Category    string
	PhotoFileID string
	PhotoRef    string
	Latitude    float64
	Longitude   float64
	HasLocation bool
	Description string
	StartedAt   time.Time
}

// New starts a fresh submission waiting for a category.
func New(userID, chatID int64, now time.Time) Submission {
	return Submission{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		State:     StateCategory,
		StartedAt: now,
	}
}

// Store holds at most one in-progress submission per user.
type Store interface {
	Get(userID int64) (Submission, bool)
	Put(sub Submission)
	Delete(userID int64)
	Len() int
}

// MemoryStore is the ephemeral process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[int64]Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[int64]Submission)}
}

func (m *MemoryStore) Get(userID int64) (Submission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[userID]
	return sub, ok
}

// Put replaces whatever the user had in progress.
func (m *MemoryStore) Put(sub Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.UserID] = sub
}

func (m *MemoryStore) Delete(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, userID)
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
