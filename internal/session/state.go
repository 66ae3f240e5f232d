package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// State — состояние диалога одного чата.
type State int

const (
	Idle State = iota
	AwaitingDescription
)

func (s State) String() string {
	if s == AwaitingDescription {
		return "awaiting_description"
	}
	return "idle"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = Idle
	case "awaiting_description":
		*s = AwaitingDescription
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

// StateStore хранит состояние диалога по чатам. Для чата без сохранённого
// состояния Get возвращает Idle.
type StateStore interface {
	Get(ctx context.Context, chatID int64) (State, error)
	Set(ctx context.Context, chatID int64, state State) error
}

// MemoryStore держит состояния в памяти процесса. Idle не хранится.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]State)}
}

func (s *MemoryStore) Get(_ context.Context, chatID int64) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[chatID], nil
}

func (s *MemoryStore) Set(_ context.Context, chatID int64, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == Idle {
		delete(s.states, chatID)
		return nil
	}
	s.states[chatID] = state
	return nil
}
