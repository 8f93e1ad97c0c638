package sync

import (
	"log/slog"
	"sync"
	"time"
)

const syncEventBufferSize = 16

// SyncState is the engine lifecycle state.
type SyncState string

const (
	StateLoading  SyncState = "loading"
	StateReady    SyncState = "ready"
	StateChecking SyncState = "checking"
	StateTesting  SyncState = "testing"
	StateSyncing  SyncState = "syncing"
	StateError    SyncState = "error"
)

type SyncEventType string

const (
	EventStateChanged SyncEventType = "state"
	EventWarning      SyncEventType = "warning"
)

// SyncEvent is broadcast on every state change and every surfaced skip.
type SyncEvent struct {
	Type    SyncEventType
	State   SyncState
	Message string
	Path    string
	Reason  SkipReason
	Time    time.Time
}

// SyncStatus holds the engine state and fans events out to subscribers.
type SyncStatus struct {
	mu      sync.RWMutex
	state   SyncState
	message string

	eventSubs []chan *SyncEvent
	eventMu   sync.RWMutex
}

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		state: StateLoading,
	}
}

func (s *SyncStatus) State() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Message is the error message of the last transition to StateError.
func (s *SyncStatus) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

// SetState moves to state. msg is kept only for StateError.
func (s *SyncStatus) SetState(state SyncState, msg string) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	if state == StateError {
		s.message = msg
	} else {
		s.message = ""
	}
	s.mu.Unlock()

	switch {
	case state == StateError:
		slog.Error("sync state", "state", state, "error", msg)
	case state == StateReady && prev == StateSyncing:
		slog.Info("synchronization completed")
	case state == StateReady && prev == StateTesting:
		slog.Info("test passed")
	default:
		slog.Debug("sync state", "from", prev, "to", state)
	}

	s.broadcastEvent(&SyncEvent{
		Type:    EventStateChanged,
		State:   state,
		Message: msg,
		Time:    time.Now(),
	})
}

// Warn publishes a skipped file or a truncated listing.
func (s *SyncStatus) Warn(path string, reason SkipReason) {
	s.broadcastEvent(&SyncEvent{
		Type:   EventWarning,
		State:  s.State(),
		Path:   path,
		Reason: reason,
		Time:   time.Now(),
	})
}

func (s *SyncStatus) Subscribe() <-chan *SyncEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

func (s *SyncStatus) Unsubscribe(ch <-chan *SyncEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcastEvent(event *SyncEvent) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// subscriber is behind, drop rather than block the engine
		}
	}
}
