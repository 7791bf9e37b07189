package state

import (
	"sync"

	"codeberg.org/mutker/sawctl/internal/snapshot"
	"github.com/google/uuid"
)

// View is what collaborators see: the last processed snapshot, the state
// and the cut session it belongs to. Seq increases on every publish.
type View struct {
	Snapshot *snapshot.Snapshot
	State    SystemState
	Session  uuid.UUID
	Seq      uint64
}

// Shared is the published slot. Its lock is also handed to the control
// statistics and the controller factory so one mutex guards all state
// shared between loops. It is only held to copy values in or out.
type Shared struct {
	mu   sync.Mutex
	view View
}

func NewShared() *Shared {
	return &Shared{view: View{State: Idle}}
}

// Locker exposes the slot's mutex to the other holders of shared state.
func (s *Shared) Locker() sync.Locker {
	return &s.mu
}

// Publish stores the latest snapshot.
func (s *Shared) Publish(snap *snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Snapshot = snap
	s.view.Seq++
}

// SetState records a state change and the session it belongs to.
func (s *Shared) SetState(st SystemState, session uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.State = st
	s.view.Session = session
}

// View returns a copy of the slot. Snapshots are immutable, so the
// pointer may be shared.
func (s *Shared) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Snapshot returns the last published snapshot, nil before the first.
func (s *Shared) Snapshot() *snapshot.Snapshot {
	return s.View().Snapshot
}

// State returns the published state.
func (s *Shared) State() SystemState {
	return s.View().State
}
