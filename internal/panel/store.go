package panel

import (
	"sort"
	"sync"
	"time"

	"github.com/dscbridge/dsc2ws/internal/log"
)

// Store is the in-memory panel-state model: one SessionState per connected
// panel, partition and zone entries created lazily by the first
// notification that references them. Every mutation stamps LastUpdated and
// publishes a change event.
type Store struct {
	log *log.Logger
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*SessionState

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewStore(logger *log.Logger) *Store {
	return &Store{
		log:      logger,
		now:      time.Now,
		sessions: make(map[string]*SessionState),
		subs:     make(map[int]chan Event),
	}
}

// Subscribe returns a buffered event channel and a cancel function. Slow
// subscribers lose events rather than stalling sessions.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 64)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.log.Warn("Dropping state event for slow subscriber")
		}
	}
}

// EnsureSession creates the session entry if needed.
func (s *Store) EnsureSession(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if !ok {
		s.sessions[id] = &SessionState{
			ID:         id,
			Partitions: make(map[uint8]*PartitionState),
			Zones:      make(map[uint16]*ZoneState),
		}
	}
	s.mu.Unlock()
	if !ok {
		s.publish(SessionStateChanged{Session: id})
	}
}

// RemoveSession drops a session's state when its connection dies.
func (s *Store) RemoveSession(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.publish(SessionStateChanged{Session: id})
	}
}

// UpdateSession applies fn to the session entry under the lock.
func (s *Store) UpdateSession(id string, fn func(*SessionState)) {
	s.mu.Lock()
	state := s.ensureLocked(id)
	fn(state)
	state.LastUpdated = s.now()
	s.mu.Unlock()
	s.publish(SessionStateChanged{Session: id})
}

// UpdatePartition applies fn to a partition entry, creating it on first
// reference, and publishes the resulting snapshot.
func (s *Store) UpdatePartition(id string, number uint8, fn func(*PartitionState)) {
	s.mu.Lock()
	state := s.ensureLocked(id)
	p, ok := state.Partitions[number]
	if !ok {
		p = &PartitionState{Number: number, Status: StatusUnknown}
		state.Partitions[number] = p
	}
	fn(p)
	p.LastUpdated = s.now()
	snap := p.snapshot()
	s.mu.Unlock()
	s.publish(PartitionStateChanged{Session: id, Partition: snap})
}

// UpdateZone applies fn to a zone entry, creating it on first reference
// with the default partition association for its number.
func (s *Store) UpdateZone(id string, number uint16, fn func(*ZoneState)) {
	s.mu.Lock()
	state := s.ensureLocked(id)
	z, ok := state.Zones[number]
	if !ok {
		z = &ZoneState{
			Number:      number,
			DeviceClass: "door",
			Partitions:  []uint8{defaultPartition(number)},
		}
		state.Zones[number] = z
	}
	fn(z)
	z.LastUpdated = s.now()
	snap := z.snapshot()
	s.mu.Unlock()
	s.publish(ZoneStateChanged{Session: id, Zone: snap})
}

// defaultPartition is the association assumed for a zone that has never
// reported one: zones are banked 64 per partition.
func defaultPartition(zone uint16) uint8 {
	if zone == 0 {
		return 1
	}
	return uint8((zone-1)/64 + 1)
}

func (s *Store) ensureLocked(id string) *SessionState {
	state, ok := s.sessions[id]
	if !ok {
		state = &SessionState{
			ID:         id,
			Partitions: make(map[uint8]*PartitionState),
			Zones:      make(map[uint16]*ZoneState),
		}
		s.sessions[id] = state
	}
	return state
}

// Partition returns a snapshot of one partition.
func (s *Store) Partition(id string, number uint8) (PartitionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return PartitionState{}, false
	}
	p, ok := state.Partitions[number]
	if !ok {
		return PartitionState{}, false
	}
	return p.snapshot(), true
}

// Zone returns a snapshot of one zone.
func (s *Store) Zone(id string, number uint16) (ZoneState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return ZoneState{}, false
	}
	z, ok := state.Zones[number]
	if !ok {
		return ZoneState{}, false
	}
	return z.snapshot(), true
}

// Partitions lists partition snapshots for a session, ordered by number.
func (s *Store) Partitions(id string) []PartitionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]PartitionState, 0, len(state.Partitions))
	for _, p := range state.Partitions {
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Zones lists zone snapshots for a session, ordered by number.
func (s *Store) Zones(id string) []ZoneState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]ZoneState, 0, len(state.Zones))
	for _, z := range state.Zones {
		out = append(out, z.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Session returns a shallow session snapshot (maps excluded).
func (s *Store) Session(id string) (SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return SessionState{}, false
	}
	out := *state
	out.Partitions = nil
	out.Zones = nil
	return out, true
}

// SessionIDs lists the sessions with state.
func (s *Store) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}
