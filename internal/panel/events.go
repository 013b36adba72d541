package panel

import "github.com/dscbridge/dsc2ws/internal/itv2"

// Change events published by the store. Subscribers receive snapshots, not
// live pointers, and may run on any session goroutine.
type Event interface {
	SessionID() string
}

type SessionStateChanged struct {
	Session string
}

func (e SessionStateChanged) SessionID() string { return e.Session }

type PartitionStateChanged struct {
	Session   string
	Partition PartitionState
}

func (e PartitionStateChanged) SessionID() string { return e.Session }

type ZoneStateChanged struct {
	Session string
	Zone    ZoneState
}

func (e ZoneStateChanged) SessionID() string { return e.Session }

// PanelEventLogged surfaces one panel event-buffer entry.
type PanelEventLogged struct {
	Session string
	Entry   itv2.EventBufferEntry
}

func (e PanelEventLogged) SessionID() string { return e.Session }
