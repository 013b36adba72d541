package panel

import "time"

// PartitionStatus is the stored arming state of a partition.
type PartitionStatus int

const (
	StatusUnknown PartitionStatus = iota
	StatusDisarmed
	StatusArmedAway
	StatusArmedHome
	StatusArmedNight
	StatusArming
	StatusPending
	StatusTriggered
)

func (s PartitionStatus) String() string {
	switch s {
	case StatusDisarmed:
		return "disarmed"
	case StatusArmedAway:
		return "armed_away"
	case StatusArmedHome:
		return "armed_home"
	case StatusArmedNight:
		return "armed_night"
	case StatusArming:
		return "arming"
	case StatusPending:
		return "pending"
	case StatusTriggered:
		return "triggered"
	}
	return "unknown"
}

// ExitDelay tracks an active exit-delay countdown.
type ExitDelay struct {
	StartedAt       time.Time
	DurationSeconds int
	Audible         bool
	Urgent          bool
}

// Remaining returns the countdown left at now.
func (d *ExitDelay) Remaining(now time.Time) time.Duration {
	end := d.StartedAt.Add(time.Duration(d.DurationSeconds) * time.Second)
	if now.After(end) {
		return 0
	}
	return end.Sub(now)
}

// PartitionState is the per-partition record of a session.
type PartitionState struct {
	Number      uint8
	Name        string
	Status      PartitionStatus
	IsReady     bool
	ExitDelay   *ExitDelay
	LastUpdated time.Time
}

// EffectiveStatus reports Arming while an exit delay is counting down,
// regardless of the stored status.
func (p *PartitionState) EffectiveStatus(now time.Time) PartitionStatus {
	if p.ExitDelay != nil && p.ExitDelay.Remaining(now) > 0 {
		return StatusArming
	}
	return p.Status
}

func (p *PartitionState) snapshot() PartitionState {
	out := *p
	if p.ExitDelay != nil {
		d := *p.ExitDelay
		out.ExitDelay = &d
	}
	return out
}

// ZoneState is the per-zone record of a session.
type ZoneState struct {
	Number      uint16
	Name        string
	DeviceClass string
	IsOpen      bool
	Partitions  []uint8
	LastUpdated time.Time
}

func (z *ZoneState) snapshot() ZoneState {
	out := *z
	out.Partitions = append([]uint8(nil), z.Partitions...)
	return out
}

// SessionState is one connected panel's model.
type SessionState struct {
	ID   string
	Name string

	Partitions map[uint8]*PartitionState
	Zones      map[uint16]*ZoneState

	PanelDateTime time.Time
	SyncedAt      time.Time
	LastUpdated   time.Time
}

// PanelDateTimeNow projects the last broadcast panel clock to now.
func (s *SessionState) PanelDateTimeNow(now time.Time) time.Time {
	if s.PanelDateTime.IsZero() {
		return time.Time{}
	}
	return s.PanelDateTime.Add(now.Sub(s.SyncedAt))
}
