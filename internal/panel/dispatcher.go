package panel

import (
	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/util"
)

// Dispatcher routes decoded inbound records to the state-update handlers.
// Handler failures are logged and swallowed; a bad notification never
// takes the session down.
type Dispatcher struct {
	log   *log.Logger
	store *Store
}

func NewDispatcher(store *Store, logger *log.Logger) *Dispatcher {
	return &Dispatcher{log: logger, store: store}
}

// Dispatch handles one inbound record for a session. MultipleMessage
// containers are unpacked and dispatched entry by entry, in order.
func (d *Dispatcher) Dispatch(sessionID string, m itv2.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Handler for %v panicked: %v", m.Command(), r)
		}
	}()

	switch msg := m.(type) {
	case *itv2.MultipleMessage:
		for _, sub := range msg.Messages {
			d.Dispatch(sessionID, sub)
		}
	case *itv2.NotificationArmDisarm:
		d.handleArmDisarm(sessionID, msg)
	case *itv2.NotificationPartitionReadyStatus:
		d.handleReadyStatus(sessionID, msg)
	case *itv2.NotificationExitDelay:
		d.handleExitDelay(sessionID, msg)
	case *itv2.NotificationEntryDelay:
		d.handleEntryDelay(sessionID, msg)
	case *itv2.NotificationAlarmStatus:
		d.handleAlarmStatus(sessionID, msg)
	case *itv2.NotificationLifestyleZoneStatus:
		d.handleZoneStatus(sessionID, msg)
	case *itv2.NotificationZoneLabel:
		d.store.UpdateZone(sessionID, msg.Zone, func(z *ZoneState) {
			z.Name = util.Normalize(msg.Label)
		})
	case *itv2.NotificationPartitionLabel:
		d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
			p.Name = util.Normalize(msg.Label)
		})
	case *itv2.NotificationTroubleStatus:
		d.log.Panel("Trouble %d active=%v on device %d", msg.Trouble, msg.Active, msg.Device)
	case *itv2.NotificationDateTimeBroadcast:
		d.store.UpdateSession(sessionID, func(s *SessionState) {
			s.PanelDateTime = msg.DateTime
			s.SyncedAt = d.store.now()
		})
	case *itv2.NotificationEventBuffer:
		for _, entry := range msg.Events {
			d.log.Panel("Event %#04x partition=%d device=%d at %v",
				entry.EventCode, entry.Partition, entry.Device, entry.DateTime)
			d.store.publish(PanelEventLogged{Session: sessionID, Entry: entry})
		}
	case *itv2.NotificationZonePartitionAssignment:
		d.store.UpdateZone(sessionID, msg.Zone, func(z *ZoneState) {
			z.Partitions = append([]uint8(nil), msg.Partitions...)
		})
	case *itv2.DefaultMessage:
		d.log.Debug("Unhandled command %v (%d bytes)", msg.Cmd, len(msg.Raw))
	}
}

func (d *Dispatcher) handleArmDisarm(sessionID string, msg *itv2.NotificationArmDisarm) {
	d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
		switch msg.ArmMode {
		case itv2.ArmModeDisarm:
			p.Status = StatusDisarmed
			p.ExitDelay = nil
		case itv2.ArmModeStay, itv2.ArmModeStayForce:
			p.Status = StatusArmedHome
		case itv2.ArmModeNight:
			p.Status = StatusArmedNight
		default:
			// Away variants and anything unrecognised arm fully.
			p.Status = StatusArmedAway
		}
	})
}

func (d *Dispatcher) handleReadyStatus(sessionID string, msg *itv2.NotificationPartitionReadyStatus) {
	d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
		p.IsReady = msg.Status == itv2.ReadyStatusReadyToArm ||
			msg.Status == itv2.ReadyStatusReadyToForceArm
		// A ready report always means the partition is sitting disarmed.
		p.Status = StatusDisarmed
		p.ExitDelay = nil
	})
}

func (d *Dispatcher) handleExitDelay(sessionID string, msg *itv2.NotificationExitDelay) {
	d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
		if !msg.Active || msg.Duration == 0 {
			p.ExitDelay = nil
			return
		}
		// Repeated announcements of the same countdown keep the original
		// start so the remaining time keeps draining.
		if p.ExitDelay == nil || p.ExitDelay.DurationSeconds != int(msg.Duration) {
			p.ExitDelay = &ExitDelay{
				StartedAt:       d.store.now(),
				DurationSeconds: int(msg.Duration),
			}
		}
		p.ExitDelay.Audible = msg.Audible
		p.ExitDelay.Urgent = msg.Urgent
	})
}

func (d *Dispatcher) handleEntryDelay(sessionID string, msg *itv2.NotificationEntryDelay) {
	d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
		if msg.Active {
			p.Status = StatusPending
			p.ExitDelay = nil
		}
	})
}

func (d *Dispatcher) handleAlarmStatus(sessionID string, msg *itv2.NotificationAlarmStatus) {
	d.store.UpdatePartition(sessionID, msg.Partition, func(p *PartitionState) {
		p.Status = StatusTriggered
	})
	if msg.Zone != 0 {
		d.store.UpdateZone(sessionID, msg.Zone, func(z *ZoneState) {
			z.IsOpen = true
		})
	}
}

func (d *Dispatcher) handleZoneStatus(sessionID string, msg *itv2.NotificationLifestyleZoneStatus) {
	d.store.UpdateZone(sessionID, msg.Zone, func(z *ZoneState) {
		z.IsOpen = msg.Status == itv2.ZoneStatusOpen
	})
}
