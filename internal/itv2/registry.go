package itv2

import (
	"encoding/binary"
	"fmt"
)

// The message catalogue. One static table maps wire commands to record
// factories, the app-sequence flag and the transaction pattern each record
// drives. Built once at init; duplicate command codes are a programming
// error and panic at startup.

type entry struct {
	name    string
	command Command
	appSeq  bool
	pattern Pattern
	factory func() Message
}

var registry = make(map[Command]*entry)

func register(name string, cmd Command, appSeq bool, pattern Pattern, factory func() Message) {
	if _, dup := registry[cmd]; dup {
		panic(fmt.Sprintf("itv2: duplicate command %#04x (%s)", uint16(cmd), name))
	}
	registry[cmd] = &entry{name: name, command: cmd, appSeq: appSeq, pattern: pattern, factory: factory}
}

func init() {
	// Acknowledgement plumbing; PatternNone records never open an inbound
	// transaction of their own.
	register("SimpleAck", CmdSimpleAck, false, PatternNone, func() Message { return &SimpleAck{} })
	register("CommandResponse", CmdCommandResponse, false, PatternNone, func() Message { return &CommandResponse{} })
	register("CommandError", CmdCommandError, false, PatternNone, func() Message { return &CommandError{} })
	register("ConnectionPoll", CmdConnectionPoll, false, PatternSimpleAck, func() Message { return &ConnectionPoll{} })
	register("CommandRequest", CmdCommandRequest, false, PatternCommandRequest, func() Message { return &CommandRequestMessage{} })
	register("MultipleMessage", CmdMultipleMessage, false, PatternSimpleAck, func() Message { return &MultipleMessage{} })

	register("OpenSession", CmdOpenSession, false, PatternSimpleAck, func() Message { return &OpenSession{} })
	register("RequestAccess", CmdRequestAccess, false, PatternSimpleAck, func() Message { return &RequestAccess{} })
	register("CloseSession", CmdCloseSession, false, PatternSimpleAck, func() Message { return &CloseSession{} })
	register("SoftwareVersionResponse", CmdSoftwareVersion, false, PatternSimpleAck, func() Message { return &SoftwareVersionResponse{} })

	register("PartitionArm", CmdPartitionArm, false, PatternCommandResponse, func() Message { return &PartitionArm{} })
	register("ZoneBypassWrite", CmdZoneBypass, false, PatternCommandResponse, func() Message { return &ZoneBypassWrite{} })
	register("TimeDateWrite", CmdTimeDateWrite, false, PatternCommandResponse, func() Message { return &TimeDateWrite{} })

	register("NotificationArmDisarm", CmdNotificationArmDisarm, true, PatternSimpleAck, func() Message { return &NotificationArmDisarm{} })
	register("NotificationPartitionReadyStatus", CmdNotificationPartitionReadyStatus, true, PatternSimpleAck, func() Message { return &NotificationPartitionReadyStatus{} })
	register("NotificationExitDelay", CmdNotificationExitDelay, true, PatternSimpleAck, func() Message { return &NotificationExitDelay{} })
	register("NotificationEntryDelay", CmdNotificationEntryDelay, true, PatternSimpleAck, func() Message { return &NotificationEntryDelay{} })
	register("NotificationAlarmStatus", CmdNotificationAlarmStatus, true, PatternSimpleAck, func() Message { return &NotificationAlarmStatus{} })
	register("NotificationLifestyleZoneStatus", CmdNotificationLifestyleZoneStatus, true, PatternSimpleAck, func() Message { return &NotificationLifestyleZoneStatus{} })
	register("NotificationZoneLabel", CmdNotificationZoneLabel, true, PatternSimpleAck, func() Message { return &NotificationZoneLabel{} })
	register("NotificationPartitionLabel", CmdNotificationPartitionLabel, true, PatternSimpleAck, func() Message { return &NotificationPartitionLabel{} })
	register("NotificationTroubleStatus", CmdNotificationTroubleStatus, true, PatternSimpleAck, func() Message { return &NotificationTroubleStatus{} })
	register("NotificationDateTimeBroadcast", CmdNotificationDateTimeBroadcast, true, PatternSimpleAck, func() Message { return &NotificationDateTimeBroadcast{} })
	register("NotificationEventBuffer", CmdNotificationEventBuffer, true, PatternSimpleAck, func() Message { return &NotificationEventBuffer{} })
	register("NotificationZonePartitionAssignment", CmdNotificationZonePartitionAssignment, true, PatternSimpleAck, func() Message { return &NotificationZonePartitionAssignment{} })
}

// HasAppSequence reports whether the command carries an app-sequence byte.
func HasAppSequence(cmd Command) bool {
	e, ok := registry[cmd]
	return ok && e.appSeq
}

// PatternOf returns the transaction pattern a record drives when it opens
// an exchange. Unknown commands fall back to SimpleAck so the peer still
// gets its acknowledgement.
func PatternOf(m Message) Pattern {
	if e, ok := registry[m.Command()]; ok {
		return e.pattern
	}
	return PatternSimpleAck
}

// encodeEnvelope serialises command, optional app-sequence byte and record
// body. appSeq is ignored for commands without the flag and must be nil for
// sub-messages.
func encodeEnvelope(m Message, appSeq *uint8) ([]byte, error) {
	e, known := registry[m.Command()]
	if !known {
		if _, isDefault := m.(*DefaultMessage); !isDefault {
			return nil, &NotRegisteredError{Command: m.Command()}
		}
	}

	body, err := encodeFields(m.fields())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 3+len(body))
	var cmd [2]byte
	binary.BigEndian.PutUint16(cmd[:], uint16(m.Command()))
	out = append(out, cmd[:]...)
	if known && e.appSeq && appSeq != nil {
		out = append(out, *appSeq)
	}
	return append(out, body...), nil
}

// decodeEnvelope parses a command header and dispatches the remainder to
// the resolved record's field list. Unknown commands deserialize to
// DefaultMessage. withAppSeq is false for sub-messages, which never carry
// the extra byte.
func decodeEnvelope(data []byte, withAppSeq bool) (Message, uint8, error) {
	if len(data) < 2 {
		return nil, 0, &EncodingError{Reason: "envelope shorter than command header"}
	}
	cmd := Command(binary.BigEndian.Uint16(data[:2]))
	rest := data[2:]

	var appSeq uint8
	e, known := registry[cmd]
	if known && e.appSeq && withAppSeq {
		if len(rest) < 1 {
			return nil, 0, &EncodingError{Reason: "missing app sequence byte"}
		}
		appSeq = rest[0]
		rest = rest[1:]
	}

	var msg Message
	if known {
		msg = e.factory()
	} else {
		msg = &DefaultMessage{Cmd: cmd}
	}
	if err := decodeFields(msg.fields(), rest); err != nil {
		return nil, 0, err
	}
	return msg, appSeq, nil
}
