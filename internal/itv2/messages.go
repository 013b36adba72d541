package itv2

import (
	"fmt"
	"time"
)

// Command identifies a panel operation, big-endian u16 on the wire.
type Command uint16

const (
	CmdSimpleAck       Command = 0x0400
	CmdCommandResponse Command = 0x0401
	CmdCommandError    Command = 0x0402
	CmdConnectionPoll  Command = 0x0404
	CmdCommandRequest  Command = 0x0405
	CmdMultipleMessage Command = 0x0406

	CmdOpenSession     Command = 0x060E
	CmdRequestAccess   Command = 0x060F
	CmdCloseSession    Command = 0x0610
	CmdSoftwareVersion Command = 0x0611

	CmdPartitionArm  Command = 0x0622
	CmdZoneBypass    Command = 0x0623
	CmdTimeDateWrite Command = 0x0624

	CmdNotificationArmDisarm               Command = 0x0841
	CmdNotificationPartitionReadyStatus    Command = 0x0842
	CmdNotificationExitDelay               Command = 0x0843
	CmdNotificationEntryDelay              Command = 0x0844
	CmdNotificationAlarmStatus             Command = 0x0845
	CmdNotificationLifestyleZoneStatus     Command = 0x0846
	CmdNotificationZoneLabel               Command = 0x0847
	CmdNotificationPartitionLabel          Command = 0x0848
	CmdNotificationTroubleStatus           Command = 0x0849
	CmdNotificationDateTimeBroadcast       Command = 0x084A
	CmdNotificationEventBuffer             Command = 0x084B
	CmdNotificationZonePartitionAssignment Command = 0x084C
)

func (c Command) String() string {
	if e, ok := registry[c]; ok {
		return fmt.Sprintf("%s(%#04x)", e.name, uint16(c))
	}
	return fmt.Sprintf("%#04x", uint16(c))
}

// Message is one typed wire record. Records live in this package so the
// codec can reach their field lists.
type Message interface {
	Command() Command
	fields() []field
}

// --- enums ---

type ArmMode uint8

const (
	ArmModeDisarm ArmMode = iota
	ArmModeAway
	ArmModeStay
	ArmModeAwayNoEntryDelay
	ArmModeNight
	ArmModeAwayForce
	ArmModeStayForce
)

func (m ArmMode) String() string {
	switch m {
	case ArmModeDisarm:
		return "disarm"
	case ArmModeAway:
		return "away"
	case ArmModeStay:
		return "stay"
	case ArmModeAwayNoEntryDelay:
		return "away_no_entry_delay"
	case ArmModeNight:
		return "night"
	case ArmModeAwayForce:
		return "away_force"
	case ArmModeStayForce:
		return "stay_force"
	}
	return fmt.Sprintf("arm_mode_%d", uint8(m))
}

type ReadyStatus uint8

const (
	ReadyStatusNotReady ReadyStatus = iota
	ReadyStatusReadyToArm
	ReadyStatusReadyToForceArm
	ReadyStatusNotReadyTrouble
)

type ZoneStatus uint8

const (
	ZoneStatusClosed ZoneStatus = iota
	ZoneStatusOpen
	ZoneStatusTamper
	ZoneStatusFault
)

type ResponseCode uint8

const (
	ResponseSuccess ResponseCode = iota
	ResponseUnsupported
	ResponseBusy
	ResponseInvalidState
)

type AlarmType uint8

const (
	AlarmBurglary AlarmType = iota
	AlarmFire
	AlarmPanic
	AlarmMedical
	AlarmTamper
)

type TroubleType uint8

const (
	TroubleACFailure TroubleType = iota
	TroubleBatteryLow
	TroubleBellCircuit
	TroubleCommunication
	TroubleDeviceTamper
)

type CloseReason uint8

const (
	CloseReasonNormal CloseReason = iota
	CloseReasonReconfigure
	CloseReasonError
)

// NackCode classifies a panel-signalled command failure.
type NackCode uint8

const (
	NackUnknownCommand NackCode = iota + 1
	NackInvalidLength
	NackInvalidParameter
	NackAccessDenied
	NackBusy
	NackNotArmed
	NackNotReady
	NackUserCodeRequired
)

var nackDescriptions = map[NackCode]string{
	NackUnknownCommand:   "Unknown Command",
	NackInvalidLength:    "Invalid Message Length",
	NackInvalidParameter: "Invalid Parameter",
	NackAccessDenied:     "Access Denied",
	NackBusy:             "Panel Busy",
	NackNotArmed:         "Partition Not Armed",
	NackNotReady:         "Partition Not Ready To Arm",
	NackUserCodeRequired: "User Code Required",
}

func (n NackCode) String() string {
	if d, ok := nackDescriptions[n]; ok {
		return d
	}
	return fmt.Sprintf("Unknown Nack Code: %d", uint8(n))
}

// --- acknowledgement plumbing ---

type SimpleAck struct{}

func (*SimpleAck) Command() Command { return CmdSimpleAck }
func (*SimpleAck) fields() []field  { return nil }

type CommandResponse struct {
	Requested Command
	Code      ResponseCode
}

func (*CommandResponse) Command() Command { return CmdCommandResponse }
func (m *CommandResponse) fields() []field {
	return []field{
		u16be("requested", &m.Requested),
		u8("code", &m.Code),
	}
}

type CommandError struct {
	Nack NackCode
}

func (*CommandError) Command() Command { return CmdCommandError }
func (m *CommandError) fields() []field {
	return []field{u8("nack", &m.Nack)}
}

type ConnectionPoll struct{}

func (*ConnectionPoll) Command() Command { return CmdConnectionPoll }
func (*ConnectionPoll) fields() []field  { return nil }

// CommandRequestMessage asks the panel to produce the named record.
type CommandRequestMessage struct {
	Requested Command
	Data      []byte
}

func (*CommandRequestMessage) Command() Command { return CmdCommandRequest }
func (m *CommandRequestMessage) fields() []field {
	return []field{
		u16be("requested", &m.Requested),
		bytesRest("data", &m.Data),
	}
}

// MultipleMessage bundles several sub-envelopes, each behind a one-byte
// length. Sub-messages never carry an app-sequence byte.
type MultipleMessage struct {
	Messages []Message
}

func (*MultipleMessage) Command() Command { return CmdMultipleMessage }
func (m *MultipleMessage) fields() []field {
	return []field{{
		name: "messages",
		read: func(r *reader) error {
			m.Messages = nil
			for r.remaining() > 0 {
				n, err := readPrefix(r, 1)
				if err != nil {
					return err
				}
				if n == 0 {
					// cipher padding after the last entry
					break
				}
				b, err := r.take(n)
				if err != nil {
					return err
				}
				sub, _, err := decodeEnvelope(b, false)
				if err != nil {
					return err
				}
				m.Messages = append(m.Messages, sub)
			}
			return nil
		},
		write: func(w *writer) error {
			for _, sub := range m.Messages {
				b, err := encodeEnvelope(sub, nil)
				if err != nil {
					return err
				}
				if err := writePrefix(w, 1, len(b)); err != nil {
					return err
				}
				w.buf.Write(b)
			}
			return nil
		},
	}}
}

// DefaultMessage carries the raw payload of any command the catalogue does
// not know. It consumes exactly its payload.
type DefaultMessage struct {
	Cmd Command
	Raw []byte
}

func (m *DefaultMessage) Command() Command { return m.Cmd }
func (m *DefaultMessage) fields() []field {
	return []field{bytesRest("raw", &m.Raw)}
}

// --- session establishment ---

type OpenSession struct {
	DeviceType     uint8
	DeviceID       uint16
	Firmware       []byte
	Protocol       uint16
	TxBufferSize   uint16
	RxBufferSize   uint16
	EncryptionType EncryptionType
}

func (*OpenSession) Command() Command { return CmdOpenSession }
func (m *OpenSession) fields() []field {
	return []field{
		u8("deviceType", &m.DeviceType),
		u16be("deviceID", &m.DeviceID),
		bytesFixed("firmware", &m.Firmware, 4),
		u16be("protocol", &m.Protocol),
		u16be("txBufferSize", &m.TxBufferSize),
		u16be("rxBufferSize", &m.RxBufferSize),
		u8("encryptionType", &m.EncryptionType),
	}
}

type RequestAccess struct {
	Identifier  string
	Initializer []byte
}

func (*RequestAccess) Command() Command { return CmdRequestAccess }
func (m *RequestAccess) fields() []field {
	return []field{
		bcdFixed("identifier", &m.Identifier, 6),
		bytesRest("initializer", &m.Initializer),
	}
}

type CloseSession struct {
	Reason CloseReason
}

func (*CloseSession) Command() Command { return CmdCloseSession }
func (m *CloseSession) fields() []field {
	return []field{u8("reason", &m.Reason)}
}

type SoftwareVersionResponse struct {
	Version string
	Build   uint32
}

func (*SoftwareVersionResponse) Command() Command { return CmdSoftwareVersion }
func (m *SoftwareVersionResponse) fields() []field {
	return []field{
		bcdFixed("version", &m.Version, 2),
		compactU32("build", &m.Build),
	}
}

// --- commands toward the panel ---

type PartitionArm struct {
	Partition  uint8
	ArmMode    ArmMode
	AccessCode string
}

func (*PartitionArm) Command() Command { return CmdPartitionArm }
func (m *PartitionArm) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		u8("armMode", &m.ArmMode),
		bcdPrefixed("accessCode", &m.AccessCode),
	}
}

type ZoneBypassWrite struct {
	Zone   uint16
	Bypass bool
}

func (*ZoneBypassWrite) Command() Command { return CmdZoneBypass }
func (m *ZoneBypassWrite) fields() []field {
	return []field{
		u16be("zone", &m.Zone),
		bitfield("flags", 1, bitBool(&m.Bypass, 0)),
	}
}

type TimeDateWrite struct {
	DateTime time.Time
}

func (*TimeDateWrite) Command() Command { return CmdTimeDateWrite }
func (m *TimeDateWrite) fields() []field {
	return []field{packedTime("dateTime", &m.DateTime)}
}

// --- notifications from the panel ---

type NotificationArmDisarm struct {
	Partition uint8
	ArmMode   ArmMode
	UserID    uint16
}

func (*NotificationArmDisarm) Command() Command { return CmdNotificationArmDisarm }
func (m *NotificationArmDisarm) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		u8("armMode", &m.ArmMode),
		compactU16("userID", &m.UserID),
	}
}

type NotificationPartitionReadyStatus struct {
	Partition uint8
	Status    ReadyStatus
}

func (*NotificationPartitionReadyStatus) Command() Command {
	return CmdNotificationPartitionReadyStatus
}
func (m *NotificationPartitionReadyStatus) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		u8("status", &m.Status),
	}
}

// NotificationExitDelay reports the exit-delay countdown. DelayFlags bits:
// audible 0x01, restarted 0x02, urgent 0x04, active 0x80.
type NotificationExitDelay struct {
	Partition uint8
	Audible   bool
	Restarted bool
	Urgent    bool
	Active    bool
	Duration  uint16
}

func (*NotificationExitDelay) Command() Command { return CmdNotificationExitDelay }
func (m *NotificationExitDelay) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		bitfield("delayFlags", 1,
			bitBool(&m.Audible, 0),
			bitBool(&m.Restarted, 1),
			bitBool(&m.Urgent, 2),
			bitBool(&m.Active, 7),
		),
		u16be("duration", &m.Duration),
	}
}

type NotificationEntryDelay struct {
	Partition uint8
	Audible   bool
	Restarted bool
	Urgent    bool
	Active    bool
	Duration  uint16
}

func (*NotificationEntryDelay) Command() Command { return CmdNotificationEntryDelay }
func (m *NotificationEntryDelay) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		bitfield("delayFlags", 1,
			bitBool(&m.Audible, 0),
			bitBool(&m.Restarted, 1),
			bitBool(&m.Urgent, 2),
			bitBool(&m.Active, 7),
		),
		u16be("duration", &m.Duration),
	}
}

type NotificationAlarmStatus struct {
	Partition uint8
	Zone      uint16
	AlarmType AlarmType
}

func (*NotificationAlarmStatus) Command() Command { return CmdNotificationAlarmStatus }
func (m *NotificationAlarmStatus) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		u16be("zone", &m.Zone),
		u8("alarmType", &m.AlarmType),
	}
}

type NotificationLifestyleZoneStatus struct {
	Zone   uint16
	Status ZoneStatus
}

func (*NotificationLifestyleZoneStatus) Command() Command {
	return CmdNotificationLifestyleZoneStatus
}
func (m *NotificationLifestyleZoneStatus) fields() []field {
	return []field{
		u16be("zone", &m.Zone),
		u8("status", &m.Status),
	}
}

type NotificationZoneLabel struct {
	Zone  uint16
	Label string
}

func (*NotificationZoneLabel) Command() Command { return CmdNotificationZoneLabel }
func (m *NotificationZoneLabel) fields() []field {
	return []field{
		u16be("zone", &m.Zone),
		utf16String("label", &m.Label, 1),
	}
}

type NotificationPartitionLabel struct {
	Partition uint8
	Label     string
}

func (*NotificationPartitionLabel) Command() Command { return CmdNotificationPartitionLabel }
func (m *NotificationPartitionLabel) fields() []field {
	return []field{
		u8("partition", &m.Partition),
		utf16String("label", &m.Label, 1),
	}
}

type NotificationTroubleStatus struct {
	Device  uint16
	Trouble TroubleType
	Active  bool
}

func (*NotificationTroubleStatus) Command() Command { return CmdNotificationTroubleStatus }
func (m *NotificationTroubleStatus) fields() []field {
	return []field{
		compactU16("device", &m.Device),
		u8("trouble", &m.Trouble),
		bitfield("flags", 1, bitBool(&m.Active, 0)),
	}
}

type NotificationDateTimeBroadcast struct {
	DateTime time.Time
}

func (*NotificationDateTimeBroadcast) Command() Command { return CmdNotificationDateTimeBroadcast }
func (m *NotificationDateTimeBroadcast) fields() []field {
	return []field{packedTime("dateTime", &m.DateTime)}
}

// EventBufferEntry is one panel event-log record nested inside
// NotificationEventBuffer.
type EventBufferEntry struct {
	DateTime  time.Time
	EventCode uint16
	Partition uint8
	Device    uint16
}

func (e *EventBufferEntry) fields() []field {
	return []field{
		packedTime("dateTime", &e.DateTime),
		u16be("eventCode", &e.EventCode),
		u8("partition", &e.Partition),
		compactU16("device", &e.Device),
	}
}

type NotificationEventBuffer struct {
	Events []EventBufferEntry
}

func (*NotificationEventBuffer) Command() Command { return CmdNotificationEventBuffer }
func (m *NotificationEventBuffer) fields() []field {
	return []field{
		objectArray("events", &m.Events, 1, (*EventBufferEntry).fields),
	}
}

type NotificationZonePartitionAssignment struct {
	Zone       uint16
	Partitions []byte
}

func (*NotificationZonePartitionAssignment) Command() Command {
	return CmdNotificationZonePartitionAssignment
}
func (m *NotificationZonePartitionAssignment) fields() []field {
	return []field{
		u16be("zone", &m.Zone),
		bytesPrefixed("partitions", &m.Partitions, 1),
	}
}
