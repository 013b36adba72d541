package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dscbridge/dsc2ws/internal/config"
	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/panel"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"
)

// PanelControl mirrors the facade's command surface.
type PanelControl interface {
	Arm(ctx context.Context, sessionID string, partition uint8, mode itv2.ArmMode, code string) error
}

// MQTT mirrors panel state onto an MQTT broker and accepts arm/disarm
// commands on per-partition command topics.
type MQTT struct {
	config  *config.MQTTConfig
	store   *panel.Store
	control PanelControl
	log     *log.Logger
	client  mqtt.Client
	topics  *Topics
	cancel  func()
}

func NewMQTT(cfg *config.MQTTConfig, store *panel.Store, control PanelControl, logger *log.Logger) *MQTT {
	return &MQTT{
		config:  cfg,
		store:   store,
		control: control,
		log:     logger,
		topics:  NewTopics(cfg.Prefix),
	}
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), m.config.Retain)

	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	events, cancel := m.store.Subscribe()
	m.cancel = cancel
	go m.pump(events)

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.publish(m.topics.Status(), onlinePayload, true)
	m.subscribeCommands()
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) pump(events <-chan panel.Event) {
	for e := range events {
		switch ev := e.(type) {
		case panel.PartitionStateChanged:
			m.publishPartition(ev.Session, ev.Partition)
		case panel.ZoneStateChanged:
			m.publishZone(ev.Session, ev.Zone)
		case panel.PanelEventLogged:
			m.publishLogEntry(ev.Session, ev.Entry)
		}
	}
}

func (m *MQTT) subscribeCommands() {
	topic := m.topics.CommandPattern()
	token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleCommand)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
	} else {
		m.log.Debug("Subscribed to topic: %s", topic)
	}
}

// handleCommand accepts arm_away/arm_home/arm_night/disarm payloads on
// <prefix>/<session>/partition/<n>/command.
func (m *MQTT) handleCommand(client mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 5 {
		m.log.Warn("Received message on unknown topic: %s", msg.Topic())
		return
	}
	sessionID := parts[1]
	number, err := strconv.Atoi(parts[3])
	if err != nil || number < 0 || number > 255 {
		m.log.Warn("Invalid partition in topic: %s", msg.Topic())
		return
	}

	var mode itv2.ArmMode
	switch string(msg.Payload()) {
	case "arm_away":
		mode = itv2.ArmModeAway
	case "arm_home":
		mode = itv2.ArmModeStay
	case "arm_night":
		mode = itv2.ArmModeNight
	case "disarm":
		mode = itv2.ArmModeDisarm
	default:
		m.log.Warn("Unknown partition command: %s", msg.Payload())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.control.Arm(ctx, sessionID, uint8(number), mode, ""); err != nil {
		m.log.Error("Partition command failed: %v", err)
	}
}

func (m *MQTT) publishPartition(sessionID string, p panel.PartitionState) {
	status := map[string]interface{}{
		"number":   p.Number,
		"name":     p.Name,
		"status":   p.EffectiveStatus(time.Now()).String(),
		"is_ready": p.IsReady,
	}
	m.publish(m.topics.Partition(sessionID, p.Number), status, m.config.Retain)
}

func (m *MQTT) publishZone(sessionID string, z panel.ZoneState) {
	status := map[string]interface{}{
		"number":       z.Number,
		"name":         z.Name,
		"device_class": z.DeviceClass,
		"open":         z.IsOpen,
		"partitions":   z.Partitions,
	}
	m.publish(m.topics.Zone(sessionID, z.Number), status, m.config.Retain)
}

func (m *MQTT) publishLogEntry(sessionID string, entry itv2.EventBufferEntry) {
	event := map[string]interface{}{
		"session_id": sessionID,
		"event_code": entry.EventCode,
		"partition":  entry.Partition,
		"device":     entry.Device,
		"time":       entry.DateTime.Format(time.RFC3339),
	}
	m.publish(m.topics.Log(), event, m.config.RetainLog)
}

// Publish sends an arbitrary payload; used by the discovery publisher.
func (m *MQTT) Publish(topic string, message interface{}, retain bool) {
	m.publish(topic, message, retain)
}

func (m *MQTT) publish(topic string, message interface{}, retain bool) {
	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(message)
		if err != nil {
			m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
			return
		}
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
	} else {
		m.log.Trace("Published message to topic: %s", topic)
	}
}

func (m *MQTT) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.topics.Status(), offlinePayload, true)
		m.client.Disconnect(250)
	}
}
