package homeassistant

import (
	"fmt"

	"github.com/dscbridge/dsc2ws/internal/config"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/mqtt"
	"github.com/dscbridge/dsc2ws/internal/panel"
	"github.com/dscbridge/dsc2ws/internal/util"
)

// HomeAssistant publishes MQTT discovery configs so panels appear as
// alarm_control_panel and binary_sensor entities. Configs follow the
// store's change stream: the first event for a partition or zone publishes
// its discovery entry.
type HomeAssistant struct {
	config *config.HomeAssistantConfig
	mqtt   *mqtt.MQTT
	store  *panel.Store
	log    *log.Logger

	cancel    func()
	announced map[string]bool
}

func New(cfg *config.HomeAssistantConfig, mqttClient *mqtt.MQTT, store *panel.Store, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config:    cfg,
		mqtt:      mqttClient,
		store:     store,
		log:       logger,
		announced: make(map[string]bool),
	}
}

func (ha *HomeAssistant) Start() {
	ha.log.Info("Starting Home Assistant integration")
	events, cancel := ha.store.Subscribe()
	ha.cancel = cancel
	go ha.pump(events)
}

func (ha *HomeAssistant) Stop() {
	if ha.cancel != nil {
		ha.cancel()
	}
}

func (ha *HomeAssistant) pump(events <-chan panel.Event) {
	for e := range events {
		switch ev := e.(type) {
		case panel.PartitionStateChanged:
			ha.announcePartition(ev.Session, ev.Partition)
		case panel.ZoneStateChanged:
			ha.announceZone(ev.Session, ev.Zone)
		}
	}
}

func (ha *HomeAssistant) announcePartition(sessionID string, p panel.PartitionState) {
	key := fmt.Sprintf("%s/partition/%d", sessionID, p.Number)
	if ha.announced[key] {
		return
	}
	ha.announced[key] = true

	name := p.Name
	if name == "" {
		name = fmt.Sprintf("Partition %d", p.Number)
	}
	objectID := fmt.Sprintf("%s_partition_%d", util.Slugify(sessionID), p.Number)
	cfg := map[string]interface{}{
		"name":                 name,
		"unique_id":            fmt.Sprintf("%s_%s", ha.mqtt.GetPrefix(), objectID),
		"state_topic":          ha.mqtt.Topics().Partition(sessionID, p.Number),
		"command_topic":        ha.mqtt.Topics().PartitionCommand(sessionID, p.Number),
		"payload_disarm":       "disarm",
		"payload_arm_home":     "arm_home",
		"payload_arm_away":     "arm_away",
		"payload_arm_night":    "arm_night",
		"value_template":       "{{ value_json.status }}",
		"code_arm_required":    false,
		"code_disarm_required": false,
	}

	ha.publishConfig("alarm_control_panel", objectID, cfg)
}

func (ha *HomeAssistant) announceZone(sessionID string, z panel.ZoneState) {
	key := fmt.Sprintf("%s/zone/%d", sessionID, z.Number)
	if ha.announced[key] {
		return
	}
	ha.announced[key] = true

	name := z.Name
	if name == "" {
		name = fmt.Sprintf("Zone %d", z.Number)
	}
	objectID := fmt.Sprintf("%s_zone_%d", util.Slugify(sessionID), z.Number)
	cfg := map[string]interface{}{
		"name":           name,
		"unique_id":      fmt.Sprintf("%s_%s", ha.mqtt.GetPrefix(), objectID),
		"state_topic":    ha.mqtt.Topics().Zone(sessionID, z.Number),
		"device_class":   z.DeviceClass,
		"value_template": "{{ value_json.open }}",
		"payload_on":     true,
		"payload_off":    false,
	}

	ha.publishConfig("binary_sensor", objectID, cfg)
}

func (ha *HomeAssistant) publishConfig(component, objectID string, cfg map[string]interface{}) {
	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.Prefix, component, ha.mqtt.GetPrefix(), objectID)
	ha.mqtt.Publish(topic, cfg, true)
}
