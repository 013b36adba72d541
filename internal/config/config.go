package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Zones         []ZoneConfig        `yaml:"zones"`
	Log           string              `yaml:"log"`
	PersistDir    string              `yaml:"persist_dir"`
}

type ServerConfig struct {
	// Port is the default panel-link listen port; a non-zero port in
	// persist/settings.json overrides it when the listener starts.
	Port              int `yaml:"port"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	ResponseTimeout   int `yaml:"response_timeout"`
	FlushQuiet        int `yaml:"flush_quiet"`
}

type WebSocketConfig struct {
	Addr string `yaml:"addr"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	RetainLog bool   `yaml:"retain_log"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
}

type ZoneConfig struct {
	Number      int    `yaml:"number"`
	Name        string `yaml:"name"`
	DeviceClass string `yaml:"device_class"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Set default values
	if config.Server.Port == 0 {
		config.Server.Port = 3072
	}
	if config.Server.HeartbeatInterval == 0 {
		config.Server.HeartbeatInterval = 100
	}
	if config.Server.ResponseTimeout == 0 {
		config.Server.ResponseTimeout = 5
	}
	if config.Server.FlushQuiet == 0 {
		config.Server.FlushQuiet = 2
	}
	if config.WebSocket.Addr == "" {
		config.WebSocket.Addr = ":8080"
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "dsc2ws"
	}
	if config.MQTT.Host == "" {
		config.MQTT.Host = "localhost"
	}
	if config.MQTT.Port == 0 {
		config.MQTT.Port = 1883
	}
	if config.MQTT.Keepalive == 0 {
		config.MQTT.Keepalive = 60
	}
	if config.MQTT.Prefix == "" {
		config.MQTT.Prefix = "dsc2ws"
	}
	if config.HomeAssistant.Prefix == "" {
		config.HomeAssistant.Prefix = "homeassistant"
	}
	if config.Log == "" {
		config.Log = "info"
	}
	if config.PersistDir == "" {
		config.PersistDir = "persist"
	}

	return &config, nil
}

// DeviceClass returns the configured device class for a zone, defaulting
// to "door".
func (c *Config) DeviceClass(zone int) string {
	for _, z := range c.Zones {
		if z.Number == zone && z.DeviceClass != "" {
			return z.DeviceClass
		}
	}
	return "door"
}

// ZoneName returns the configured display name for a zone, if any.
func (c *Config) ZoneName(zone int) string {
	for _, z := range c.Zones {
		if z.Number == zone {
			return z.Name
		}
	}
	return ""
}
