package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dscbridge/dsc2ws/internal/config"
	"github.com/dscbridge/dsc2ws/internal/homeassistant"
	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/mqtt"
	"github.com/dscbridge/dsc2ws/internal/panel"
	"github.com/dscbridge/dsc2ws/internal/server"
	"github.com/dscbridge/dsc2ws/internal/ws"
)

func main() {
	configFile := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	logger := log.NewLogger(cfg.Log)

	// Load persisted panel-link settings
	persist := config.NewPersist(cfg.PersistDir)
	if err := persist.Load(); err != nil {
		logger.Error("Failed to load persisted settings: %v", err)
		os.Exit(1)
	}

	// Panel state model and notification routing
	store := panel.NewStore(logger.Component("panel"))
	dispatcher := panel.NewDispatcher(store, logger.Component("panel"))

	// Session registry and panel-link server
	registry := itv2.NewSessionRegistry(logger.Component("itv2"))
	srv := server.New(cfg, persist, registry, store, dispatcher, logger.Component("itv2"))

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start accepting panels
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start panel link: %v", err)
		os.Exit(1)
	}

	// WebSocket facade for UI clients
	hub := ws.NewHub(store, srv, logger.Component("ws"))
	if err := hub.Start(cfg.WebSocket.Addr); err != nil {
		logger.Error("Failed to start WebSocket facade: %v", err)
		srv.Stop()
		os.Exit(1)
	}

	// Optional MQTT mirror with Home Assistant discovery
	var mqttClient *mqtt.MQTT
	var ha *homeassistant.HomeAssistant
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewMQTT(&cfg.MQTT, store, srv, logger.Component("mqtt"))
		if err := mqttClient.Connect(); err != nil {
			logger.Error("Failed to connect to MQTT broker: %v", err)
			hub.Stop()
			srv.Stop()
			os.Exit(1)
		}
		if cfg.HomeAssistant.Discovery {
			ha = homeassistant.New(&cfg.HomeAssistant, mqttClient, store, logger.Component("homeassistant"))
			ha.Start()
		}
	}

	// Wait for termination signal
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down...")
	if ha != nil {
		ha.Stop()
	}
	if mqttClient != nil {
		mqttClient.Close()
	}
	hub.Stop()
	srv.Stop()
}
