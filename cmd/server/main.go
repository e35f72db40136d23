package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/archiver"
	"github.com/palmlab/telemetry-hub/internal/events"
	"github.com/palmlab/telemetry-hub/internal/publisher"
	"github.com/palmlab/telemetry-hub/internal/registry"
	"github.com/palmlab/telemetry-hub/internal/server"
	"github.com/palmlab/telemetry-hub/internal/session"
	"github.com/palmlab/telemetry-hub/internal/utils"
	"github.com/palmlab/telemetry-hub/pkg/file"
	"github.com/palmlab/telemetry-hub/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Device registry and last-value telemetry store, restored from the
	// snapshots of a previous run when present.
	deviceRegistry := registry.NewDeviceRegistry(config.Registry.DevicesFile, fileClient, logger)
	deviceRegistry.Load()

	telemetryStore := registry.NewTelemetryStore(config.Registry.TelemetryFile, fileClient, logger)
	telemetryStore.Load()

	// Event bus plus heartbeat liveness sweep.
	bus := events.NewBus(config.Events.QueueSize, logger)
	if err := bus.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start event bus")
	}

	monitor := events.NewHeartbeatMonitor(
		bus,
		config.Events.HeartbeatTimeout,
		config.Events.SweepInterval,
		config.Events.EvictAfter,
		logger,
	)
	if err := monitor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start heartbeat monitor")
	}

	// Optional MQTT bridge: forwards every bus event to the broker. A
	// broker that is down at startup disables the bridge, never the server.
	var eventPublisher *publisher.EventPublisher
	var mqttClient *mqtt.MqttService
	if config.MQTT.Enabled {
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

		mqttClient = mqtt.NewMqttService(fileClient)
		if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
			logger.Warn().Err(err).Msg("MQTT unavailable, event bridge disabled")
			mqttClient = nil
		} else {
			eventPublisher = publisher.NewEventPublisher(config.MQTT.TopicRoot, config.MQTT.QOS, mqttClient, bus, logger)
			if err := eventPublisher.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start event publisher")
				eventPublisher = nil
			}
		}
	}

	// Optional object-storage archiving of verified transfers.
	var fileArchiver *archiver.Archiver
	if config.Archive.Enabled {
		uploader, err := archiver.NewMinioUploader(
			config.Archive.Endpoint,
			config.Archive.AccessKey,
			config.Archive.SecretKey,
			config.Archive.UseSSL,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Object storage unavailable, archiving disabled")
		} else {
			fileArchiver = archiver.NewArchiver(config.Archive.Bucket, uploader, fileClient, bus, logger)
			if err := fileArchiver.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start archiver")
				fileArchiver = nil
			}
		}
	}

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := server.NewServer(
		addr,
		config.Server.ReadTimeout,
		config.Server.DestDir,
		deviceRegistry,
		telemetryStore,
		bus,
		monitor,
		session.NopLauncher{},
		logger,
	)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	srv.Stop()
	monitor.Stop()
	if eventPublisher != nil {
		eventPublisher.Stop()
	}
	if fileArchiver != nil {
		fileArchiver.Stop()
	}
	bus.Stop()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}
