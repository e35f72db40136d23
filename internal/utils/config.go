package utils

import (
	"time"

	"github.com/palmlab/telemetry-hub/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		Host        string        `yaml:"host"`         // Listen address
		Port        int           `yaml:"port"`         // Listen port
		ReadTimeout time.Duration `yaml:"read_timeout"` // Per-connection read deadline
		DestDir     string        `yaml:"dest_dir"`     // Destination directory for received files
	} `yaml:"server"`

	Registry struct {
		DevicesFile   string `yaml:"devices_file"`   // Device registry snapshot path
		TelemetryFile string `yaml:"telemetry_file"` // Last-value telemetry store path
	} `yaml:"registry"`

	Events struct {
		QueueSize        int           `yaml:"queue_size"`        // Cross-goroutine emission queue capacity
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // Staleness threshold for device_timeout
		SweepInterval    time.Duration `yaml:"sweep_interval"`    // Heartbeat sweep tick
		EvictAfter       int           `yaml:"evict_after"`       // Consecutive misses before eviction (0 = never)
	} `yaml:"events"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Enable/disable the MQTT event bridge
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		TopicRoot     string `yaml:"topic_root"`     // Root of the per-device event topics
		QOS           int    `yaml:"qos"`            // MQTT QoS level for event messages
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate (empty = plain TCP)
	} `yaml:"mqtt"`

	Archive struct {
		Enabled   bool   `yaml:"enabled"`    // Enable/disable object-storage archiving
		Endpoint  string `yaml:"endpoint"`   // Object storage endpoint
		AccessKey string `yaml:"access_key"` // Object storage access key
		SecretKey string `yaml:"secret_key"` // Object storage secret key
		Bucket    string `yaml:"bucket"`     // Bucket for received files
		UseSSL    bool   `yaml:"use_ssl"`    // Use HTTPS for object storage
	} `yaml:"archive"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for unset tunables.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Events.QueueSize == 0 {
		config.Events.QueueSize = 256
	}
	if config.Events.HeartbeatTimeout == 0 {
		config.Events.HeartbeatTimeout = 10 * time.Second
	}
	if config.Events.SweepInterval == 0 {
		config.Events.SweepInterval = time.Second
	}

	return &config, nil
}
