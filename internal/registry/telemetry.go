package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/pkg/file"
)

// TelemetryStore keeps the most recent data payload per device serial.
// It is not a time series: each new reading replaces the previous one, and
// the full map is persisted so external monitors can poll it.
type TelemetryStore struct {
	dataFile   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu       sync.Mutex
	readings map[string]models.TelemetryReading
}

// NewTelemetryStore initializes an empty store backed by dataFile.
func NewTelemetryStore(dataFile string, fileClient file.FileOperations, logger zerolog.Logger) *TelemetryStore {
	return &TelemetryStore{
		dataFile:   dataFile,
		fileClient: fileClient,
		logger:     logger,
		readings:   make(map[string]models.TelemetryReading),
	}
}

// Load reads readings persisted by a previous run; missing or corrupt files
// leave the store empty.
func (s *TelemetryStore) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, err := s.fileClient.IsFileExists(s.dataFile); err != nil || !exists {
		return
	}

	loaded := make(map[string]models.TelemetryReading)
	if err := s.fileClient.ReadJsonFile(s.dataFile, &loaded); err != nil {
		s.logger.Warn().Err(err).Str("file", s.dataFile).Msg("Could not load telemetry data, starting empty")
		return
	}
	s.readings = loaded
}

// Record stores the latest payload for serial and persists the map.
func (s *TelemetryStore) Record(serial string, payload any, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readings[serial] = models.TelemetryReading{
		Timestamp: now,
		Payload:   payload,
	}

	if err := s.fileClient.WriteJsonFile(s.dataFile, s.readings); err != nil {
		s.logger.Error().Err(err).Str("file", s.dataFile).Msg("Failed to persist telemetry data")
	}
}

// Latest returns the most recent reading for serial, if any.
func (s *TelemetryStore) Latest(serial string) (models.TelemetryReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reading, ok := s.readings[serial]
	return reading, ok
}
