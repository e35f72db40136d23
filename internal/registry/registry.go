// Package registry keeps the in-memory device table and its on-disk JSON
// snapshot, plus the last-value telemetry store.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/pkg/file"
)

// DeviceRegistry is a mutex-guarded map of serial to last-known device
// metadata. Every mutation is followed by a full-map snapshot write
// (last writer wins, no versioning).
type DeviceRegistry struct {
	snapshotFile string
	fileClient   file.FileOperations
	logger       zerolog.Logger

	mu      sync.Mutex
	devices map[string]models.DeviceRecord
}

// NewDeviceRegistry initializes an empty registry backed by snapshotFile.
func NewDeviceRegistry(snapshotFile string, fileClient file.FileOperations, logger zerolog.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		snapshotFile: snapshotFile,
		fileClient:   fileClient,
		logger:       logger,
		devices:      make(map[string]models.DeviceRecord),
	}
}

// Load reads the snapshot file written by a previous run. A missing or
// corrupt snapshot leaves the registry empty and is never fatal.
func (r *DeviceRegistry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exists, err := r.fileClient.IsFileExists(r.snapshotFile); err != nil || !exists {
		return
	}

	loaded := make(map[string]models.DeviceRecord)
	if err := r.fileClient.ReadJsonFile(r.snapshotFile, &loaded); err != nil {
		r.logger.Warn().Err(err).Str("file", r.snapshotFile).Msg("Could not load device snapshot, starting empty")
		return
	}

	r.devices = loaded
	r.logger.Info().Int("devices", len(loaded)).Str("file", r.snapshotFile).Msg("Device snapshot loaded")
}

// Upsert records the latest metadata for serial and persists the snapshot.
func (r *DeviceRegistry) Upsert(serial, ip, deviceType string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[serial] = models.DeviceRecord{
		Serial:     serial,
		IP:         ip,
		DeviceType: deviceType,
		LastSeen:   now,
	}
	r.persistLocked()
}

// Get returns the record for serial, if present.
func (r *DeviceRegistry) Get(serial string) (models.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.devices[serial]
	return record, ok
}

// Snapshot returns a copy of the full device map.
func (r *DeviceRegistry) Snapshot() map[string]models.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]models.DeviceRecord, len(r.devices))
	for serial, record := range r.devices {
		snapshot[serial] = record
	}
	return snapshot
}

// Persist writes the full map to the snapshot file.
func (r *DeviceRegistry) Persist() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistLocked()
}

// persistLocked must be called with the mutex held. Snapshot write failures
// are logged and swallowed; persistence is best effort.
func (r *DeviceRegistry) persistLocked() {
	if err := r.fileClient.WriteJsonFile(r.snapshotFile, r.devices); err != nil {
		r.logger.Error().Err(err).Str("file", r.snapshotFile).Msg("Failed to persist device snapshot")
	}
}
