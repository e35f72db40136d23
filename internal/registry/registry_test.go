package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmlab/telemetry-hub/pkg/file"
)

func newTestRegistry(t *testing.T) (*DeviceRegistry, string) {
	t.Helper()
	snapshot := filepath.Join(t.TempDir(), "devices.json")
	return NewDeviceRegistry(snapshot, file.NewFileService(), zerolog.Nop()), snapshot
}

func TestDeviceRegistry_UpsertAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	now := time.Now()

	reg.Upsert("S1", "10.0.0.5", "SENSOR", now)

	record, ok := reg.Get("S1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", record.IP)
	assert.Equal(t, "SENSOR", record.DeviceType)
	assert.Equal(t, now.Unix(), record.LastSeen.Unix())
}

func TestDeviceRegistry_SnapshotRoundTrip(t *testing.T) {
	reg, snapshot := newTestRegistry(t)
	reg.Upsert("S1", "10.0.0.5", "SENSOR", time.Now())
	reg.Upsert("S2", "10.0.0.6", "POTENTIOSTAT", time.Now())

	reloaded := NewDeviceRegistry(snapshot, file.NewFileService(), zerolog.Nop())
	reloaded.Load()

	original := reg.Snapshot()
	loaded := reloaded.Snapshot()
	require.Len(t, loaded, 2)
	for serial, record := range original {
		assert.Equal(t, record.IP, loaded[serial].IP)
		assert.Equal(t, record.DeviceType, loaded[serial].DeviceType)
		assert.Equal(t, record.LastSeen.Unix(), loaded[serial].LastSeen.Unix())
	}
}

func TestDeviceRegistry_UpsertIsIdempotentPerSerial(t *testing.T) {
	reg, _ := newTestRegistry(t)
	first := time.Now()
	second := first.Add(5 * time.Second)

	reg.Upsert("S1", "10.0.0.5", "SENSOR", first)
	reg.Upsert("S1", "10.0.0.7", "SENSOR", second)

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 1)
	record := snapshot["S1"]
	assert.Equal(t, "10.0.0.7", record.IP)
	assert.True(t, record.LastSeen.After(first) || record.LastSeen.Equal(second))
}

func TestDeviceRegistry_LoadMissingFile(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Load()
	assert.Empty(t, reg.Snapshot())
}

func TestDeviceRegistry_LoadCorruptFile(t *testing.T) {
	reg, snapshot := newTestRegistry(t)
	require.NoError(t, os.WriteFile(snapshot, []byte("{corrupt"), 0o600))

	reg.Load()

	assert.Empty(t, reg.Snapshot())
}

func TestTelemetryStore_LastValueWins(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "data.json")
	store := NewTelemetryStore(dataFile, file.NewFileService(), zerolog.Nop())

	store.Record("S1", map[string]any{"voltage": 1.23}, time.Now())
	store.Record("S1", map[string]any{"voltage": 2.34}, time.Now())

	reading, ok := store.Latest("S1")
	require.True(t, ok)
	assert.Equal(t, 2.34, reading.Payload.(map[string]any)["voltage"])

	// The persisted map must round-trip through a fresh store.
	reloaded := NewTelemetryStore(dataFile, file.NewFileService(), zerolog.Nop())
	reloaded.Load()
	reading, ok = reloaded.Latest("S1")
	require.True(t, ok)
	assert.Equal(t, 2.34, reading.Payload.(map[string]any)["voltage"])
}

func TestTelemetryStore_NonObjectPayloads(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "data.json")
	store := NewTelemetryStore(dataFile, file.NewFileService(), zerolog.Nop())

	store.Record("S1", []any{1.1, 2.2}, time.Now())
	store.Record("S2", 3.14, time.Now())

	reloaded := NewTelemetryStore(dataFile, file.NewFileService(), zerolog.Nop())
	reloaded.Load()

	reading, ok := reloaded.Latest("S1")
	require.True(t, ok)
	assert.Equal(t, []any{1.1, 2.2}, reading.Payload)

	reading, ok = reloaded.Latest("S2")
	require.True(t, ok)
	assert.Equal(t, 3.14, reading.Payload)
}

func TestTelemetryStore_LatestUnknownSerial(t *testing.T) {
	store := NewTelemetryStore(filepath.Join(t.TempDir(), "data.json"), file.NewFileService(), zerolog.Nop())

	_, ok := store.Latest("missing")

	assert.False(t, ok)
}
