package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/constants"
	"github.com/palmlab/telemetry-hub/internal/models"
)

// progressEveryBytes bounds how often transfer_progress events are emitted.
const progressEveryBytes = 1 << 20

var errBadFilename = errors.New("filename is empty or escapes the destination directory")

// sanitizeFilename strips any directory components the peer supplied. The
// peer controls the filename, so it must never be allowed to pick a path
// outside the destination directory.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", errBadFilename
	}
	return base, nil
}

// handleSendFile validates the transfer header, acknowledges, and streams
// the declared byte count to disk in bounded chunks while hashing on the
// fly. The file is kept on disk whatever the outcome: a short transfer or a
// checksum mismatch is reported, never retried or cleaned up here.
func (s *Server) handleSendFile(conn net.Conn, header *models.RequestHeader, logger zerolog.Logger) {
	if !header.HasFileFields() {
		logger.Warn().Msg("Incomplete send_file header")
		s.respond(conn, constants.RespErrIncomplete, logger)
		return
	}

	filename, err := sanitizeFilename(header.Filename)
	if err != nil {
		logger.Warn().Str("filename", header.Filename).Msg("Rejected unsafe filename")
		s.respond(conn, constants.RespErrIncomplete, logger)
		return
	}

	serial := header.Serial
	if serial == "" {
		serial = defaultUnknown
	}
	declaredSize := *header.Size

	logger.Info().
		Str("serial", serial).
		Str("filename", filename).
		Int64("size", declaredSize).
		Msg("Receiving file")

	// Orchestration handoff happens before the transfer and never blocks it.
	s.launcher.Launch(serial, map[string]any{}, nil)

	destPath := filepath.Join(s.destDir, filename)
	out, err := os.Create(destPath)
	if err != nil {
		logger.Error().Err(err).Str("path", destPath).Msg("Cannot open destination file")
		return
	}
	defer out.Close()

	s.respond(conn, constants.RespAckTransfer, logger)

	received, digest := s.receiveBody(conn, out, declaredSize, serial, logger)

	if received < declaredSize {
		logger.Warn().
			Int64("received", received).
			Int64("declared", declaredSize).
			Msg("Short transfer, partial file kept")
	}

	// The digest comparison alone decides the terminal token, short
	// transfer or not. Verification failure is advisory; the file stays.
	checksumOK := strings.EqualFold(digest, header.Checksum)
	if checksumOK {
		logger.Info().Str("path", destPath).Int64("size", received).Msg("File received")
		s.respond(conn, constants.RespEOFOk, logger)
	} else {
		logger.Warn().
			Str("expected", header.Checksum).
			Str("actual", digest).
			Msg("Checksum mismatch, file kept")
		s.respond(conn, constants.RespErrChecksum, logger)
	}

	s.monitor.RegisterHeartbeat(serial)
	s.bus.EmitNowait(models.NewDeviceEvent(models.EventFileReceived, serial, map[string]any{
		"filename":      filename,
		"path":          destPath,
		"checksum":      header.Checksum,
		"declared_size": declaredSize,
		"received":      received,
		"checksum_ok":   checksumOK,
		"complete":      received == declaredSize,
	}))
}

// receiveBody reads up to declaredSize bytes in bounded chunks, writing each
// to out and into a running sha256, and returns the byte count plus the hex
// digest. A peer closing early ends the read; what arrived stays on disk.
func (s *Server) receiveBody(conn net.Conn, out *os.File, declaredSize int64, serial string, logger zerolog.Logger) (int64, string) {
	hasher := sha256.New()
	buf := make([]byte, constants.TransferChunkSize)

	var received, lastProgress int64
	for received < declaredSize {
		s.extendReadDeadline(conn)

		chunk := int64(len(buf))
		if remaining := declaredSize - received; remaining < chunk {
			chunk = remaining
		}

		n, err := conn.Read(buf[:chunk])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				logger.Error().Err(werr).Msg("Write to destination file failed")
				break
			}
			hasher.Write(buf[:n])
			received += int64(n)

			if received-lastProgress >= progressEveryBytes {
				lastProgress = received
				s.bus.EmitNowait(models.NewDeviceEvent(models.EventTransferProgress, serial, map[string]any{
					"received":      received,
					"declared_size": declaredSize,
				}))
			}
		}
		if err != nil {
			break
		}
	}

	return received, hex.EncodeToString(hasher.Sum(nil))
}
