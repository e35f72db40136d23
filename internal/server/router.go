package server

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/constants"
	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/internal/protocol"
)

const defaultUnknown = "UNKNOWN"

// handleConnection runs the full one-request lifecycle for a single peer:
// read header, route by action, answer with a terminal token. The
// connection is closed on every exit path.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	logger := s.logger.With().
		Str("conn_id", uuid.New().String()[:8]).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	s.extendReadDeadline(conn)

	raw, err := protocol.ReadHeader(conn)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrEmptyHeader):
			logger.Debug().Msg("Peer closed without sending a header")
		case errors.Is(err, protocol.ErrHeaderTooLarge):
			logger.Warn().Msg("Header size cap exceeded")
			s.respond(conn, constants.RespErrInvalidHeader, logger)
		default:
			logger.Warn().Err(err).Msg("Header read failed")
		}
		return
	}

	// Legacy plain-text ping, answered before any JSON decode.
	if protocol.IsPing(raw) {
		logger.Debug().Msg("Ping received")
		s.respond(conn, constants.RespPong, logger)
		return
	}

	header, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrNotObject) {
			logger.Warn().Msg("Header is not a JSON object")
			s.respond(conn, constants.RespErrUnknownAction, logger)
			return
		}
		logger.Warn().Err(err).Msg("Invalid header")
		s.respond(conn, constants.RespErrInvalidHeader, logger)
		return
	}

	switch header.Resolve() {
	case models.ActionPing:
		logger.Debug().Msg("Ping received")
		s.respond(conn, constants.RespPong, logger)
	case models.ActionHello:
		s.handleHello(conn, header, logger)
	case models.ActionData:
		s.handleData(conn, header, logger)
	case models.ActionSendFile:
		s.handleSendFile(conn, header, logger)
	default:
		logger.Warn().Str("action", header.Action).Msg("Unknown action")
		s.respond(conn, constants.RespErrUnknownAction, logger)
	}
}

// handleHello registers the device, persists the registry snapshot, and
// kicks off the non-blocking session handoff.
func (s *Server) handleHello(conn net.Conn, header *models.RequestHeader, logger zerolog.Logger) {
	serial := header.Serial
	if serial == "" {
		serial = defaultUnknown
	}
	deviceType := header.DeviceType
	if deviceType == "" {
		deviceType = defaultUnknown
	}
	ip := peerIP(conn)

	s.registry.Upsert(serial, ip, deviceType, time.Now())
	logger.Info().
		Str("serial", serial).
		Str("device_type", deviceType).
		Str("ip", ip).
		Msg("Hello received")

	s.respond(conn, constants.RespAckHello, logger)

	// Liveness tracking starts with streaming, not registration: a device
	// that only ever said hello is reflected by its registry LastSeen and
	// must not accumulate timeout events.
	s.bus.EmitNowait(models.NewDeviceEvent(models.EventDeviceConnected, serial, map[string]any{
		"ip":          ip,
		"device_type": deviceType,
	}))
	s.launcher.Launch(serial, map[string]any{}, nil)
}

// handleData stores the latest telemetry payload for the device.
func (s *Server) handleData(conn net.Conn, header *models.RequestHeader, logger zerolog.Logger) {
	serial := header.Serial
	if serial == "" {
		serial = defaultUnknown
	}

	s.telemetry.Record(serial, header.Payload, time.Now())
	logger.Info().Str("serial", serial).Msg("Telemetry received")

	s.respond(conn, constants.RespAckData, logger)

	s.monitor.RegisterHeartbeat(serial)
	s.bus.EmitNowait(models.NewDeviceEvent(models.EventDataReceived, serial, map[string]any{
		"payload": header.Payload,
	}))
}

// respond writes a terminal token. Write failures are logged only: the peer
// may already be gone, and the server must keep serving either way.
func (s *Server) respond(conn net.Conn, token string, logger zerolog.Logger) {
	if _, err := conn.Write([]byte(token)); err != nil {
		logger.Debug().Err(err).Msg("Response write failed")
	}
}

// extendReadDeadline pushes the idle deadline forward; called before the
// header read and again as transfer chunks arrive.
func (s *Server) extendReadDeadline(conn net.Conn) {
	if s.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
