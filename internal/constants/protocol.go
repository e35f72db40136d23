package constants

const (
	// MaxHeaderBytes caps how much header text a peer may send before the
	// newline delimiter. Anything beyond this is treated as a malformed header.
	MaxHeaderBytes = 64 * 1024

	// TransferChunkSize is the read granularity for file bodies.
	TransferChunkSize = 4096

	DefaultHeartbeatTimeout = 10 // seconds
	DefaultSweepInterval    = 1  // seconds
)

// Wire response tokens. The trailing newline is part of the token where shown.
const (
	RespPong             = "PONG\n"
	RespAckHello         = "ACK_HELLO\n"
	RespAckData          = "ACK_DATA\n"
	RespAckTransfer      = "ACK"
	RespEOFOk            = "EOF_OK"
	RespErrChecksum      = "ERR_CHECKSUM\n"
	RespErrInvalidHeader = "ERR_INVALID_HEADER\n"
	RespErrIncomplete    = "ERR_INCOMPLETE_HEADER\n"
	RespErrUnknownAction = "ERR_UNKNOWN_ACTION\n"
)
