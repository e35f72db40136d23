// Package protocol implements the newline-delimited text header codec used
// by the telemetry wire protocol. A header is either the literal "ping"
// token or one JSON object, terminated by \n (CRLF tolerated) and capped at
// 64 KiB.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/palmlab/telemetry-hub/internal/constants"
	"github.com/palmlab/telemetry-hub/internal/models"
)

var (
	// ErrEmptyHeader means the peer closed the connection before sending
	// any header bytes. Callers treat this as a no-op, not a failure.
	ErrEmptyHeader = errors.New("peer closed before sending a header")

	// ErrHeaderTooLarge means the peer exceeded the header size cap without
	// sending the newline delimiter.
	ErrHeaderTooLarge = errors.New("header exceeds size cap")

	// ErrInvalidHeader means the header text is not valid JSON.
	ErrInvalidHeader = errors.New("header is not valid JSON")

	// ErrNotObject means the header decoded cleanly but is not a JSON
	// object, so it cannot name an action.
	ErrNotObject = errors.New("header is not a JSON object")
)

// ReadHeader consumes bytes one at a time from r until a newline is seen and
// returns the raw header text, delimiter included. Reading byte-wise keeps
// the codec from consuming any of the binary body that may follow the
// header on the same stream.
func ReadHeader(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			sb.WriteByte(buf[0])
			if buf[0] == '\n' {
				return sb.String(), nil
			}
			if sb.Len() > constants.MaxHeaderBytes {
				return "", ErrHeaderTooLarge
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if sb.Len() == 0 {
					return "", ErrEmptyHeader
				}
				// Peer closed mid-header; hand back what arrived.
				return sb.String(), nil
			}
			return "", err
		}
	}
}

// IsPing reports whether the raw header is the legacy plain-text ping token.
// Matching is case-insensitive and no JSON decode is attempted.
func IsPing(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "ping")
}

// Decode normalizes trailing CR/LF and unmarshals the header JSON. A decode
// failure is reported as ErrInvalidHeader so the caller can answer with the
// matching error token instead of leaking parser internals to the peer.
func Decode(raw string) (*models.RequestHeader, error) {
	text := strings.TrimSpace(raw)

	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, ErrNotObject
	}

	var header models.RequestHeader
	if err := json.Unmarshal([]byte(text), &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if header.Size != nil && *header.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidHeader)
	}

	return &header, nil
}
