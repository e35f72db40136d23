package models

// Action identifies the kind of request carried by one connection's header.
type Action string

const (
	ActionPing     Action = "ping"
	ActionHello    Action = "hello"
	ActionData     Action = "data"
	ActionSendFile Action = "send_file"
	// ActionUnknown covers decodable headers whose action field names no
	// supported request kind.
	ActionUnknown Action = ""
)

// RequestHeader is the decoded JSON preamble of one request. Size is a
// pointer so that an absent field can be told apart from an explicit zero;
// legacy file headers omit the action field entirely.
type RequestHeader struct {
	// Action is the request-kind discriminator. May be empty for legacy
	// file-transfer headers that carry filename/size/checksum only.
	Action string `json:"action,omitempty"`

	// Serial is the device's unique identifier.
	Serial string `json:"serial,omitempty"`

	// DeviceType describes the instrument class reported by the device.
	DeviceType string `json:"device_type,omitempty"`

	// Payload is the opaque telemetry body of a data request. Any JSON
	// value is accepted; the server stores it without interpretation.
	Payload any `json:"payload,omitempty"`

	// File transfer fields.
	Filename string `json:"filename,omitempty"`
	Size     *int64 `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// HasFileFields reports whether all three file-transfer fields are present.
func (h *RequestHeader) HasFileFields() bool {
	return h.Filename != "" && h.Size != nil && h.Checksum != ""
}

// Resolve maps the header onto the closed Action set. An explicit action
// field always wins; the action-less legacy form resolves to send_file only
// when every file field is present.
func (h *RequestHeader) Resolve() Action {
	switch h.Action {
	case string(ActionPing):
		return ActionPing
	case string(ActionHello):
		return ActionHello
	case string(ActionData):
		return ActionData
	case string(ActionSendFile):
		return ActionSendFile
	case "":
		if h.HasFileFields() {
			return ActionSendFile
		}
		return ActionUnknown
	default:
		return ActionUnknown
	}
}
