package ws

import (
	"encoding/json"

	"chatfeed/internal/constants"
	"chatfeed/internal/models"
)

// Operation codes for WebSocket messages
type OpCode int

// ProtocolVersion is the exact server/client WS protocol version.
// Bump this only for breaking wire-contract changes.
const ProtocolVersion = 1

const (
	// DISPATCH - Events and commands with type field
	OpDispatch OpCode = 0

	// Lifecycle ops (Server -> Client)
	OpHello          OpCode = 1 // Sent on connection
	OpReady          OpCode = 2 // Sent after successful identify
	OpInvalidSession OpCode = 3 // Session invalid, must re-identify
)

// Event types (Server -> Client via DISPATCH)
const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"
	EventSubscribed    = "SUBSCRIBED"
	EventError         = "ERROR"
)

// Command types (Client -> Server via DISPATCH)
const (
	CmdIdentify    = "IDENTIFY"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
)

// Error codes sent in EventError payloads.
const (
	ErrCodeAuthFailed       = constants.ErrCodeAuthFailed
	ErrCodeAuthExpired      = constants.ErrCodeAuthExpired
	ErrCodeRateLimited      = constants.ErrCodeRateLimited
	ErrCodeInvalidRequest   = constants.ErrCodeInvalidRequest
	ErrCodeChannelNotFound  = constants.ErrCodeChannelNotFound
	ErrCodeUnknownOperation = constants.ErrCodeUnknownOperation
)

// WSMessage is the outbound frame. Seq is set on dispatches that fan out
// through the hub so clients can detect gaps.
type WSMessage struct {
	Op   OpCode `json:"op"`
	Type string `json:"t,omitempty"` // Event/command type (only for DISPATCH)
	Data any    `json:"d,omitempty"`
	Seq  *int64 `json:"s,omitempty"`
}

// Envelope is the inbound form of WSMessage with the payload left undecoded.
type Envelope struct {
	Op   OpCode          `json:"op"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
}

// Decode unmarshals the payload into dst.
func (e *Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Data, dst)
}

// Server -> Client payloads

type HelloPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
}

type ReadyPayload struct {
	ProtocolVersion int          `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	User            *models.User `json:"user"`
}

// InvalidSessionPayload sent when session is invalid
type InvalidSessionPayload struct {
	Resumable bool `json:"resumable"`
}

// MessageDeletePayload identifies a removed message.
type MessageDeletePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// SubscribedPayload acknowledges the client's full subscription set.
type SubscribedPayload struct {
	ChannelIDs []string `json:"channel_ids"`
}

// ErrorPayload sent when the server rejects a client action
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"` // Unix ms timestamp
}

// Client -> Server payloads (via DISPATCH)

// IdentifyPayload sent by client to authenticate
type IdentifyPayload struct {
	Token string `json:"token"`
}

// SubscribePayload is used by both SUBSCRIBE and UNSUBSCRIBE.
type SubscribePayload struct {
	ChannelIDs []string `json:"channel_ids"`
}
