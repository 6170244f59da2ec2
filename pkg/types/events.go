package types

import "encoding/json"

// Inbound event names.
const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventReact          = "reactEvent"
	EventTyping         = "typing"
	EventBlockRequest   = "blockRequest"
	EventUnblockRequest = "UnblockRequest"
)

// Outbound event names.
const (
	EventShowMessage    = "showMessage"
	EventBlockDetails   = "blockDetails"
	EventUnblockDetails = "UnblockDetails"
	EventAck            = "ack"
	EventError          = "error"
)

// AckStatus is the status field of an event acknowledgement.
type AckStatus string

const (
	AckSend        AckStatus = "Send"
	AckJoined      AckStatus = "Joined"
	AckLeft        AckStatus = "Left"
	AckTyping      AckStatus = "Typing"
	AckBlocked     AckStatus = "Blocked"
	AckUnblocked   AckStatus = "Unblocked"
	AckDenied      AckStatus = "Denied"
	AckForbidden   AckStatus = "Forbidden"
	AckInvalid     AckStatus = "Invalid"
	AckNotFound    AckStatus = "NotFound"
	AckRateLimited AckStatus = "RateLimited"
	AckError       AckStatus = "Error"
)

// Envelope is one inbound frame. Ack is the caller's correlation id; when it
// is nil the caller does not want an acknowledgement.
type Envelope struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is one frame written to a connection.
type Outbound struct {
	Event string      `json:"event"`
	Ack   *int64      `json:"ack,omitempty"`
	Data  interface{} `json:"data"`
}

// Ack is the acknowledgement payload returned to the sender of an event.
type Ack struct {
	Status  AckStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// EventAuth is carried by every event that must pass the per-event gate.
type EventAuth struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type JoinRoomPayload struct {
	RoomAddress string `json:"roomAddress" validate:"required"`
}

type SendMessagePayload struct {
	EventAuth
	Sender          string `json:"sender" validate:"required"`
	Receiver        string `json:"receiver" validate:"required,nefield=Sender"`
	RoomAddress     string `json:"roomAddress" validate:"required"`
	Data            string `json:"data"`
	CurrentTimeMili int64  `json:"currentTimeMili" validate:"gte=0"`
}

// Message converts the payload into the stored form, dropping credentials.
func (p *SendMessagePayload) Message() *Message {
	return &Message{
		Sender:          p.Sender,
		Receiver:        p.Receiver,
		RoomAddress:     p.RoomAddress,
		Data:            p.Data,
		CurrentTimeMili: p.CurrentTimeMili,
	}
}

// TypingPayload targets a room either by roomAddress or by the legacy
// joinRoom field.
type TypingPayload struct {
	EventAuth
	RoomAddress string      `json:"roomAddress" validate:"required_without=JoinRoom"`
	JoinRoom    string      `json:"joinRoom"`
	Data        interface{} `json:"data"`
}

func (p *TypingPayload) Room() string {
	if p.RoomAddress != "" {
		return p.RoomAddress
	}
	return p.JoinRoom
}

// BlockPayload is shared by blockRequest and UnblockRequest. Sender, when
// present, must equal the authenticated email.
type BlockPayload struct {
	EventAuth
	Sender      string `json:"sender"`
	RoomAddress string `json:"roomAddress" validate:"required"`
}

// TypingNotice is fanned out to the other members of a room.
type TypingNotice struct {
	Data interface{} `json:"data"`
}
