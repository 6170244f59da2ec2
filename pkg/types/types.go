package types

import (
	"encoding/json"
	"time"
)

// User is a profile document keyed by email. Every other field sent by the
// client is kept verbatim in Profile and flattened back out on the wire.
type User struct {
	Email   string
	Profile map[string]interface{}
}

func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.document())
}

func (u *User) UnmarshalJSON(data []byte) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	email, _ := doc["email"].(string)
	delete(doc, "email")
	u.Email = email
	u.Profile = doc
	return nil
}

func (u User) document() map[string]interface{} {
	doc := make(map[string]interface{}, len(u.Profile)+1)
	for k, v := range u.Profile {
		doc[k] = v
	}
	doc["email"] = u.Email
	return doc
}

// Message is one stored chat line. CurrentTimeMili is the client clock and
// the only ordering key; ID and StoredAt are assigned by the store.
type Message struct {
	ID              string    `json:"id,omitempty"`
	Sender          string    `json:"sender"`
	Receiver        string    `json:"receiver"`
	RoomAddress     string    `json:"roomAddress"`
	Data            string    `json:"data"`
	CurrentTimeMili int64     `json:"currentTimeMili"`
	StoredAt        time.Time `json:"-"`
}

// Involves reports whether the message was exchanged between a and b in
// either direction.
func (m *Message) Involves(a, b string) bool {
	return (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a)
}

// BlockEntry records that one participant has blocked the room.
type BlockEntry struct {
	BlockedBy string `json:"blockedBy"`
}

// Room is the conversation of one participant pair. The pair never changes
// after creation; Blocked is nil when nobody blocks the room.
type Room struct {
	ParticipantA string       `json:"sender"`
	ParticipantB string       `json:"receiver"`
	RoomAddress  string       `json:"roomAddress"`
	Blocked      []BlockEntry `json:"blocked,omitempty"`
	CreatedAt    time.Time    `json:"-"`
}

func (r *Room) HasParticipant(identity string) bool {
	return identity != "" && (r.ParticipantA == identity || r.ParticipantB == identity)
}

// IsPair reports whether {a, b} is this room's pair, in either order.
func (r *Room) IsPair(a, b string) bool {
	return (r.ParticipantA == a && r.ParticipantB == b) || (r.ParticipantA == b && r.ParticipantB == a)
}

// IsBlocked reports whether at least one participant blocks the room.
func (r *Room) IsBlocked() bool {
	return len(r.Blocked) > 0
}

// Contact is a contact-list row: another user's profile plus the preview of
// the last message exchanged with them, if any.
type Contact struct {
	User
	Data            *string
	CurrentTimeMili *int64
}

func (c Contact) MarshalJSON() ([]byte, error) {
	doc := c.User.document()
	if c.Data != nil {
		doc["data"] = *c.Data
	}
	if c.CurrentTimeMili != nil {
		doc["currentTimeMili"] = *c.CurrentTimeMili
	}
	return json.Marshal(doc)
}

// ConversationMeta accompanies a history fetch.
type ConversationMeta struct {
	RoomAddress string `json:"roomAddress"`
	BlockedBy   string `json:"blockedBy,omitempty"`
}

// BlockNotice is the payload of blockDetails/UnblockDetails. When Cleared is
// set the room has no block entries left and blockedBy is sent as false.
type BlockNotice struct {
	BlockedBy string
	Cleared   bool
}

func (n BlockNotice) MarshalJSON() ([]byte, error) {
	if n.Cleared {
		return json.Marshal(map[string]interface{}{"blockedBy": false})
	}
	return json.Marshal(map[string]interface{}{"blockedBy": n.BlockedBy})
}
