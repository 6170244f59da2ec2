package blocking

import "errors"

var ErrNotParticipant = errors.New("identity is not a participant of the room")
