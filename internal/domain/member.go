package domain

import "github.com/dkeye/Beacon/internal/languages"

type Role string

const (
	RoleNone        Role = ""
	RoleBroadcaster Role = "broadcaster"
	RoleListener    Role = "listener"
)

func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleListener
}

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	Role     Role
	RoomID   RoomID
	UserID   *UserID
	Language languages.Code // listener only
}
