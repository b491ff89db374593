package model

// ServerMessage is pushed to a connected client. The set is closed; see the ws marshaller.
type ServerMessage interface {
	serverMessage()
}

type FriendLocation struct {
	X           int
	Y           int
	Plane       int
	DisplayName string
	AccountHash AccountHash
}

// LocationMessage is the per-tick snapshot of the account's own and its friends' positions.
type LocationMessage struct {
	Updates []FriendLocation
}

type FriendDeathMessage struct {
	X           int
	Y           int
	Plane       int
	DisplayName string
	AccountHash AccountHash
}

type LevelUpMessage struct {
	Skill       Skill
	Level       int
	DisplayName string
	AccountHash AccountHash
}

func (LocationMessage) serverMessage()    {}
func (FriendDeathMessage) serverMessage() {}
func (LevelUpMessage) serverMessage()     {}

// ClientMessage is received from a connected client.
type ClientMessage interface {
	clientMessage()
}

// SpeedChangeMessage requests a broadcast cadence.
type SpeedChangeMessage struct {
	Speed Speed
}

func (SpeedChangeMessage) clientMessage() {}
