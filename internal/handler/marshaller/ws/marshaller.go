package wsmarshaller

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

const (
	TypeLocation    = "LOCATION"
	TypeFriendDeath = "FRIEND_DEATH"
	TypeLevelUp     = "LEVEL_UP"
	TypeSpeedChange = "LOCATION_UPDATE_SPEED"
)

var (
	ErrUnknownServerMessage = errors.New("unknown server message")
	ErrUnknownClientMessage = errors.New("unknown client message")
)

type wsLocation struct {
	X           int               `json:"x"`
	Y           int               `json:"y"`
	Plane       int               `json:"plane"`
	DisplayName string            `json:"displayName"`
	AccountHash model.AccountHash `json:"accountHash"`
}

type wsLocationMessage struct {
	Type    string       `json:"type"`
	Updates []wsLocation `json:"updates"`
}

type wsFriendDeath struct {
	Type string `json:"type"`
	wsLocation
}

type wsLevelUp struct {
	Type        string            `json:"type"`
	Skill       model.Skill       `json:"skill"`
	Level       int               `json:"level"`
	DisplayName string            `json:"displayName"`
	AccountHash model.AccountHash `json:"accountHash"`
}

// MarshallServerMessage maps a domain message to its JSON frame.
func MarshallServerMessage(msg model.ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case model.LocationMessage:
		out := wsLocationMessage{Type: TypeLocation, Updates: make([]wsLocation, len(m.Updates))}
		for i, u := range m.Updates {
			out.Updates[i] = wsLocation(u)
		}
		return json.Marshal(out)
	case model.FriendDeathMessage:
		return json.Marshal(wsFriendDeath{
			Type: TypeFriendDeath,
			wsLocation: wsLocation{
				X:           m.X,
				Y:           m.Y,
				Plane:       m.Plane,
				DisplayName: m.DisplayName,
				AccountHash: m.AccountHash,
			},
		})
	case model.LevelUpMessage:
		return json.Marshal(wsLevelUp{
			Type:        TypeLevelUp,
			Skill:       m.Skill,
			Level:       m.Level,
			DisplayName: m.DisplayName,
			AccountHash: m.AccountHash,
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownServerMessage, msg)
	}
}

// UnmarshallClientMessage decodes a frame sent by the client.
func UnmarshallClientMessage(data []byte) (model.ClientMessage, error) {
	var head struct {
		Type  string       `json:"type"`
		Speed *model.Speed `json:"speed"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case TypeSpeedChange:
		if head.Speed == nil {
			return nil, fmt.Errorf("%s: missing speed", TypeSpeedChange)
		}
		return model.SpeedChangeMessage{Speed: *head.Speed}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientMessage, head.Type)
	}
}
