package model

import (
	"encoding/json"
	"fmt"
)

// Speed is the broadcast cadence requested by a client.
type Speed uint8

const (
	SpeedSlow Speed = iota
	SpeedFast
)

func (s Speed) String() string {
	switch s {
	case SpeedFast:
		return "FAST"
	default:
		return "SLOW"
	}
}

func (s Speed) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Speed) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "SLOW":
		*s = SpeedSlow
	case "FAST":
		*s = SpeedFast
	default:
		return fmt.Errorf("unknown speed %q", raw)
	}
	return nil
}

// AccountContext is the per-connection throttling state.
// It is a plain value so the context store can compare-and-swap it.
type AccountContext struct {
	Speed               Speed
	LastPushTick        uint64
	LastSpeedChangeTick uint64
}
