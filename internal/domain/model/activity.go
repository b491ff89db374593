package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ActivityKind is the wire discriminator of an activity update.
type ActivityKind string

const (
	KindLocation    ActivityKind = "LOCATION"
	KindPlayerDeath ActivityKind = "PLAYER_DEATH"
	KindLevelUp     ActivityKind = "LEVEL_UP"
)

// ActivityKinds lists every kind a client may report. Routing tables are validated against it.
func ActivityKinds() []ActivityKind {
	return []ActivityKind{KindLocation, KindPlayerDeath, KindLevelUp}
}

var ErrUnknownActivity = errors.New("unknown activity type")

// ActivityUpdate is the closed set of events reported by game clients.
type ActivityUpdate interface {
	Kind() ActivityKind
	Meta() ActivityMeta
	activity()
}

// ActivityMeta is shared by every activity variant.
type ActivityMeta struct {
	ID          string      `json:"id"`
	AccountHash AccountHash `json:"accountHash"`
	// Timestamp is unix milliseconds as reported by the client.
	Timestamp int64 `json:"timestamp"`
}

func (m ActivityMeta) Time() time.Time { return time.UnixMilli(m.Timestamp).UTC() }

type LocationUpdate struct {
	ActivityMeta
	X     int `json:"x"`
	Y     int `json:"y"`
	Plane int `json:"plane"`
	World int `json:"world"`
}

type PlayerDeath struct {
	ActivityMeta
	X     int `json:"x"`
	Y     int `json:"y"`
	Plane int `json:"plane"`
	World int `json:"world"`
}

type LevelUp struct {
	ActivityMeta
	Skill Skill `json:"skill"`
	Level int   `json:"level"`
}

func (LocationUpdate) Kind() ActivityKind { return KindLocation }
func (PlayerDeath) Kind() ActivityKind    { return KindPlayerDeath }
func (LevelUp) Kind() ActivityKind        { return KindLevelUp }

func (u LocationUpdate) Meta() ActivityMeta { return u.ActivityMeta }
func (u PlayerDeath) Meta() ActivityMeta    { return u.ActivityMeta }
func (u LevelUp) Meta() ActivityMeta        { return u.ActivityMeta }

func (LocationUpdate) activity() {}
func (PlayerDeath) activity()    {}
func (LevelUp) activity()        {}

func (u LocationUpdate) MarshalJSON() ([]byte, error) {
	type alias LocationUpdate
	return json.Marshal(struct {
		Type ActivityKind `json:"type"`
		alias
	}{KindLocation, alias(u)})
}

func (u PlayerDeath) MarshalJSON() ([]byte, error) {
	type alias PlayerDeath
	return json.Marshal(struct {
		Type ActivityKind `json:"type"`
		alias
	}{KindPlayerDeath, alias(u)})
}

func (u LevelUp) MarshalJSON() ([]byte, error) {
	type alias LevelUp
	return json.Marshal(struct {
		Type ActivityKind `json:"type"`
		alias
	}{KindLevelUp, alias(u)})
}

// DecodeActivity reads a type-tagged activity update.
func DecodeActivity(data []byte) (ActivityUpdate, error) {
	var head struct {
		Type ActivityKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case KindLocation:
		var u LocationUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	case KindPlayerDeath:
		var u PlayerDeath
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	case KindLevelUp:
		var u LevelUp
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, head.Type)
	}
}

// WithID returns a copy of u carrying the given id.
func WithID(u ActivityUpdate, id string) ActivityUpdate {
	switch v := u.(type) {
	case LocationUpdate:
		v.ID = id
		return v
	case PlayerDeath:
		v.ID = id
		return v
	case LevelUp:
		v.ID = id
		return v
	}
	return u
}

// CachedLocation is the short-lived last known position of an account.
type CachedLocation struct {
	AccountHash AccountHash `json:"accountHash"`
	X           int         `json:"x"`
	Y           int         `json:"y"`
	Plane       int         `json:"plane"`
	World       int         `json:"world"`
}
