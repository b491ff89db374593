package model

import "fmt"

type Skill uint8

const (
	Attack Skill = iota
	Defence
	Strength
	Hitpoints
	Ranged
	Prayer
	Magic
	Cooking
	Woodcutting
	Fletching
	Fishing
	Firemaking
	Crafting
	Smithing
	Mining
	Herblore
	Agility
	Thieving
	Slayer
	Farming
	Runecraft
	Hunter
	Construction
	Overall
)

var skillNames = [...]string{
	"Attack", "Defence", "Strength", "Hitpoints", "Ranged", "Prayer", "Magic", "Cooking",
	"Woodcutting", "Fletching", "Fishing", "Firemaking", "Crafting", "Smithing", "Mining",
	"Herblore", "Agility", "Thieving", "Slayer", "Farming", "Runecraft", "Hunter",
	"Construction", "Overall",
}

func (s Skill) String() string {
	if int(s) < len(skillNames) {
		return skillNames[s]
	}
	return fmt.Sprintf("Skill(%d)", uint8(s))
}

func (s Skill) MarshalText() ([]byte, error) {
	if int(s) >= len(skillNames) {
		return nil, fmt.Errorf("invalid skill %d", uint8(s))
	}
	return []byte(skillNames[s]), nil
}

func (s *Skill) UnmarshalText(text []byte) error {
	for i, name := range skillNames {
		if name == string(text) {
			*s = Skill(i)
			return nil
		}
	}
	return fmt.Errorf("unknown skill %q", text)
}
