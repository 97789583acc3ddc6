package model

import (
	"errors"
	"fmt"
)

// Parse and decode errors for the enums below.
var (
	ErrUnknownRole     = errors.New("unknown speaker role")
	ErrUnknownSide     = errors.New("unknown debate side")
	ErrUnknownGameMode = errors.New("unknown game mode")
)

// SpeakerRole identifies who produced an entry in the debate log.
// The zero value is not a valid role.
type SpeakerRole uint8

const (
	RolePro SpeakerRole = iota + 1
	RoleCon
	RoleSystem
	RoleJudge
)

var roleNames = map[SpeakerRole]string{
	RolePro:    "pro",
	RoleCon:    "con",
	RoleSystem: "system",
	RoleJudge:  "judge",
}

var roleLabels = map[SpeakerRole]string{
	RolePro:    "正方",
	RoleCon:    "反方",
	RoleSystem: "系统",
	RoleJudge:  "评委",
}

// Valid reports whether r is one of the four known roles.
func (r SpeakerRole) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// String returns the wire name of the role.
func (r SpeakerRole) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("SpeakerRole(%d)", uint8(r))
}

// Label is the display name used in transcripts and prompts.
func (r SpeakerRole) Label() string {
	return roleLabels[r]
}

// Side reports whether the role is one of the two debating sides.
func (r SpeakerRole) Side() (Side, bool) {
	switch r {
	case RolePro:
		return SidePro, true
	case RoleCon:
		return SideCon, true
	default:
		return 0, false
	}
}

// MarshalText encodes the role by its wire name.
func (r SpeakerRole) MarshalText() ([]byte, error) {
	name, ok := roleNames[r]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(name), nil
}

// UnmarshalText accepts a wire name.
func (r *SpeakerRole) UnmarshalText(text []byte) error {
	parsed, err := ParseSpeakerRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseSpeakerRole accepts both the wire name and the display label.
func ParseSpeakerRole(s string) (SpeakerRole, error) {
	for role, name := range roleNames {
		if s == name || s == roleLabels[role] {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Side is one of the two debating sides. Only a Side can be due to speak next,
// so SYSTEM and JUDGE never end up in the turn slot.
type Side uint8

const (
	SidePro Side = iota + 1
	SideCon
)

// Valid reports whether s is PRO or CON.
func (s Side) Valid() bool {
	return s == SidePro || s == SideCon
}

// Role maps the side to its log role.
func (s Side) Role() SpeakerRole {
	switch s {
	case SidePro:
		return RolePro
	case SideCon:
		return RoleCon
	default:
		return 0
	}
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SidePro {
		return SideCon
	}
	return SidePro
}

func (s Side) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
	return s.Role().String()
}

func (s Side) Label() string {
	return s.Role().Label()
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSide, uint8(s))
	}
	return s.Role().MarshalText()
}

func (s *Side) UnmarshalText(text []byte) error {
	role, err := ParseSpeakerRole(string(text))
	if err != nil {
		return err
	}
	side, ok := role.Side()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSide, text)
	}
	*s = side
	return nil
}

// GameMode is fixed when a session starts.
type GameMode uint8

const (
	ModeAIvsAI GameMode = iota + 1
	ModeHumanVsAI
)

var modeNames = map[GameMode]string{
	ModeAIvsAI:    "ai-vs-ai",
	ModeHumanVsAI: "human-vs-ai",
}

// Valid reports whether m is a known game mode.
func (m GameMode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// String returns the wire name of the mode.
func (m GameMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("GameMode(%d)", uint8(m))
}

func (m GameMode) MarshalText() ([]byte, error) {
	name, ok := modeNames[m]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGameMode, uint8(m))
	}
	return []byte(name), nil
}

func (m *GameMode) UnmarshalText(text []byte) error {
	parsed, err := ParseGameMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseGameMode parses "ai-vs-ai" or "human-vs-ai".
func ParseGameMode(s string) (GameMode, error) {
	for mode, name := range modeNames {
		if s == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGameMode, s)
}
