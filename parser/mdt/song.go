package mdt

import (
	"fmt"
	"strings"
)

// Chip is the sound chip family declared in the MDT header.
type Chip int

const (
	ChipOPM Chip = iota
	ChipOPN
	ChipOPLL
)

func (c Chip) isValid() bool {
	switch c {
	case ChipOPM, ChipOPN, ChipOPLL:
		return true
	default:
		return false
	}
}

func (c Chip) String() string {
	switch c {
	case ChipOPM:
		return "OPM"
	case ChipOPN:
		return "OPN"
	case ChipOPLL:
		return "OPLL"
	}
	return fmt.Sprintf("Chip(%d)", int(c))
}

// Role is the kind of sound source a channel drives.
type Role int

const (
	RoleFM Role = iota
	RoleSSG
	RoleRhythm
	RoleADPCM
)

// RoleOf derives the role of a channel from its raw id byte.
func RoleOf(id byte) Role {
	switch {
	case id&0x80 != 0:
		return RoleFM
	case id&0x40 != 0:
		return RoleSSG
	case id&0x10 != 0:
		return RoleRhythm
	default:
		return RoleADPCM
	}
}

func (r Role) String() string {
	switch r {
	case RoleFM:
		return "FM"
	case RoleSSG:
		return "SSG"
	case RoleRhythm:
		return "rhythm"
	case RoleADPCM:
		return "ADPCM"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// MacroTag is the MD2 role letter written after $ on a macro line. Macros
// first called from rhythm or ADPCM tracks are both tagged R.
func (r Role) MacroTag() string {
	switch r {
	case RoleFM:
		return "F"
	case RoleSSG:
		return "S"
	}
	return "R"
}

// A channel track or a macro body.
type Channel struct {
	ID     byte // Raw channel id from the header. Macros carry the id of their first caller.
	Role   Role
	Offset int // Absolute offset of the first command.
	Events []Event

	// Offset of the command the infinite loop jumps back to, and the index
	// of the loop marker inserted before it. Both are -1 without a loop.
	LoopOffset int
	LoopIndex  int

	Macro   bool
	MacroID int
}

// Label returns the MD2 channel letter: L for rhythm, I-K for SSG and A-F for FM.
func (c *Channel) Label() (string, error) {
	switch {
	case c.ID == 0x10:
		return "L", nil
	case c.ID >= 0x40 && c.ID <= 0x42:
		return string(rune('I' + c.ID - 0x40)), nil
	case c.ID >= 0x80 && c.ID <= 0x85:
		return string(rune('A' + c.ID - 0x80)), nil
	}
	return "", fmt.Errorf("channel id 0x%02X has no MD2 letter", c.ID)
}

func (c *Channel) add(ev Event) {
	c.Events = append(c.Events, ev)
}

// String returns the channel's events as a space separated MD2 token list.
func (c *Channel) String() string {
	var sb strings.Builder
	for i, ev := range c.Events {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(ev.String())
	}
	return sb.String()
}

// A fully decoded MDT file. Nothing modifies a Song once Decode returns it.
type Song struct {
	Filename string // Base name of the source file, used as the key of instrument maps.
	Title    string
	Chip     Chip

	Channels []*Channel
	Macros   []*Channel // Indexed by macro id.

	FM  []FMVoice
	SSG []SSGEnvelope

	// Voice numbers selected with @ in FM and SSG tracks, and whether a note
	// was played while each was selected.
	FMUsage  map[int]bool
	SSGUsage map[int]bool
}

// Macro returns the macro with the given id.
func (s *Song) Macro(id int) (*Channel, bool) {
	if id < 0 || id >= len(s.Macros) {
		return nil, false
	}
	return s.Macros[id], true
}
