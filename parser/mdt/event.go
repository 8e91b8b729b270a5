package mdt

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is the closed set of decoded event kinds.
type Op int

const (
	OpNote         Op = iota // A pitched note with its length.
	OpRest                   // r
	OpTie                    // &
	OpOctave                 // O, absolute octave change
	OpLoopStart              // |: with a repeat count
	OpLoopSkip               // : leave the loop here on the last pass
	OpLoopEnd                // :|
	OpNoteOff                // /
	OpRepeatStart            // [ with a repeat count
	OpRepeatEnd              // ]
	OpDetune                 // ^
	OpTranspose              // @^
	OpAmpLFO                 // SA
	OpTempo                  // t
	OpCutTempo               // @T, tempo doubled for cut time songs
	OpArticulation           // Q
	OpNoiseMix               // N, SSG tone/noise mix
	OpInstrument             // @
	OpVolume                 // V
	OpFineVolume             // @V
	OpPitchLFO               // S
	OpRegister               // Y, raw register write
	OpLFODelay               // W
	OpFade                   // _
	OpPan                    // P
	OpPortamento             // (from,to)length
	OpInfiniteLoop           // \ marks where playback resumes forever
	OpVolumeUp               // @V+
	OpVolumeDown             // @V-
	OpBlockStart             // [: with a repeat count
	OpBlockEnd               // :]
	OpSync                   // Z
	OpBlockSkip              // | leave the block here on the last pass
	OpMacro                  // U, call a macro by id
	OpSawPitchLFO            // SP
	OpHardwareLFO            // SH
	opCount
)

var opNames = [...]string{
	OpNote:         "",
	OpRest:         "r",
	OpTie:          "&",
	OpOctave:       "O",
	OpLoopStart:    "|:",
	OpLoopSkip:     ":",
	OpLoopEnd:      ":|",
	OpNoteOff:      "/",
	OpRepeatStart:  "[",
	OpRepeatEnd:    "]",
	OpDetune:       "^",
	OpTranspose:    "@^",
	OpAmpLFO:       "SA",
	OpTempo:        "t",
	OpCutTempo:     "@T",
	OpArticulation: "Q",
	OpNoiseMix:     "N",
	OpInstrument:   "@",
	OpVolume:       "V",
	OpFineVolume:   "@V",
	OpPitchLFO:     "S",
	OpRegister:     "Y",
	OpLFODelay:     "W",
	OpFade:         "_",
	OpPan:          "P",
	OpPortamento:   "",
	OpInfiniteLoop: "\\",
	OpVolumeUp:     "@V+",
	OpVolumeDown:   "@V-",
	OpBlockStart:   "[:",
	OpBlockEnd:     ":]",
	OpSync:         "Z",
	OpBlockSkip:    "|",
	OpMacro:        "U",
	OpSawPitchLFO:  "SP",
	OpHardwareLFO:  "SH",
}

// Valid reports whether o is one of the known event kinds.
func (o Op) Valid() bool {
	return o >= 0 && o < opCount
}

// String returns the MD2 command name of the op.
func (o Op) String() string {
	if !o.Valid() {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	switch o {
	case OpNote:
		return "note"
	case OpPortamento:
		return "portamento"
	}
	return opNames[o]
}

// NoteNames are the MD2 names of the twelve semitones, starting from c.
var NoteNames = [12]string{"c", "c+", "d", "d+", "e", "f", "f+", "g", "g+", "a", "a+", "b"}

// ClocksPerQuarter is the number of length clocks in a quarter note (192 per whole note).
const ClocksPerQuarter = 48

// Length is a note duration in clocks.
type Length int

var lengthTokens = map[Length]string{
	1: "192", 2: "96", 3: "64", 4: "48", 6: "32", 8: "24", 9: "32.",
	12: "16", 16: "12", 18: "16.", 24: "8", 32: "6", 36: "8.", 48: "4",
	64: "3", 72: "4.", 96: "2", 144: "2.", 192: "1",
}

// String returns the MD2 length token: a note fraction when one exists,
// otherwise the raw clock count prefixed by %.
func (l Length) String() string {
	if s, ok := lengthTokens[l]; ok {
		return s
	}
	return "%" + strconv.Itoa(int(l))
}

// Beats returns the length in quarter-note beats.
func (l Length) Beats() float64 {
	return float64(l) / ClocksPerQuarter
}

// NoteToken holds the pitch and length of a note. Rests use only Length.
type NoteToken struct {
	Semitone int    // 0-11, index into NoteNames
	Shift    int    // -1 for <, +1 for >, 0 for no relative octave change
	Length   Length // duration in clocks
}

// PortaToken holds a decoded portamento. From and To are note bytes
// (octave in the high nibble, semitone in the low nibble).
type PortaToken struct {
	From   int
	To     int
	Length Length
}

// Event is a single decoded command of a channel or macro.
type Event struct {
	Op    Op
	Args  []int
	Note  NoteToken
	Porta *PortaToken
}

// Arg returns argument i, or 0 when the event has fewer arguments.
func (e Event) Arg(i int) int {
	if i < 0 || i >= len(e.Args) {
		return 0
	}
	return e.Args[i]
}

// String renders the event as an MD2 token, without the trailing separator.
func (e Event) String() string {
	switch e.Op {
	case OpNote:
		prefix := ""
		switch {
		case e.Note.Shift > 0:
			prefix = ">"
		case e.Note.Shift < 0:
			prefix = "<"
		}
		return prefix + noteName(e.Note.Semitone) + e.Note.Length.String()
	case OpRest:
		return "r" + e.Note.Length.String()
	case OpPortamento:
		if e.Porta == nil {
			return "()"
		}
		return fmt.Sprintf("(%d%s,%d%s)%s",
			e.Porta.From>>4, noteName(e.Porta.From&0x0F),
			e.Porta.To>>4, noteName(e.Porta.To&0x0F),
			e.Porta.Length)
	}

	var sb strings.Builder
	sb.WriteString(e.Op.String())
	for i, a := range e.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(a))
	}
	return sb.String()
}

func noteName(semitone int) string {
	if semitone < 0 || semitone >= len(NoteNames) {
		return "?"
	}
	return NoteNames[semitone]
}
