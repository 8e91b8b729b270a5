package mdt

// Opcode bytes of the MDRV2 command stream. Bytes 0x00-0x7F are notes.
const (
	opRest          = 0x90
	opTie           = 0x91
	opLoopStart     = 0xE0
	opLoopSkip      = 0xE1
	opLoopEnd       = 0xE2
	opNoteOff       = 0xE3
	opRepeatStart   = 0xE4
	opRepeatEnd     = 0xE5
	opDetune        = 0xE6
	opTranspose     = 0xE7
	opAmpLFO        = 0xE8
	opTempo         = 0xE9
	opArticulation  = 0xEA
	opInstrument    = 0xEB
	opVolume        = 0xEC
	opPitchLFO      = 0xED
	opRegister      = 0xEE
	opLFODelay      = 0xEF
	opFade          = 0xF0
	opPan           = 0xF1
	opPortamento    = 0xF2
	opInfiniteLoop  = 0xF3
	opVolumeUp      = 0xF4
	opVolumeDown    = 0xF5
	opBlockStart    = 0xF6
	opBlockEnd      = 0xF7
	opSync          = 0xF8
	opBlockSkip     = 0xF9
	opMacro         = 0xFA
	opSawPitchLFO   = 0xFB
	opAmpLFOFull    = 0xFC
	opHardwareLFO   = 0xFD
	opEnd           = 0xFF
	noteOpcodeLimit = 0x80
)

// widthVariable marks the rhythm volume opcode, whose width depends on its first operand.
const widthVariable = -1

// operandWidths holds the fixed number of operand bytes following each opcode.
// Opcodes missing from the table are unknown.
var operandWidths = map[int]int{
	opRest:         1,
	opTie:          0,
	opLoopStart:    1,
	opLoopSkip:     0,
	opLoopEnd:      0,
	opNoteOff:      0,
	opRepeatStart:  1,
	opRepeatEnd:    0,
	opDetune:       1,
	opTranspose:    1,
	opAmpLFO:       4,
	opTempo:        1,
	opArticulation: 1,
	opInstrument:   1,
	opVolume:       1,
	opPitchLFO:     4,
	opRegister:     2,
	opLFODelay:     1,
	opFade:         1,
	opPan:          1,
	opPortamento:   4,
	opInfiniteLoop: 2,
	opVolumeUp:     1,
	opVolumeDown:   1,
	opBlockStart:   3,
	opBlockEnd:     3,
	opSync:         1,
	opBlockSkip:    2,
	opMacro:        2,
	opSawPitchLFO:  4,
	opAmpLFOFull:   4,
	opHardwareLFO:  4,
	opEnd:          0,
}

// operandWidth returns how many bytes follow op on a channel of the given role.
// It returns widthVariable for the rhythm volume opcode and false for unknown opcodes.
func operandWidth(op int, role Role) (int, bool) {
	if op < noteOpcodeLimit {
		return 1, true
	}
	if role == RoleRhythm {
		switch op {
		case opVolume:
			return widthVariable, true
		case opPan:
			return 2, true
		}
	}
	w, ok := operandWidths[op]
	return w, ok
}

// rhythmVolumeWidth returns the number of bytes following the first operand of a
// rhythm volume command: one level for a single drum, six for all of them.
func rhythmVolumeWidth(first int) int {
	if first&0x80 != 0 {
		return 1
	}
	return 6
}
