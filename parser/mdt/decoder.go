package mdt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/QEStudios/MDTDecompiler/portamento"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

var (
	ErrUnsupportedChip = errors.New("mdt: only OPM, OPN and OPLL chips are supported")
	ErrTruncated       = errors.New("mdt: unexpected end of data")
	ErrUnknownOpcode   = errors.New("mdt: unknown opcode")
	ErrMalformed       = errors.New("mdt: malformed command stream")
)

// Running octave before the first note of a track. No note byte can match
// it, so the first note always emits an absolute octave.
const noOctave = 0xFF

// Voice number before the first @ of a track.
const noVoice = 0xFF

const titleTerminator = '$'

// Options controls how a file is decoded.
type Options struct {
	// CutTime doubles note lengths in channels and emits @T instead of t.
	CutTime bool

	// Portamento tables used to recover end notes. Nil tables resolve every
	// portamento to its start note.
	FMPortamento  portamento.Table
	SSGPortamento portamento.Table
}

// DefaultOptions returns options using the built-in portamento tables.
func DefaultOptions() Options {
	return Options{
		FMPortamento:  portamento.DefaultFM(),
		SSGPortamento: portamento.DefaultSSG(),
	}
}

// Small struct for non-fatal warnings
type Warning struct {
	Offset  int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("0x%04X: %s", w.Offset, w.Message)
}

type Decoder struct {
	src      io.Reader
	r        *Reader
	logger   *log.Logger
	filename string
	song     *Song

	// Collect any warnings whilst decoding.
	warnings []Warning

	// Macro start offset to macro id.
	macroIDs map[int]int

	// Decoding can only be done once per Decoder.
	used bool
}

// NewDecoder creates a decoder for one MDT file. filename is the base name
// recorded in the Song and used as the key of instrument maps.
func NewDecoder(r io.Reader, filename string, logger *log.Logger) *Decoder {
	if logger == nil {
		logger = log.Default()
	}
	return &Decoder{
		src:      r,
		logger:   logger,
		filename: filename,
		macroIDs: make(map[int]int),
	}
}

// Warnings returns the non-fatal problems found by Decode.
func (d *Decoder) Warnings() []Warning {
	return d.warnings
}

// addWarning adds to the list of warnings encountered when decoding.
func (d *Decoder) addWarning(format string, args ...any) {
	offset := 0
	if d.r != nil {
		offset = d.r.Tell()
	}
	d.warnings = append(d.warnings, Warning{
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	})
}

func (d *Decoder) fatalf(err error, format string, args ...any) error {
	offset := 0
	if d.r != nil {
		offset = d.r.Tell()
	}
	return fmt.Errorf("%s: 0x%04X: %s: %w", d.filename, offset, fmt.Sprintf(format, args...), err)
}

// Decode reads the whole file and returns the decoded song.
func (d *Decoder) Decode(opts Options) (*Song, error) {
	if d.used {
		return nil, errors.New("mdt: decoder has already been used")
	}
	d.used = true

	data, err := io.ReadAll(d.src)
	if err != nil {
		return nil, fmt.Errorf("%s: reading file: %w", d.filename, err)
	}
	d.r = NewReader(data)
	d.song = &Song{
		Filename: d.filename,
		FMUsage:  make(map[int]bool),
		SSGUsage: make(map[int]bool),
	}

	fmOffset, ssgOffset, titleOffset, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	if err := d.readTitle(titleOffset); err != nil {
		return nil, err
	}

	for _, ch := range d.song.Channels {
		if ch.Role == RoleADPCM {
			d.addWarning("channel 0x%02X is an ADPCM channel and will not be rendered", ch.ID)
		}
		if err := d.decodeTrack(ch, opts); err != nil {
			return nil, err
		}
	}
	// Macros found while decoding other macros are appended as we go.
	for i := 0; i < len(d.song.Macros); i++ {
		if err := d.decodeTrack(d.song.Macros[i], opts); err != nil {
			return nil, err
		}
	}

	if err := d.readVoices(fmOffset, ssgOffset); err != nil {
		return nil, err
	}

	if len(d.warnings) > 0 {
		d.logger.Printf("Warnings produced while decoding %s:", d.filename)
		for _, w := range d.warnings {
			d.logger.Println(w)
		}
	}
	return d.song, nil
}

func (d *Decoder) readHeader() (fmOffset, ssgOffset, titleOffset int, err error) {
	fail := func(err error) (int, int, int, error) {
		return 0, 0, 0, d.fatalf(err, "reading header")
	}
	// The first two bytes carry no known meaning.
	if err := d.r.Skip(2); err != nil {
		return fail(err)
	}
	count, err := d.r.U16()
	if err != nil {
		return fail(err)
	}
	chip, err := d.r.U16()
	if err != nil {
		return fail(err)
	}
	d.song.Chip = Chip(chip)
	if !d.song.Chip.isValid() {
		return 0, 0, 0, d.fatalf(ErrUnsupportedChip, "chip id %d", chip)
	}

	for i := 0; i < count; i++ {
		offset, err := d.r.U16()
		if err != nil {
			return fail(err)
		}
		id, err := d.r.U16()
		if err != nil {
			return fail(err)
		}
		if id == 0 {
			continue
		}
		d.song.Channels = append(d.song.Channels, &Channel{
			ID:         byte(id),
			Role:       RoleOf(byte(id)),
			Offset:     offset,
			LoopOffset: -1,
			LoopIndex:  -1,
		})
	}

	if fmOffset, err = d.r.U16(); err != nil {
		return fail(err)
	}
	if ssgOffset, err = d.r.U16(); err != nil {
		return fail(err)
	}
	if titleOffset, err = d.r.U16(); err != nil {
		return fail(err)
	}
	return fmOffset, ssgOffset, titleOffset, nil
}

func (d *Decoder) readTitle(offset int) error {
	if err := d.r.Seek(offset); err != nil {
		return d.fatalf(err, "seeking to title")
	}
	var raw []byte
	for {
		b, err := d.r.U8()
		if err != nil {
			return d.fatalf(err, "title has no %q terminator", titleTerminator)
		}
		if b == titleTerminator {
			break
		}
		raw = append(raw, byte(b))
	}
	title, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		d.addWarning("title is not valid Shift-JIS: %v", err)
		d.song.Title = strings.ToValidUTF8(string(raw), "�")
		return nil
	}
	d.song.Title = string(title)
	return nil
}

func (d *Decoder) readVoices(fmOffset, ssgOffset int) error {
	if err := d.r.Seek(fmOffset); err != nil {
		return d.fatalf(err, "seeking to FM voices")
	}
	for d.r.Tell() < ssgOffset {
		b, err := d.r.Bytes(FMVoiceSize)
		if err != nil {
			return d.fatalf(err, "reading FM voice %d", len(d.song.FM))
		}
		v, err := DecodeFMVoice(b)
		if err != nil {
			return d.fatalf(err, "decoding FM voice %d", len(d.song.FM))
		}
		v.Used = d.song.FMUsage[len(d.song.FM)]
		d.song.FM = append(d.song.FM, v)
	}

	if err := d.r.Seek(ssgOffset); err != nil {
		return d.fatalf(err, "seeking to SSG envelopes")
	}
	for d.r.Tell() < d.r.Size() {
		b, err := d.r.Bytes(SSGEnvelopeSize)
		if err != nil {
			return d.fatalf(err, "reading SSG envelope %d", len(d.song.SSG))
		}
		e, err := DecodeSSGEnvelope(b)
		if err != nil {
			return d.fatalf(err, "decoding SSG envelope %d", len(d.song.SSG))
		}
		d.song.SSG = append(d.song.SSG, e)
	}
	return nil
}

// findLoop scans a track for its infinite loop command without decoding it.
// It returns the offset of the command playback resumes at, or -1.
func (d *Decoder) findLoop(ch *Channel) (int, error) {
	if err := d.r.Seek(ch.Offset); err != nil {
		return -1, d.fatalf(err, "seeking to track start")
	}
	for {
		op, err := d.r.U8()
		if err != nil {
			return -1, d.fatalf(err, "scanning for loop point")
		}
		switch op {
		case opEnd:
			return -1, nil
		case opInfiniteLoop:
			rel, err := d.r.S16()
			if err != nil {
				return -1, d.fatalf(err, "reading loop offset")
			}
			// The relative offset is counted from the byte after the operand
			// and lands one past the target command's opcode byte.
			return d.r.Tell() + rel - 1, nil
		}

		width, ok := operandWidth(op, ch.Role)
		if !ok {
			return -1, d.fatalf(ErrUnknownOpcode, "opcode 0x%02X", op)
		}
		if width == widthVariable {
			first, err := d.r.U8()
			if err != nil {
				return -1, d.fatalf(err, "scanning rhythm volume")
			}
			width = rhythmVolumeWidth(first)
		}
		if err := d.r.Skip(width); err != nil {
			return -1, d.fatalf(err, "skipping operands of 0x%02X", op)
		}
	}
}

// trackState is the decoder state threaded through one track.
type trackState struct {
	ch       *Channel
	opts     Options
	octave   int
	octaves  []int // Octave at the skip point of each open skip-capable loop, -1 before it.
	voice    int
	noiseMix int
}

func (d *Decoder) decodeTrack(ch *Channel, opts Options) error {
	loopAt, err := d.findLoop(ch)
	if err != nil {
		return err
	}
	ch.LoopOffset = loopAt

	if err := d.r.Seek(ch.Offset); err != nil {
		return d.fatalf(err, "seeking to track start")
	}
	st := &trackState{
		ch:       ch,
		opts:     opts,
		octave:   noOctave,
		voice:    noVoice,
		noiseMix: 1,
	}
	for {
		pos := d.r.Tell()
		op, err := d.r.U8()
		if err != nil {
			return d.fatalf(err, "reading track 0x%02X", ch.ID)
		}
		if pos == loopAt {
			ch.LoopIndex = len(ch.Events)
			ch.add(Event{Op: OpInfiniteLoop})
		}
		if op == opEnd {
			return nil
		}
		if err := d.decodeCommand(st, op); err != nil {
			return err
		}
	}
}

// length reads a length operand, doubling it under cut time outside macros.
func (d *Decoder) length(st *trackState) (Length, error) {
	n, err := d.r.U8()
	if err != nil {
		return 0, err
	}
	if st.opts.CutTime && !st.ch.Macro {
		n *= 2
	}
	return Length(n), nil
}

func (d *Decoder) note(st *trackState, b int, l Length) error {
	semitone := b & 0x0F
	if semitone >= len(NoteNames) {
		return d.fatalf(ErrMalformed, "note byte 0x%02X has no semitone", b)
	}
	oct := b >> 4
	shift := oct - st.octave
	st.octave = oct

	ev := Event{Op: OpNote, Note: NoteToken{Semitone: semitone, Length: l}}
	if shift >= 2 || shift <= -2 {
		st.ch.add(Event{Op: OpOctave, Args: []int{oct}})
	} else {
		ev.Note.Shift = shift
	}
	st.ch.add(ev)

	switch st.ch.Role {
	case RoleFM:
		d.song.FMUsage[st.voice] = true
	case RoleSSG:
		d.song.SSGUsage[st.voice] = true
	}
	return nil
}

// event reads n unsigned operands and appends them as an event.
func (d *Decoder) event(st *trackState, op Op, n int) error {
	args, err := d.r.Params(n)
	if err != nil {
		return d.fatalf(err, "reading %s", op)
	}
	st.ch.add(Event{Op: op, Args: args})
	return nil
}

func (d *Decoder) decodeCommand(st *trackState, op int) error {
	ch := st.ch
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		return d.fatalf(err, "decoding opcode 0x%02X", op)
	}

	if op < noteOpcodeLimit {
		l, err := d.length(st)
		if err != nil {
			return wrap(err)
		}
		return d.note(st, op, l)
	}

	switch op {
	case opRest:
		l, err := d.length(st)
		if err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpRest, Note: NoteToken{Length: l}})
	case opTie:
		ch.add(Event{Op: OpTie})
	case opLoopStart:
		st.octaves = append(st.octaves, -1)
		return d.event(st, OpLoopStart, 1)
	case opLoopSkip:
		if err := st.snapshotOctave(); err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpLoopSkip})
	case opLoopEnd:
		if err := st.restoreOctave(); err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpLoopEnd})
	case opNoteOff:
		ch.add(Event{Op: OpNoteOff})
	case opRepeatStart:
		return d.event(st, OpRepeatStart, 1)
	case opRepeatEnd:
		ch.add(Event{Op: OpRepeatEnd})
	case opDetune, opTranspose:
		v, err := d.r.S8()
		if err != nil {
			return wrap(err)
		}
		kind := OpDetune
		if op == opTranspose {
			kind = OpTranspose
		}
		ch.add(Event{Op: kind, Args: []int{v}})
	case opAmpLFO:
		p, err := d.r.Params(4)
		if err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpAmpLFO, Args: []int{p[0], 0, p[1], p[2], p[3]}})
	case opTempo:
		t, err := d.r.U8()
		if err != nil {
			return wrap(err)
		}
		if st.opts.CutTime {
			ch.add(Event{Op: OpCutTempo, Args: []int{t * 2}})
		} else {
			ch.add(Event{Op: OpTempo, Args: []int{t}})
		}
	case opArticulation:
		return d.event(st, OpArticulation, 1)
	case opInstrument:
		return wrap(d.instrument(st))
	case opVolume:
		return wrap(d.volume(st))
	case opPitchLFO:
		return d.event(st, OpPitchLFO, 4)
	case opRegister:
		return d.event(st, OpRegister, 2)
	case opLFODelay:
		return d.event(st, OpLFODelay, 1)
	case opFade:
		t, err := d.r.U8()
		if err != nil {
			return wrap(err)
		}
		if t&0x80 != 0 {
			t = 0x80 - t
		}
		ch.add(Event{Op: OpFade, Args: []int{t}})
	case opPan:
		n := 1
		if ch.Role == RoleRhythm {
			n = 2
		}
		return d.event(st, OpPan, n)
	case opPortamento:
		return wrap(d.portamento(st))
	case opInfiniteLoop:
		// Already located by findLoop.
		return wrap(d.r.Skip(2))
	case opVolumeUp:
		return d.event(st, OpVolumeUp, 1)
	case opVolumeDown:
		return d.event(st, OpVolumeDown, 1)
	case opBlockStart:
		st.octaves = append(st.octaves, -1)
		if err := d.event(st, OpBlockStart, 1); err != nil {
			return err
		}
		return wrap(d.r.Skip(2))
	case opBlockEnd:
		if err := st.restoreOctave(); err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpBlockEnd})
		return wrap(d.r.Skip(3))
	case opSync:
		return d.event(st, OpSync, 1)
	case opBlockSkip:
		if err := st.snapshotOctave(); err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpBlockSkip})
		return wrap(d.r.Skip(2))
	case opMacro:
		target, err := d.r.U16()
		if err != nil {
			return wrap(err)
		}
		ch.add(Event{Op: OpMacro, Args: []int{d.registerMacro(target, ch)}})
	case opSawPitchLFO, opAmpLFOFull:
		p, err := d.r.Params(4)
		if err != nil {
			return wrap(err)
		}
		kind := OpSawPitchLFO
		if op == opAmpLFOFull {
			kind = OpAmpLFO
		}
		ch.add(Event{Op: kind, Args: []int{p[0], p[1], 0, p[2], p[3]}})
	case opHardwareLFO:
		return d.event(st, OpHardwareLFO, 4)
	default:
		return d.fatalf(ErrUnknownOpcode, "opcode 0x%02X", op)
	}
	return nil
}

func (d *Decoder) instrument(st *trackState) error {
	n, err := d.r.U8()
	if err != nil {
		return err
	}
	ch := st.ch
	if ch.Role == RoleSSG {
		// The SSG form packs the tone/noise enable bits (active low) above
		// the envelope number.
		tone, noise := 0, 0
		if n&0x40 == 0 {
			tone = 1
		}
		if n&0x80 == 0 {
			noise = 1
		}
		n %= 0x40
		if mix := noise*2 + tone; mix != st.noiseMix {
			st.noiseMix = mix
			ch.add(Event{Op: OpNoiseMix, Args: []int{mix}})
		}
	}
	ch.add(Event{Op: OpInstrument, Args: []int{n}})

	switch ch.Role {
	case RoleFM:
		st.voice = n
		if _, ok := d.song.FMUsage[n]; !ok {
			d.song.FMUsage[n] = false
		}
	case RoleSSG:
		st.voice = n
		if _, ok := d.song.SSGUsage[n]; !ok {
			d.song.SSGUsage[n] = false
		}
	}
	return nil
}

func (d *Decoder) volume(st *trackState) error {
	ch := st.ch
	switch ch.Role {
	case RoleRhythm:
		first, err := d.r.U8()
		if err != nil {
			return err
		}
		rest, err := d.r.Params(rhythmVolumeWidth(first))
		if err != nil {
			return err
		}
		if first&0x80 != 0 {
			// One drum: index and level.
			ch.add(Event{Op: OpFineVolume, Args: []int{first % 0x80, rest[0]}})
		} else {
			// Master level then one level per drum.
			ch.add(Event{Op: OpVolume, Args: append([]int{first}, rest...)})
		}
	case RoleSSG:
		v, err := d.r.U8()
		if err != nil {
			return err
		}
		ch.add(Event{Op: OpVolume, Args: []int{v}})
	default:
		v, err := d.r.U8()
		if err != nil {
			return err
		}
		ch.add(Event{Op: OpFineVolume, Args: []int{v}})
	}
	return nil
}

func (d *Decoder) portamento(st *trackState) error {
	start, err := d.r.U8()
	if err != nil {
		return err
	}
	duration, err := d.r.U8()
	if err != nil {
		return err
	}
	change, err := d.r.S16()
	if err != nil {
		return err
	}
	if start&0x0F >= len(NoteNames) {
		return fmt.Errorf("portamento start 0x%02X has no semitone: %w", start, ErrMalformed)
	}

	table := st.opts.FMPortamento
	if st.ch.Role == RoleSSG {
		table = st.opts.SSGPortamento
	}
	if change != 0 && !table.Has(start) {
		d.addWarning("no portamento data for start note 0x%02X, using the start note as the end note", start)
	}
	end := table.Resolve(start, duration, change)
	if end&0x0F >= len(NoteNames) {
		return fmt.Errorf("portamento table maps 0x%02X to invalid note 0x%02X: %w", start, end, ErrMalformed)
	}

	l := Length(duration)
	if st.opts.CutTime && !st.ch.Macro {
		l *= 2
	}
	st.ch.add(Event{Op: OpPortamento, Porta: &PortaToken{From: start, To: end, Length: l}})
	return nil
}

// registerMacro returns the id of the macro starting at offset, creating it
// on first sight. A macro takes the id and role of its first caller.
func (d *Decoder) registerMacro(offset int, caller *Channel) int {
	if id, ok := d.macroIDs[offset]; ok {
		return id
	}
	id := len(d.song.Macros)
	d.song.Macros = append(d.song.Macros, &Channel{
		ID:         caller.ID,
		Role:       caller.Role,
		Offset:     offset,
		LoopOffset: -1,
		LoopIndex:  -1,
		Macro:      true,
		MacroID:    id,
	})
	d.macroIDs[offset] = id
	return id
}

func (st *trackState) snapshotOctave() error {
	if len(st.octaves) == 0 {
		return fmt.Errorf("loop skip outside a loop: %w", ErrMalformed)
	}
	if top := len(st.octaves) - 1; st.octaves[top] == -1 {
		st.octaves[top] = st.octave
	}
	return nil
}

func (st *trackState) restoreOctave() error {
	if len(st.octaves) == 0 {
		return fmt.Errorf("loop end outside a loop: %w", ErrMalformed)
	}
	top := len(st.octaves) - 1
	if st.octaves[top] >= 0 {
		st.octave = st.octaves[top]
	}
	st.octaves = st.octaves[:top]
	return nil
}

// Decode is a convenience wrapper decoding data with a fresh Decoder.
func Decode(data []byte, filename string, opts Options, logger *log.Logger) (*Song, error) {
	return NewDecoder(bytes.NewReader(data), filename, logger).Decode(opts)
}
