package playback

import (
	"errors"
	"fmt"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
)

var (
	ErrLoopUnderflow = errors.New("playback: loop command outside a loop")
	ErrUnknownMacro  = errors.New("playback: unknown macro")
	ErrMacroDepth    = errors.New("playback: macro nesting too deep")
	ErrUnknownEvent  = errors.New("playback: unknown event")
)

// MIDI controller numbers used by the engine.
const (
	CCPortamentoTime  = 5
	CCLFORate         = 3
	CCPan             = 10
	CCAmpLFODepth     = 12
	CCPitchLFODepth   = 13
	CCPortamentoOn    = 65
	CCLFODelay        = 78
	CCDetune          = 94
	CCAllSoundOff     = 120
	CCMonoOn          = 126
	CCPolyOn          = 127
	DefaultMaxDepth   = 32
	DefaultPortamento = 55
)

// Gap in beats between the two notes of a portamento (3 ticks at 960 PPQ).
const portamentoEpsilon = 3.0 / 960

// Percussion key of each rhythm source, in sample mask bit order.
var RhythmKeys = [RhythmSources]int{36, 38, 46, 42, 48, 37}

type Options struct {
	// Linear visits each event once through Visitor.Token without loops,
	// macro calls or timing.
	Linear bool

	// CutTime doubles lengths inside macros, which are stored undoubled.
	CutTime bool

	// MaxDepth caps macro nesting. Zero means DefaultMaxDepth.
	MaxDepth int

	// Programs maps voice numbers selected with @ to program numbers.
	// Unmapped voices select program 0.
	Programs map[int]int

	// SSGMixOffset adds (mix-1)*128 to SSG voice numbers before they are
	// looked up in Programs.
	SSGMixOffset bool

	// PortamentoRate is the controller 5 value sent with each portamento.
	PortamentoRate int
}

// DefaultOptions returns replay options with the default depth cap and portamento rate.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       DefaultMaxDepth,
		PortamentoRate: DefaultPortamento,
	}
}

// Engine replays decoded tracks into a Visitor.
//
// Macros must not call themselves, directly or through other macros; such
// songs fail with ErrMacroDepth once the nesting cap is reached.
type Engine struct {
	macros  []*mdt.Channel
	visitor Visitor
	opts    Options
}

// NewEngine creates an engine. macros is indexed by macro id.
func NewEngine(macros []*mdt.Channel, v Visitor, opts Options) *Engine {
	if v == nil {
		v = NopVisitor{}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Engine{macros: macros, visitor: v, opts: opts}
}

// Run replays track starting from st and returns the time and velocity it
// ends with. ADPCM tracks produce nothing.
func (e *Engine) Run(track *mdt.Channel, st State) (float64, int, error) {
	if e.opts.Linear {
		return st.Time, st.Velocity, e.transcribe(track)
	}
	if err := e.run(track, &st, 0); err != nil {
		return st.Time, st.Velocity, err
	}
	return st.Time, st.Velocity, nil
}

func (e *Engine) transcribe(track *mdt.Channel) error {
	for i, ev := range track.Events {
		if !ev.Op.Valid() {
			return trackError(track, i, ev, ErrUnknownEvent)
		}
		e.visitor.Token(ev)
	}
	return nil
}

func trackError(track *mdt.Channel, i int, ev mdt.Event, err error) error {
	name := fmt.Sprintf("channel 0x%02X", track.ID)
	if track.Macro {
		name = fmt.Sprintf("macro %d", track.MacroID)
	}
	return fmt.Errorf("%s, event %d (%v): %w", name, i, ev, err)
}

func (e *Engine) run(track *mdt.Channel, st *State, depth int) error {
	if track.Role == mdt.RoleADPCM {
		return nil
	}
	v := e.visitor
	role := track.Role
	lengthScale := 1.0
	if e.opts.CutTime && track.Macro {
		lengthScale = 2
	}

	for i := 0; i < len(track.Events); i++ {
		ev := track.Events[i]
		switch ev.Op {
		case mdt.OpNote:
			st.Octave += ev.Note.Shift
			length := ev.Note.Length.Beats() * lengthScale
			if st.silenced() {
				st.Time += length
				st.Tie = false
				continue
			}
			duration := length * st.Articulation
			switch {
			case st.Tie && v.Extend(duration):
			case role == mdt.RoleRhythm:
				v.Percussion(Percussion{
					Time:       st.Time,
					Duration:   duration,
					Samples:    st.RhythmSamples,
					Velocities: st.RhythmVelocities,
				})
			default:
				v.Note(Note{
					Pitch:    ev.Note.Semitone + (st.Octave+1)*12 + st.Transpose,
					Time:     st.Time,
					Duration: duration,
					Velocity: st.Velocity,
				})
			}
			st.Tie = false
			st.Time += length

		case mdt.OpOctave:
			st.Octave = ev.Arg(0)
			// SSG channels sound one octave above the written octave.
			if role == mdt.RoleSSG {
				st.Octave++
			}

		case mdt.OpRest:
			st.Time += ev.Note.Length.Beats() * lengthScale
			st.Tie = false

		case mdt.OpTie:
			st.Tie = true

		case mdt.OpLoopStart, mdt.OpBlockStart, mdt.OpRepeatStart:
			st.pushLoop(ev.Arg(0), i+1)

		case mdt.OpLoopSkip, mdt.OpBlockSkip:
			top := st.Depth() - 1
			if top < 0 {
				return trackError(track, i, ev, ErrLoopUnderflow)
			}
			if st.loopRemaining[top] == 0 && st.loopSkip[top] >= 0 {
				i = st.loopSkip[top] - 1
			}

		case mdt.OpLoopEnd, mdt.OpBlockEnd, mdt.OpRepeatEnd:
			top := st.Depth() - 1
			if top < 0 {
				return trackError(track, i, ev, ErrLoopUnderflow)
			}
			if st.loopRemaining[top] == 0 {
				st.popLoop()
				continue
			}
			st.loopRemaining[top]--
			st.loopSkip[top] = i
			st.Octave = st.loopOctave[top]
			i = st.loopReturn[top] - 1

		case mdt.OpNoteOff:
			v.Controller(st.Time, CCAllSoundOff, 0)

		case mdt.OpDetune:
			// MIDI only has a detune amount, so the sign is dropped.
			d := ev.Arg(0)
			if d < 0 {
				d = -d
			}
			v.Controller(st.Time, CCDetune, min(d, 127))

		case mdt.OpTranspose:
			st.Transpose = ev.Arg(0)

		case mdt.OpPitchLFO, mdt.OpAmpLFO, mdt.OpSawPitchLFO, mdt.OpHardwareLFO:
			e.lfo(st, ev)

		case mdt.OpTempo, mdt.OpCutTempo:
			v.Tempo(st.Time, ev.Arg(0))

		case mdt.OpArticulation:
			// Q0 means notes are never released; that is played as full length.
			st.Articulation = 0.125 * float64(ev.Arg(0))
			if st.Articulation == 0 {
				st.Articulation = 1
			}

		case mdt.OpNoiseMix:
			st.NoiseMix = ev.Arg(0)

		case mdt.OpInstrument:
			e.instrument(track, st, ev)

		case mdt.OpVolume, mdt.OpFineVolume:
			e.volume(track, st, ev)

		case mdt.OpVolumeUp, mdt.OpVolumeDown:
			amount := ev.Arg(0)
			if role == mdt.RoleSSG {
				amount = Rescale(amount, 15, 127)
			}
			if ev.Op == mdt.OpVolumeDown {
				amount = -amount
			}
			st.Velocity += amount

		case mdt.OpLFODelay:
			// On SSG channels this is the noise frequency, which has no MIDI equivalent.
			if role == mdt.RoleFM {
				v.Controller(st.Time, CCLFODelay, ev.Arg(0)/2)
			}

		case mdt.OpPan:
			if role == mdt.RoleRhythm {
				// Pan 0 mutes one rhythm source.
				if ev.Arg(1) == 0 {
					st.RhythmSamples &^= 1 << ev.Arg(0)
				}
				continue
			}
			value := 64
			switch ev.Arg(0) {
			case 1:
				value = 0
			case 2:
				value = 127
			}
			v.Controller(st.Time, CCPan, value)
			st.PanOn = ev.Arg(0) != 0

		case mdt.OpPortamento:
			if ev.Porta == nil {
				return trackError(track, i, ev, ErrUnknownEvent)
			}
			e.portamento(st, ev.Porta, lengthScale)

		case mdt.OpMacro:
			id := ev.Arg(0)
			if id < 0 || id >= len(e.macros) || e.macros[id] == nil {
				return trackError(track, i, ev, ErrUnknownMacro)
			}
			if depth+1 > e.opts.MaxDepth {
				return trackError(track, i, ev, ErrMacroDepth)
			}
			inner := st.macroState()
			if err := e.run(e.macros[id], &inner, depth+1); err != nil {
				return err
			}
			st.Time = inner.Time
			st.Velocity = inner.Velocity

		case mdt.OpRegister, mdt.OpFade, mdt.OpInfiniteLoop, mdt.OpSync:
			// No MIDI equivalent.

		default:
			return trackError(track, i, ev, ErrUnknownEvent)
		}
	}
	return nil
}

func (e *Engine) lfo(st *State, ev mdt.Event) {
	var rate, pitch, amp, delay int
	switch ev.Op {
	case mdt.OpHardwareLFO:
		// Speed 0-7, sync, PMS 0-7, AMS 0-3. Sync has no MIDI equivalent.
		rate = Rescale(ev.Arg(0), 7, 127)
		pitch = Rescale(ev.Arg(2), 7, 127)
		amp = Rescale(ev.Arg(3), 3, 127)
	case mdt.OpPitchLFO:
		// Speed, depth, proportion, delay.
		rate = ev.Arg(0) / 2
		pitch = ev.Arg(1) / 2
		delay = ev.Arg(3) / 2
	case mdt.OpAmpLFO:
		// Speed, waveform, depth, proportion, delay.
		rate = ev.Arg(0) / 2
		amp = ev.Arg(2) / 2
		delay = ev.Arg(4) / 2
	case mdt.OpSawPitchLFO:
		rate = ev.Arg(0) / 2
		pitch = ev.Arg(2) / 2
		delay = ev.Arg(4) / 2
	}
	v := e.visitor
	v.Controller(st.Time, CCLFORate, rate)
	v.Controller(st.Time, CCPitchLFODepth, pitch)
	v.Controller(st.Time, CCAmpLFODepth, amp)
	v.Controller(st.Time, CCLFODelay, delay)
}

func (e *Engine) instrument(track *mdt.Channel, st *State, ev mdt.Event) {
	n := ev.Arg(0)
	switch track.Role {
	case mdt.RoleFM:
		e.visitor.Program(st.Time, e.opts.Programs[n])
	case mdt.RoleSSG:
		if e.opts.SSGMixOffset {
			n += (st.NoiseMix - 1) * 128
		}
		e.visitor.Program(st.Time, e.opts.Programs[n])
	case mdt.RoleRhythm:
		st.RhythmSamples = n
	}
}

func (e *Engine) volume(track *mdt.Channel, st *State, ev mdt.Event) {
	switch track.Role {
	case mdt.RoleFM:
		if ev.Op == mdt.OpFineVolume {
			st.Velocity = ev.Arg(0)
		} else {
			st.Velocity = Rescale(ev.Arg(0), 15, 127)
		}
	case mdt.RoleSSG:
		st.Velocity = Rescale(ev.Arg(0), 15, 127)
	case mdt.RoleRhythm:
		if ev.Op == mdt.OpFineVolume {
			if i := ev.Arg(0); i >= 0 && i < RhythmSources {
				st.RhythmVelocities[i] = Rescale(ev.Arg(1), 31, 127)
			}
			return
		}
		// Per-source levels 0-31 scaled by the master level 0-63.
		master := ev.Arg(0)
		for j := range st.RhythmVelocities {
			st.RhythmVelocities[j] = Rescale(ev.Arg(j+1)*master, 31*63, 127)
		}
	}
}

func (e *Engine) portamento(st *State, p *mdt.PortaToken, lengthScale float64) {
	// Articulation does not shorten portamentos.
	length := p.Length.Beats() * lengthScale
	if st.silenced() {
		st.Time += length
		st.Tie = false
		return
	}
	// The octave digits in the token are absolute, so no SSG octave shift.
	from := (p.From & 0x0F) + (p.From>>4+1)*12 + st.Transpose
	to := (p.To & 0x0F) + (p.To>>4+1)*12 + st.Transpose

	v := e.visitor
	v.Controller(st.Time, CCPortamentoOn, 127)
	v.Controller(st.Time, CCPortamentoTime, e.opts.PortamentoRate)

	held := length - portamentoEpsilon
	if !(st.Tie && v.Extend(held)) {
		v.Note(Note{Pitch: from, Time: st.Time, Duration: held, Velocity: st.Velocity})
	}
	st.Tie = false
	v.Note(Note{Pitch: to, Time: st.Time + portamentoEpsilon, Duration: held, Velocity: st.Velocity})

	st.Time += length
	v.Controller(st.Time, CCPortamentoOn, 0)
}
