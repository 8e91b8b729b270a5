package playback

// Number of rhythm sound sources, in the order bass drum, snare, top cymbal,
// hi-hat, tom and rim shot.
const RhythmSources = 6

// State is the performance state of one track while it is replayed.
// A fresh State must be used for every track and every rendering.
type State struct {
	Time         float64 // In quarter-note beats.
	Articulation float64 // Fraction of a note's length that sounds.
	Octave       int
	Transpose    int
	Velocity     int

	RhythmVelocities [RhythmSources]int
	RhythmSamples    int // Bit mask of the rhythm sources that sound.

	NoiseMix int  // SSG mix: 1 tone, 2 noise, 3 both, 0 silent.
	PanOn    bool // False once the pan has been set to 0.
	Tie      bool // The next note extends the previous one.

	// Loop stacks, one entry per open loop.
	loopRemaining []int
	loopReturn    []int
	loopSkip      []int
	loopOctave    []int
}

// NewState returns the state a track starts with.
func NewState() State {
	st := State{
		Articulation:  1,
		Velocity:      127,
		RhythmSamples: 1<<RhythmSources - 1,
		NoiseMix:      1,
		PanOn:         true,
	}
	for i := range st.RhythmVelocities {
		st.RhythmVelocities[i] = 127
	}
	return st
}

// silenced reports whether nothing can be heard: the SSG mix is off or the
// pan was set to 0.
func (st *State) silenced() bool {
	return st.NoiseMix == 0 || !st.PanOn
}

// macroState is the state a macro body starts with. Loop stacks, octave and
// rhythm sample selection start fresh.
func (st *State) macroState() State {
	inner := NewState()
	inner.Time = st.Time
	inner.Articulation = st.Articulation
	inner.Transpose = st.Transpose
	inner.Velocity = st.Velocity
	inner.RhythmVelocities = st.RhythmVelocities
	inner.NoiseMix = st.NoiseMix
	inner.PanOn = st.PanOn
	inner.Tie = st.Tie
	return inner
}

func (st *State) pushLoop(count, returnIndex int) {
	// A count of 0 or 1 plays the body once.
	remaining := count - 1
	if remaining < 0 {
		remaining = 0
	}
	st.loopRemaining = append(st.loopRemaining, remaining)
	st.loopReturn = append(st.loopReturn, returnIndex)
	st.loopSkip = append(st.loopSkip, -1)
	st.loopOctave = append(st.loopOctave, st.Octave)
}

func (st *State) popLoop() {
	n := len(st.loopRemaining) - 1
	st.loopRemaining = st.loopRemaining[:n]
	st.loopReturn = st.loopReturn[:n]
	st.loopSkip = st.loopSkip[:n]
	st.loopOctave = st.loopOctave[:n]
}

// Depth returns the number of open loops.
func (st *State) Depth() int {
	return len(st.loopRemaining)
}

// Rescale maps v from the range 0..srcMax onto 0..dstMax, rounding down.
func Rescale(v, srcMax, dstMax int) int {
	if srcMax == 0 {
		return 0
	}
	n := v * dstMax
	q := n / srcMax
	// Floor, not truncation, for negative inputs.
	if n%srcMax != 0 && (n < 0) != (srcMax < 0) {
		q--
	}
	return q
}
