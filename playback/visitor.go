package playback

import "github.com/QEStudios/MDTDecompiler/parser/mdt"

// A pitched note. Times are in quarter-note beats.
type Note struct {
	Pitch    int
	Time     float64
	Duration float64
	Velocity int
}

// A rhythm hit sounding every source selected in Samples.
type Percussion struct {
	Time       float64
	Duration   float64
	Samples    int
	Velocities [RhythmSources]int
}

// Visitor receives the output of an Engine. In linear mode only Token is
// called; in replay mode every method except Token may be.
type Visitor interface {
	// Token receives each event of the track, in order, once.
	Token(ev mdt.Event)

	Note(n Note)
	Percussion(p Percussion)
	// Extend lengthens the most recent note or hit by d beats. It returns
	// false when there is nothing to extend.
	Extend(d float64) bool

	Controller(time float64, number, value int)
	Program(time float64, number int)
	Tempo(time float64, bpm int)
}

// NopVisitor ignores everything. Embed it to implement only part of Visitor.
type NopVisitor struct{}

func (NopVisitor) Token(mdt.Event) {}
func (NopVisitor) Note(Note) {}
func (NopVisitor) Percussion(Percussion) {}
func (NopVisitor) Extend(float64) bool { return false }
func (NopVisitor) Controller(float64, int, int) {}
func (NopVisitor) Program(float64, int) {}
func (NopVisitor) Tempo(float64, int) {}
