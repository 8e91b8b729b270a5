package playback

import "github.com/QEStudios/MDTDecompiler/parser/mdt"

type controllerEvent struct {
	Time          float64
	Number, Value int
}

type programEvent struct {
	Time   float64
	Number int
}

// recorder keeps everything an Engine sends it.
type recorder struct {
	tokens      []string
	notes       []Note
	hits        []Percussion
	controllers []controllerEvent
	programs    []programEvent
	tempos      []int
}

func (r *recorder) Token(ev mdt.Event) { r.tokens = append(r.tokens, ev.String()) }
func (r *recorder) Note(n Note) { r.notes = append(r.notes, n) }
func (r *recorder) Percussion(p Percussion) { r.hits = append(r.hits, p) }

func (r *recorder) Extend(d float64) bool {
	if len(r.notes) == 0 {
		return false
	}
	r.notes[len(r.notes)-1].Duration += d
	return true
}

func (r *recorder) Controller(time float64, number, value int) {
	r.controllers = append(r.controllers, controllerEvent{time, number, value})
}

func (r *recorder) Program(time float64, number int) {
	r.programs = append(r.programs, programEvent{time, number})
}

func (r *recorder) Tempo(time float64, bpm int) { r.tempos = append(r.tempos, bpm) }

func (r *recorder) pitches() []int {
	out := make([]int, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Pitch
	}
	return out
}

func fmTrack(events ...mdt.Event) *mdt.Channel {
	return &mdt.Channel{ID: 0x80, Role: mdt.RoleFM, Events: events, LoopOffset: -1, LoopIndex: -1}
}

func macro(id int, role mdt.Role, events ...mdt.Event) *mdt.Channel {
	return &mdt.Channel{ID: 0x80, Role: role, Events: events, Macro: true, MacroID: id, LoopOffset: -1, LoopIndex: -1}
}

func note(semitone int, clocks int) mdt.Event {
	return mdt.Event{Op: mdt.OpNote, Note: mdt.NoteToken{Semitone: semitone, Length: mdt.Length(clocks)}}
}

func shifted(semitone, shift, clocks int) mdt.Event {
	ev := note(semitone, clocks)
	ev.Note.Shift = shift
	return ev
}

func op(o mdt.Op, args ...int) mdt.Event {
	return mdt.Event{Op: o, Args: args}
}

func rest(clocks int) mdt.Event {
	return mdt.Event{Op: mdt.OpRest, Note: mdt.NoteToken{Length: mdt.Length(clocks)}}
}
