// Package midiout renders decoded songs as Standard MIDI Files.
package midiout

import (
	"io"
	"math"
	"sort"

	"github.com/gojp/kana"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TicksPerQuarter is the resolution of written files.
const TicksPerQuarter = 960

// PercussionChannel is the General MIDI drum channel (10, counting from 1).
const PercussionChannel = 9

// Times and durations below are in quarter-note beats.

type Note struct {
	Channel  int
	Pitch    int
	Time     float64
	Duration float64
	Velocity int
}

type Control struct {
	Channel    int
	Time       float64
	Controller int
	Value      int
}

type Program struct {
	Channel int
	Time    float64
	Program int
}

type Tempo struct {
	Time float64
	BPM  int
}

// A Timeline collects the MIDI events of a song before it is written.
type Timeline struct {
	Title    string
	Notes    []Note
	Controls []Control
	Programs []Program
	Tempos   []Tempo
}

// AddNote appends a note and returns its index in Notes.
func (t *Timeline) AddNote(channel, pitch int, time, duration float64, velocity int) int {
	t.Notes = append(t.Notes, Note{channel, pitch, time, duration, velocity})
	return len(t.Notes) - 1
}

func (t *Timeline) AddController(channel int, time float64, controller, value int) {
	t.Controls = append(t.Controls, Control{channel, time, controller, value})
}

func (t *Timeline) AddProgramChange(channel int, time float64, program int) {
	t.Programs = append(t.Programs, Program{channel, time, program})
}

func (t *Timeline) AddTempo(time float64, bpm int) {
	t.Tempos = append(t.Tempos, Tempo{time, bpm})
}

// End returns the time the last note stops sounding.
func (t *Timeline) End() float64 {
	end := 0.0
	for _, n := range t.Notes {
		end = math.Max(end, n.Time+n.Duration)
	}
	return end
}

// Events sharing a tick are written in this order.
const (
	rankNoteOff = iota
	rankTempo
	rankProgram
	rankControl
	rankNoteOn
)

type timedMessage struct {
	tick uint32
	rank int
	msg  []byte
}

func ticks(beats float64) uint32 {
	if beats <= 0 {
		return 0
	}
	return uint32(math.Round(beats * TicksPerQuarter))
}

func data(v int) uint8 {
	return uint8(min(max(v, 0), 127))
}

func channel(v int) uint8 {
	return uint8(min(max(v, 0), 15))
}

func (t *Timeline) messages() []timedMessage {
	var out []timedMessage
	for _, tp := range t.Tempos {
		out = append(out, timedMessage{ticks(tp.Time), rankTempo, smf.MetaTempo(float64(tp.BPM))})
	}
	for _, p := range t.Programs {
		out = append(out, timedMessage{ticks(p.Time), rankProgram,
			midi.ProgramChange(channel(p.Channel), data(p.Program))})
	}
	for _, c := range t.Controls {
		out = append(out, timedMessage{ticks(c.Time), rankControl,
			midi.ControlChange(channel(c.Channel), data(c.Controller), data(c.Value))})
	}
	for _, n := range t.Notes {
		on := ticks(n.Time)
		// A note always lasts at least one tick, so its off never sorts
		// ahead of its own on.
		off := max(ticks(n.Time+n.Duration), on+1)
		ch, key := channel(n.Channel), data(n.Pitch)
		out = append(out,
			timedMessage{on, rankNoteOn, midi.NoteOn(ch, key, data(n.Velocity))},
			timedMessage{off, rankNoteOff, midi.NoteOff(ch, key)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].tick != out[j].tick {
			return out[i].tick < out[j].tick
		}
		return out[i].rank < out[j].rank
	})
	return out
}

// WriteSMF writes the timeline as a single-track SMF with the romanized title
// as the track name.
func (t *Timeline) WriteSMF(w io.Writer) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var tr smf.Track
	if t.Title != "" {
		tr.Add(0, smf.MetaTrackSequenceName(kana.KanaToRomaji(t.Title)))
	}
	var last uint32
	for _, m := range t.messages() {
		tr.Add(m.tick-last, m.msg)
		last = m.tick
	}
	tr.Close(0)

	if err := s.Add(tr); err != nil {
		return errors.Wrap(err, "adding MIDI track")
	}
	if _, err := s.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing MIDI file")
	}
	return nil
}
