package playback

import (
	"errors"
	"io"
	"log"
	"math"
	"slices"
	"testing"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
)

func replay(t *testing.T, track *mdt.Channel, macros []*mdt.Channel, opts Options) *recorder {
	t.Helper()
	rec := &recorder{}
	if _, _, err := NewEngine(macros, rec, opts).Run(track, NewState()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rec
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLoopRepeatsCountTimes(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		op(mdt.OpLoopStart, 3),
		note(0, 48),
		op(mdt.OpLoopEnd),
	)
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 3 {
		t.Fatalf("got %d notes, want 3", len(rec.notes))
	}
	for i, n := range rec.notes {
		if n.Pitch != 60 || !near(n.Time, float64(i)) || !near(n.Duration, 1) {
			t.Errorf("note %d = %+v, want pitch 60 at %d for 1 beat", i, n, i)
		}
	}
}

func TestLoopSkipsOnLastPass(t *testing.T) {
	for _, ops := range [][3]mdt.Op{
		{mdt.OpLoopStart, mdt.OpLoopSkip, mdt.OpLoopEnd},
		{mdt.OpBlockStart, mdt.OpBlockSkip, mdt.OpBlockEnd},
	} {
		track := fmTrack(
			op(mdt.OpOctave, 4),
			op(ops[0], 2),
			note(0, 48),
			op(ops[1]),
			note(2, 48),
			op(ops[2]),
			note(4, 48),
		)
		rec := replay(t, track, nil, DefaultOptions())
		if want := []int{60, 62, 60, 64}; !slices.Equal(rec.pitches(), want) {
			t.Errorf("%v loop: pitches %v, want %v", ops[0], rec.pitches(), want)
		}
	}
}

func TestLoopRestoresOctave(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		op(mdt.OpLoopStart, 2),
		note(0, 48),
		shifted(2, 1, 48),
		op(mdt.OpLoopEnd),
	)
	rec := replay(t, track, nil, DefaultOptions())
	if want := []int{60, 74, 60, 74}; !slices.Equal(rec.pitches(), want) {
		t.Errorf("pitches %v, want %v", rec.pitches(), want)
	}
}

func TestNestedRepeat(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		op(mdt.OpRepeatStart, 2),
		op(mdt.OpRepeatStart, 3),
		note(0, 12),
		op(mdt.OpRepeatEnd),
		note(2, 12),
		op(mdt.OpRepeatEnd),
	)
	rec := replay(t, track, nil, DefaultOptions())
	if want := []int{60, 60, 60, 62, 60, 60, 60, 62}; !slices.Equal(rec.pitches(), want) {
		t.Errorf("pitches %v, want %v", rec.pitches(), want)
	}
}

func TestMacroInheritsAndReturns(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		op(mdt.OpFineVolume, 100),
		op(mdt.OpArticulation, 4),
		op(mdt.OpMacro, 0),
		note(0, 48),
	)
	macros := []*mdt.Channel{macro(0, mdt.RoleFM,
		op(mdt.OpOctave, 3),
		note(2, 48),
		op(mdt.OpArticulation, 8),
		op(mdt.OpFineVolume, 50),
	)}
	rec := replay(t, track, macros, DefaultOptions())
	want := []Note{
		{Pitch: 50, Time: 0, Duration: 0.5, Velocity: 100},
		{Pitch: 60, Time: 1, Duration: 0.5, Velocity: 50},
	}
	if len(rec.notes) != len(want) {
		t.Fatalf("got %d notes, want %d", len(rec.notes), len(want))
	}
	for i := range want {
		got := rec.notes[i]
		if got.Pitch != want[i].Pitch || !near(got.Time, want[i].Time) ||
			!near(got.Duration, want[i].Duration) || got.Velocity != want[i].Velocity {
			t.Errorf("note %d = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestCutTimeDoublesMacroLengths(t *testing.T) {
	track := fmTrack(op(mdt.OpOctave, 4), op(mdt.OpMacro, 0), note(0, 48))
	macros := []*mdt.Channel{macro(0, mdt.RoleFM, note(0, 48))}
	opts := DefaultOptions()
	opts.CutTime = true
	rec := replay(t, track, macros, opts)
	if len(rec.notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(rec.notes))
	}
	if !near(rec.notes[0].Duration, 2) || !near(rec.notes[1].Time, 2) || !near(rec.notes[1].Duration, 1) {
		t.Errorf("notes %+v, want a 2 beat macro note then a 1 beat note at 2", rec.notes)
	}
}

func TestTieExtends(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		note(0, 48),
		op(mdt.OpTie),
		note(0, 48),
		op(mdt.OpTie),
		op(mdt.OpMacro, 0),
	)
	macros := []*mdt.Channel{macro(0, mdt.RoleFM, note(0, 24))}
	rec := replay(t, track, macros, DefaultOptions())
	if len(rec.notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(rec.notes))
	}
	if !near(rec.notes[0].Duration, 2.5) {
		t.Errorf("duration %v, want 2.5", rec.notes[0].Duration)
	}
}

func TestTieWithoutNoteStartsOne(t *testing.T) {
	track := fmTrack(op(mdt.OpOctave, 4), op(mdt.OpTie), note(0, 48))
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 1 {
		t.Errorf("got %d notes, want 1", len(rec.notes))
	}
}

func TestPanZeroSilences(t *testing.T) {
	track := fmTrack(
		op(mdt.OpOctave, 4),
		op(mdt.OpPan, 0),
		note(0, 48),
		op(mdt.OpPan, 3),
		note(0, 48),
	)
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 1 || !near(rec.notes[0].Time, 1) {
		t.Errorf("notes %+v, want one note at beat 1", rec.notes)
	}
	wantPan := []controllerEvent{{0, CCPan, 64}, {1, CCPan, 64}}
	if !slices.Equal(rec.controllers, wantPan) {
		t.Errorf("controllers %v, want %v", rec.controllers, wantPan)
	}
}

func TestRhythm(t *testing.T) {
	track := &mdt.Channel{ID: 0x10, Role: mdt.RoleRhythm, Events: []mdt.Event{
		op(mdt.OpInstrument, 5),
		op(mdt.OpFineVolume, 2, 31),
		op(mdt.OpVolume, 63, 31, 0, 15, 31, 31, 31),
		op(mdt.OpFineVolume, 0, 0),
		note(0, 48),
		op(mdt.OpPan, 0, 0),
		note(0, 48),
	}}
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 0 || len(rec.hits) != 2 {
		t.Fatalf("got %d notes and %d hits, want 0 and 2", len(rec.notes), len(rec.hits))
	}
	first := rec.hits[0]
	if first.Samples != 5 {
		t.Errorf("samples %d, want 5", first.Samples)
	}
	wantVel := [RhythmSources]int{0, 0, 61, 127, 127, 127}
	if first.Velocities != wantVel {
		t.Errorf("velocities %v, want %v", first.Velocities, wantVel)
	}
	if rec.hits[1].Samples != 4 {
		t.Errorf("samples after pan 0 = %d, want 4", rec.hits[1].Samples)
	}
}

func TestSSGProgramAndVolume(t *testing.T) {
	track := &mdt.Channel{ID: 0x40, Role: mdt.RoleSSG, Events: []mdt.Event{
		op(mdt.OpNoiseMix, 2),
		op(mdt.OpInstrument, 2),
		op(mdt.OpVolume, 15),
		op(mdt.OpVolumeDown, 1),
		op(mdt.OpOctave, 3),
		note(9, 48),
	}}
	opts := DefaultOptions()
	opts.Programs = map[int]int{130: 7}
	opts.SSGMixOffset = true
	rec := replay(t, track, nil, opts)
	if len(rec.programs) != 1 || rec.programs[0].Number != 7 {
		t.Errorf("programs %v, want [7]", rec.programs)
	}
	if len(rec.notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(rec.notes))
	}
	// SSG plays an octave up; 127 - Rescale(1, 15, 127).
	if n := rec.notes[0]; n.Pitch != 69 || n.Velocity != 119 {
		t.Errorf("note %+v, want pitch 69 velocity 119", n)
	}
}

func TestUnmappedProgramIsZero(t *testing.T) {
	rec := replay(t, fmTrack(op(mdt.OpInstrument, 12)), nil, DefaultOptions())
	if len(rec.programs) != 1 || rec.programs[0].Number != 0 {
		t.Errorf("programs %v, want [0]", rec.programs)
	}
}

func TestPortamento(t *testing.T) {
	track := fmTrack(
		op(mdt.OpArticulation, 2),
		mdt.Event{Op: mdt.OpPortamento, Porta: &mdt.PortaToken{From: 0x40, To: 0x42, Length: 48}},
	)
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(rec.notes))
	}
	held := 1 - portamentoEpsilon
	start, end := rec.notes[0], rec.notes[1]
	if start.Pitch != 60 || !near(start.Time, 0) || !near(start.Duration, held) {
		t.Errorf("start note %+v", start)
	}
	if end.Pitch != 62 || !near(end.Time, portamentoEpsilon) || !near(end.Duration, held) {
		t.Errorf("end note %+v", end)
	}
	want := []controllerEvent{
		{0, CCPortamentoOn, 127},
		{0, CCPortamentoTime, DefaultPortamento},
		{1, CCPortamentoOn, 0},
	}
	if !slices.Equal(rec.controllers, want) {
		t.Errorf("controllers %v, want %v", rec.controllers, want)
	}
}

func TestControllers(t *testing.T) {
	track := fmTrack(
		op(mdt.OpDetune, -3),
		op(mdt.OpHardwareLFO, 7, 1, 7, 3),
		op(mdt.OpNoteOff),
		op(mdt.OpLFODelay, 9),
		op(mdt.OpTempo, 120),
	)
	rec := replay(t, track, nil, DefaultOptions())
	want := []controllerEvent{
		{0, CCDetune, 3},
		{0, CCLFORate, 127},
		{0, CCPitchLFODepth, 127},
		{0, CCAmpLFODepth, 127},
		{0, CCLFODelay, 0},
		{0, CCAllSoundOff, 0},
		{0, CCLFODelay, 4},
	}
	if !slices.Equal(rec.controllers, want) {
		t.Errorf("controllers %v, want %v", rec.controllers, want)
	}
	if !slices.Equal(rec.tempos, []int{120}) {
		t.Errorf("tempos %v, want [120]", rec.tempos)
	}
}

func TestRunErrors(t *testing.T) {
	selfCall := []*mdt.Channel{macro(0, mdt.RoleFM, op(mdt.OpMacro, 0))}
	cases := []struct {
		name   string
		track  *mdt.Channel
		macros []*mdt.Channel
		want   error
	}{
		{"loop end outside loop", fmTrack(op(mdt.OpLoopEnd)), nil, ErrLoopUnderflow},
		{"loop skip outside loop", fmTrack(op(mdt.OpBlockSkip)), nil, ErrLoopUnderflow},
		{"unknown macro", fmTrack(op(mdt.OpMacro, 3)), nil, ErrUnknownMacro},
		{"recursive macro", fmTrack(op(mdt.OpMacro, 0)), selfCall, ErrMacroDepth},
		{"unknown op", fmTrack(mdt.Event{Op: mdt.Op(999)}), nil, ErrUnknownEvent},
	}
	for _, c := range cases {
		opts := DefaultOptions()
		opts.MaxDepth = 4
		_, _, err := NewEngine(c.macros, nil, opts).Run(c.track, NewState())
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
}

func TestLinearModeVisitsEachEventOnce(t *testing.T) {
	track := fmTrack(
		op(mdt.OpLoopStart, 4),
		shifted(1, -1, 24),
		op(mdt.OpLoopEnd),
		op(mdt.OpMacro, 0),
	)
	rec := &recorder{}
	opts := DefaultOptions()
	opts.Linear = true
	if _, _, err := NewEngine(nil, rec, opts).Run(track, NewState()); err != nil {
		t.Fatal(err)
	}
	want := []string{"|:4", "<c+8", ":|", "U0"}
	if !slices.Equal(rec.tokens, want) {
		t.Errorf("tokens %v, want %v", rec.tokens, want)
	}
	if len(rec.notes) != 0 {
		t.Errorf("linear mode produced %d notes", len(rec.notes))
	}
}

func TestADPCMProducesNothing(t *testing.T) {
	track := &mdt.Channel{ID: 0x01, Role: mdt.RoleADPCM, Events: []mdt.Event{note(0, 48)}}
	rec := replay(t, track, nil, DefaultOptions())
	if len(rec.notes) != 0 {
		t.Errorf("got %d notes from an ADPCM track", len(rec.notes))
	}
}

func TestRescale(t *testing.T) {
	cases := []struct{ v, src, dst, want int }{
		{15, 15, 127, 127},
		{7, 15, 127, 59},
		{0, 15, 127, 0},
		{31, 31, 127, 127},
		{3, 7, 127, 54},
		{-1, 15, 127, -9},
		{5, 0, 127, 0},
	}
	for _, c := range cases {
		if got := Rescale(c.v, c.src, c.dst); got != c.want {
			t.Errorf("Rescale(%d, %d, %d) = %d, want %d", c.v, c.src, c.dst, got, c.want)
		}
	}
	for _, src := range []int{3, 7, 15, 31, 63} {
		prev := Rescale(0, src, 127)
		for v := 1; v <= src; v++ {
			cur := Rescale(v, src, 127)
			if cur < prev {
				t.Errorf("Rescale not monotonic for range %d at %d", src, v)
			}
			prev = cur
		}
	}
}

func TestDecodedOctaveShiftsReplay(t *testing.T) {
	// o4c |:2 c : o6c :| o4d
	data := []byte{
		0x02, 0x03,
		0x01, 0x00, // channel count
		0x01, 0x00, // OPN
		0x10, 0x00, 0x80, 0x00, // channel at 0x10, id 0x80
		0x20, 0x00, 0x20, 0x00, 0x1D, 0x00, // FM, SSG and title offsets
		0x40, 48,
		0xE0, 2,
		0x40, 48,
		0xE1,
		0x60, 48,
		0xE2,
		0x42, 48,
		0xFF,
		'A', 'B', '$',
	}
	song, err := mdt.Decode(data, "OCT.MDT", mdt.Options{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	rec := replay(t, song.Channels[0], song.Macros, DefaultOptions())
	if want := []int{60, 60, 84, 60, 62}; !slices.Equal(rec.pitches(), want) {
		t.Errorf("pitches %v, want %v", rec.pitches(), want)
	}
}
