package midiout

import (
	"errors"
	"fmt"
	"log"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	"github.com/QEStudios/MDTDecompiler/playback"
	"github.com/QEStudios/MDTDecompiler/voices"
)

var (
	ErrNoChannels      = errors.New("midiout: song has no channels")
	ErrWrongChip       = errors.New("midiout: song is not for OPN")
	ErrPortamentoRate  = errors.New("midiout: portamento rate must be 0-127")
	ErrTooManyChannels = errors.New("midiout: more melodic channels than MIDI channels")
)

// Mono mode is switched on with this channel count at the start of every
// melodic channel.
const monoChannels = 10

type Config struct {
	// CutTime doubles note lengths inside macros.
	CutTime bool

	// Program maps for FM and SSG voices, keyed by song file name.
	// A non-nil SSGMap is looked up with the noise mix offset (mix-1)*128.
	FMMap  voices.Map
	SSGMap voices.Map

	// Controller 5 value sent with every portamento.
	PortamentoRate int

	// Macro nesting cap. Zero means playback.DefaultMaxDepth.
	MaxDepth int
}

func DefaultConfig() Config {
	return Config{
		PortamentoRate: playback.DefaultPortamento,
		MaxDepth:       playback.DefaultMaxDepth,
	}
}

// renderer writes the output of one channel's engine into a Timeline.
type renderer struct {
	tl      *Timeline
	channel int

	// Notes of the most recent note or hit, for ties.
	last    []int
	hasLast bool
}

func (r *renderer) Token(mdt.Event) {}

func (r *renderer) Note(n playback.Note) {
	r.last = append(r.last[:0], r.tl.AddNote(r.channel, n.Pitch, n.Time, n.Duration, n.Velocity))
	r.hasLast = true
}

func (r *renderer) Percussion(p playback.Percussion) {
	r.last = r.last[:0]
	for i, key := range playback.RhythmKeys {
		if p.Samples&(1<<i) != 0 {
			r.last = append(r.last, r.tl.AddNote(PercussionChannel, key, p.Time, p.Duration, p.Velocities[i]))
		}
	}
	r.hasLast = true
}

func (r *renderer) Extend(d float64) bool {
	if !r.hasLast {
		return false
	}
	for _, i := range r.last {
		r.tl.Notes[i].Duration += d
	}
	return true
}

func (r *renderer) Controller(time float64, number, value int) {
	r.tl.AddController(r.channel, time, number, value)
}

func (r *renderer) Program(time float64, number int) {
	r.tl.AddProgramChange(r.channel, time, number)
}

func (r *renderer) Tempo(time float64, bpm int) {
	r.tl.AddTempo(time, bpm)
}

// Convert replays every channel of song into a new Timeline. Rhythm goes to
// the percussion channel; FM and SSG channels get their own MIDI channel in
// order, skipping the percussion channel. ADPCM channels are skipped.
func Convert(song *mdt.Song, cfg Config, logger *log.Logger) (*Timeline, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(song.Channels) == 0 {
		return nil, fmt.Errorf("%s: %w", song.Filename, ErrNoChannels)
	}
	if song.Chip != mdt.ChipOPN {
		return nil, fmt.Errorf("%s: %s: %w", song.Filename, song.Chip, ErrWrongChip)
	}
	if cfg.PortamentoRate < 0 || cfg.PortamentoRate > 127 {
		return nil, fmt.Errorf("%d: %w", cfg.PortamentoRate, ErrPortamentoRate)
	}

	tl := &Timeline{Title: song.Title}
	var melodic []int
	next := 0
	end := 0.0

	for _, ch := range song.Channels {
		opts := playback.Options{
			CutTime:        cfg.CutTime,
			MaxDepth:       cfg.MaxDepth,
			PortamentoRate: cfg.PortamentoRate,
		}
		r := &renderer{tl: tl}

		switch ch.Role {
		case mdt.RoleADPCM:
			logger.Printf("%s: skipping ADPCM channel 0x%02X", song.Filename, ch.ID)
			continue
		case mdt.RoleRhythm:
			r.channel = PercussionChannel
		case mdt.RoleFM, mdt.RoleSSG:
			if next > 15 {
				return nil, fmt.Errorf("%s: channel 0x%02X: %w", song.Filename, ch.ID, ErrTooManyChannels)
			}
			r.channel = next
			melodic = append(melodic, next)
			next++
			if next == PercussionChannel {
				next++
			}
			if ch.Role == mdt.RoleFM {
				opts.Programs = cfg.FMMap.Lookup(song.Filename)
			} else {
				opts.Programs = cfg.SSGMap.Lookup(song.Filename)
				opts.SSGMixOffset = cfg.SSGMap != nil
			}
			tl.AddController(r.channel, 0, playback.CCMonoOn, monoChannels)
		}

		engine := playback.NewEngine(song.Macros, r, opts)
		t, _, err := engine.Run(ch, playback.NewState())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", song.Filename, err)
		}
		if ch.Role != mdt.RoleRhythm {
			end = max(end, t)
		}
	}

	for _, c := range melodic {
		tl.AddController(c, end, playback.CCPolyOn, 0)
	}
	return tl, nil
}
