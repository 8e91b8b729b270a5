// Package mdttools decodes batches of MDRV2 MDT files and writes them out as
// MD2 text, MIDI files and OPM voice banks.
package mdttools

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/QEStudios/MDTDecompiler/midiout"
	"github.com/QEStudios/MDTDecompiler/mml"
	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	"github.com/QEStudios/MDTDecompiler/voices"
	"github.com/kennygrant/sanitize"
	"github.com/pkg/errors"
)

// Extensions of the files read and written.
const (
	ExtMDT  = ".MDT"
	ExtMD2  = ".MD2"
	ExtMIDI = ".MID"
	ExtOPM  = ".opm"
)

// A file that was left out of a batch, and why.
type Skipped struct {
	Path string
	Err  error
}

func (s Skipped) String() string {
	return fmt.Sprintf("%s: %v", s.Path, s.Err)
}

// Inputs returns path if it is a file, or the MDT files directly inside it
// if it is a directory, sorted by name.
func Inputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ExtMDT) {
			continue
		}
		out = append(out, filepath.Join(path, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ParseFile decodes one MDT file. The song is named after the file's base name.
func ParseFile(path string, opts mdt.Options, logger *log.Logger) (*mdt.Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	return mdt.NewDecoder(f, filepath.Base(path), logger).Decode(opts)
}

// ParseFiles decodes every file it can. Files that fail are logged and
// returned as skipped.
func ParseFiles(paths []string, opts mdt.Options, logger *log.Logger) ([]*mdt.Song, []Skipped) {
	if logger == nil {
		logger = log.Default()
	}
	var songs []*mdt.Song
	var skipped []Skipped
	for _, p := range paths {
		song, err := ParseFile(p, opts, logger)
		if err != nil {
			logger.Printf("skipping %s: %v", filepath.Base(p), err)
			skipped = append(skipped, Skipped{p, err})
			continue
		}
		songs = append(songs, song)
	}
	return songs, skipped
}

// OutputName swaps the extension of an MDT file name for ext and makes the
// rest safe to use as a file name.
func OutputName(filename, ext string) string {
	base := filepath.Base(filename)
	if e := filepath.Ext(base); strings.EqualFold(e, ExtMDT) {
		base = strings.TrimSuffix(base, e)
	}
	return sanitize.BaseName(base) + ext
}

// Export selects what ConvertFiles writes.
type Export struct {
	Dir  string // Output directory.
	MD2  bool
	MIDI bool

	MIDIConfig midiout.Config
}

// ConvertFiles writes the selected outputs of every song into ex.Dir and
// returns the paths written. A song that cannot be rendered is logged and
// skipped; the rest are still written.
func ConvertFiles(songs []*mdt.Song, ex Export, logger *log.Logger) ([]string, []Skipped) {
	if logger == nil {
		logger = log.Default()
	}
	var written []string
	var skipped []Skipped
	skip := func(song *mdt.Song, err error) {
		logger.Printf("skipping %s: %v", song.Filename, err)
		skipped = append(skipped, Skipped{song.Filename, err})
	}

	for _, song := range songs {
		if ex.MD2 {
			path := filepath.Join(ex.Dir, OutputName(song.Filename, ExtMD2))
			if err := writeFile(path, func(f *os.File) error { return mml.Write(f, song) }); err != nil {
				skip(song, err)
			} else {
				written = append(written, path)
			}
		}
		if ex.MIDI {
			tl, err := midiout.Convert(song, ex.MIDIConfig, logger)
			if err != nil {
				skip(song, err)
				continue
			}
			path := filepath.Join(ex.Dir, OutputName(song.Filename, ExtMIDI))
			if err := writeFile(path, func(f *os.File) error { return tl.WriteSMF(f) }); err != nil {
				skip(song, err)
				continue
			}
			written = append(written, path)
		}
	}
	return written, skipped
}

// WriteVoices merges the FM voices of songs and writes the used and unused
// voices as OPM banks named prefix+"_used.opm" and prefix+"_unused.opm" in
// dir. Empty banks are not written. The merge result is returned so its map
// can be used for MIDI programs.
func WriteVoices(songs []*mdt.Song, dir, prefix string, labels map[string]string) (voices.Result, []string, error) {
	res := voices.Dedup(songs, labels)
	var written []string
	banks := []struct {
		name   string
		list   []*voices.Voice
		unused bool
	}{
		{prefix + "_used" + ExtOPM, res.Used, false},
		{prefix + "_unused" + ExtOPM, res.Unused, true},
	}
	for _, b := range banks {
		if len(b.list) == 0 {
			continue
		}
		path := filepath.Join(dir, b.name)
		err := writeFile(path, func(f *os.File) error {
			return voices.WriteOPM(f, b.list, res.Labels, b.unused)
		})
		if err != nil {
			return res, written, err
		}
		written = append(written, path)
	}
	return res, written, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}
