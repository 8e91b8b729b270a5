package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	mdttools "github.com/QEStudios/MDTDecompiler"
	"github.com/QEStudios/MDTDecompiler/midiout"
	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	"github.com/QEStudios/MDTDecompiler/portamento"
	"github.com/QEStudios/MDTDecompiler/voices"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/sqweek/dialog"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime)

	// Get the current working directory.
	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatalf("failed to get current working directory: %v", err)
	}

	var (
		cutTime   bool
		writeMD2  bool
		writeOPM  bool
		writeMIDI bool
		useOPMMap bool
		dump      bool
		outDir    string
		opmName   string
		portaRate int
		portaFM   string
		portaSSG  string
		ssgMap    string
		labelFile string
	)
	pflag.BoolVar(&cutTime, "cut-time", false, "double note lengths (song was compiled in cut time)")
	pflag.BoolVar(&writeMD2, "md2", false, "write MD2 text for each song")
	pflag.BoolVar(&writeOPM, "opm", false, "write the FM voices of all songs as OPM banks")
	pflag.BoolVar(&writeMIDI, "midi", false, "write a MIDI file for each song")
	pflag.BoolVar(&useOPMMap, "use-opm-map", false, "use the OPM bank numbers as MIDI programs for FM voices")
	pflag.BoolVar(&dump, "dump", false, "print the decoded songs")
	pflag.StringVarP(&outDir, "out", "o", "", "output directory (default: next to the input)")
	pflag.StringVar(&opmName, "opm-name", "instruments", "file name prefix of the OPM banks")
	pflag.IntVar(&portaRate, "porta-rate", midiout.DefaultConfig().PortamentoRate, "MIDI portamento time controller value (0-127)")
	pflag.StringVar(&portaFM, "porta-fm", "", "JSON portamento table for FM channels")
	pflag.StringVar(&portaSSG, "porta-ssg", "", "JSON portamento table for SSG channels")
	pflag.StringVar(&ssgMap, "ssg-map", "", "JSON map of file name to SSG voice number to MIDI program")
	pflag.StringVar(&labelFile, "labels", "", "JSON map of file name to the label used in OPM voice names")
	pflag.Parse()

	if !writeMD2 && !writeOPM && !writeMIDI && !dump {
		writeMD2 = true
	}

	// Get the path of the MDT file or folder.
	path, err := choosePath(cwd, pflag.Args())
	if err != nil {
		if errors.Is(err, dialog.ErrCancelled) {
			logger.Printf("User cancelled the file dialog")
			os.Exit(1)
		}
		logger.Fatalf("failed to determine file path: %v", err)
	}

	if outDir == "" {
		outDir = path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			outDir = filepath.Dir(path)
		}
	} else if outDir, err = homedir.Expand(outDir); err != nil {
		logger.Fatalf("bad output directory: %v", err)
	}

	opts := mdt.DefaultOptions()
	opts.CutTime = cutTime
	if portaFM != "" {
		if opts.FMPortamento, err = loadTable(portaFM); err != nil {
			logger.Fatalf("FM portamento table: %v", err)
		}
	}
	if portaSSG != "" {
		if opts.SSGPortamento, err = loadTable(portaSSG); err != nil {
			logger.Fatalf("SSG portamento table: %v", err)
		}
	}

	inputs, err := mdttools.Inputs(path)
	if err != nil {
		logger.Fatalf("reading input: %v", err)
	}
	logger.Printf("Parsing %d file(s)", len(inputs))
	songs, skipped := mdttools.ParseFiles(inputs, opts, logger)

	if dump {
		spew.Dump(songs)
	}

	labels := voices.TrackLabels
	if labelFile != "" {
		extra, err := loadLabels(labelFile)
		if err != nil {
			logger.Fatalf("labels: %v", err)
		}
		labels = voices.Labels(extra)
	}

	var written []string
	var fmMap voices.Map
	if writeOPM {
		res, files, err := mdttools.WriteVoices(songs, outDir, opmName, labels)
		if err != nil {
			logger.Fatalf("writing OPM banks: %v", err)
		}
		written = append(written, files...)
		if useOPMMap {
			fmMap = res.Map
		}
	} else if useOPMMap {
		fmMap = voices.Dedup(songs, labels).Map
	}

	cfg := midiout.DefaultConfig()
	cfg.CutTime = cutTime
	cfg.PortamentoRate = portaRate
	cfg.FMMap = fmMap
	if ssgMap != "" {
		if cfg.SSGMap, err = loadMap(ssgMap); err != nil {
			logger.Fatalf("SSG map: %v", err)
		}
	}

	files, failed := mdttools.ConvertFiles(songs, mdttools.Export{
		Dir:        outDir,
		MD2:        writeMD2,
		MIDI:       writeMIDI,
		MIDIConfig: cfg,
	}, logger)
	written = append(written, files...)
	skipped = append(skipped, failed...)

	summarize(len(songs), written, skipped)
	if len(songs) == 0 {
		os.Exit(1)
	}
}

func summarize(parsed int, written []string, skipped []mdttools.Skipped) {
	color.Green("Parsed %d song(s), wrote %d file(s)", parsed, len(written))
	for _, w := range written {
		fmt.Println("  " + w)
	}
	if len(skipped) > 0 {
		color.Yellow("Skipped %d:", len(skipped))
		for _, s := range skipped {
			color.Red("  %v", s)
		}
	}
}

func loadTable(path string) (portamento.Table, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return portamento.LoadTable(f)
}

func loadMap(path string) (voices.Map, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m voices.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func loadLabels(path string) (map[string]string, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels map[string]string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

// choosePath returns the input path either from the command-line args
// or from an interactive file dialog.
func choosePath(cwd string, args []string) (string, error) {
	// If an argument was passed to the program, use it.
	if len(args) > 0 {
		path, err := homedir.Expand(args[0])
		if err != nil {
			return "", fmt.Errorf("cannot expand path: %w", err)
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("cannot get absolute path: %w", err)
		}
		if err := validatePath(absPath); err != nil {
			return "", fmt.Errorf("passed argument is not a valid path: %w", err)
		}
		return absPath, nil
	}

	// Otherwise open the file dialog.
	path, err := dialog.
		File().
		Title("Open MDRV2 song").
		Filter("MDRV2 songs (*.MDT)", "MDT", "mdt").
		SetStartDir(cwd).
		Load()
	if err != nil {
		// Propagate the error. Caller will check for dialog.ErrCancelled.
		return "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot get absolute path: %w", err)
	}

	// Check for empty path just in case.
	if absPath == "" {
		return "", dialog.ErrCancelled
	}
	if err := validatePath(absPath); err != nil {
		return "", fmt.Errorf("dialog selection invalid: %w", err)
	}
	return absPath, nil
}

// validatePath accepts a directory or an existing .MDT file.
func validatePath(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("cannot stat file: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	if !strings.EqualFold(filepath.Ext(p), mdttools.ExtMDT) {
		return fmt.Errorf("file must have .MDT extension")
	}
	return nil
}
