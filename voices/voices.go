// Package voices merges identical FM voices across songs and renumbers them.
package voices

import (
	"sort"
	"strings"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	clone "github.com/huandu/go-clone/generic"
)

// TrackLabels maps the file names of the Touhou 1 soundtrack to their track
// numbers. Files not listed are labelled with their own name.
var TrackLabels = map[string]string{
	"INIT.MDT":     "INIT",
	"REIMU.MDT":    "01",
	"ST0.MDT":      "02",
	"ST6.MDT":      "02",
	"POSITIVE.MDT": "03",
	"ST1.MDT":      "04",
	"ST2.MDT":      "05",
	"LEGEND.MDT":   "06",
	"ST3.MDT":      "07",
	"ST4.MDT":      "08",
	"KAMI.MDT":     "09",
	"KAMI2.MDT":    "09",
	"ST5.MDT":      "10",
	"TENSI.MDT":    "11",
	"SHUGEN.MDT":   "12",
	"SYUGEN.MDT":   "12",
	"ALICE.MDT":    "13",
	"IRIS.MDT":     "14",
	"ZIPANGU.MDT":  "15",
	"ST7.MDT":      "15",
}

// Labels returns TrackLabels with extra merged over it. TrackLabels itself is
// left untouched.
func Labels(extra map[string]string) map[string]string {
	labels := clone.Clone(TrackLabels)
	for file, label := range extra {
		labels[file] = label
	}
	return labels
}

// Map maps a file name and a voice number in that file to a new voice number.
type Map map[string]map[int]int

// Lookup returns the programs for one file, or nil.
func (m Map) Lookup(filename string) map[int]int {
	if m == nil {
		return nil
	}
	return m[filename]
}

// A Voice is an FM voice together with every file and number it was found under.
type Voice struct {
	mdt.FMVoice

	Duplicate bool
	// Names maps each file the voice appears in to its voice numbers there,
	// in the order they were found.
	Names  map[string][]int
	Number int // Assigned by Dedup, dense within the used or unused list.
}

func (v *Voice) addNames(file string, numbers []int) {
	existing := v.Names[file]
	for _, n := range numbers {
		found := false
		for _, e := range existing {
			if e == n {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, n)
		}
	}
	v.Names[file] = existing
}

// Label returns the sorted, comma separated labels of the files the voice
// appears in. labels maps file names to labels; unknown files use their name.
func (v *Voice) Label(labels map[string]string) string {
	parts := make([]string, 0, len(v.Names))
	for file := range v.Names {
		if l, ok := labels[file]; ok {
			parts = append(parts, l)
		} else {
			parts = append(parts, file)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Result holds the surviving voices of a Dedup run.
type Result struct {
	Used   []*Voice
	Unused []*Voice
	// Map sends every (file, number) pair of a used voice to its new number.
	Map    Map
	Labels map[string]string
}

// Dedup merges structurally identical FM voices of all songs, splits the
// survivors into used and unused, sorts each list by label and numbers it
// from 0. A nil labels map means TrackLabels. The songs are not modified.
func Dedup(songs []*mdt.Song, labels map[string]string) Result {
	if labels == nil {
		labels = TrackLabels
	}

	var all []*Voice
	for _, song := range songs {
		for n, v := range song.FM {
			all = append(all, &Voice{
				FMVoice: v,
				Names:   map[string][]int{song.Filename: {n}},
			})
		}
	}

	// Compare each voice with the earlier survivors, newest first. Skipping
	// voices already marked duplicate keeps merges from chaining.
	for i, v := range all {
		for j := i - 1; j >= 0; j-- {
			w := all[j]
			if w.Duplicate {
				continue
			}
			if v.Equal(w.FMVoice) {
				v.Duplicate = true
				w.Used = w.Used || v.Used
				for file, numbers := range v.Names {
					w.addNames(file, numbers)
				}
				break
			}
		}
	}

	res := Result{Map: make(Map), Labels: labels}
	for _, v := range all {
		if v.Duplicate {
			continue
		}
		if v.Used {
			res.Used = append(res.Used, v)
		} else {
			res.Unused = append(res.Unused, v)
		}
	}

	for _, list := range [][]*Voice{res.Used, res.Unused} {
		sort.SliceStable(list, func(a, b int) bool {
			return list[a].Label(labels) < list[b].Label(labels)
		})
		for i, v := range list {
			v.Number = i
		}
	}

	for _, v := range res.Used {
		for file, numbers := range v.Names {
			if res.Map[file] == nil {
				res.Map[file] = make(map[int]int)
			}
			for _, n := range numbers {
				res.Map[file][n] = v.Number
			}
		}
	}
	return res
}
