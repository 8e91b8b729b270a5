// Package portamento recovers the end note of an MDRV2 portamento command.
//
// The compiler stores a portamento as a start note, a duration in clocks and
// a per-clock pitch change whose derivation is not known. Tables map each
// start note to the changes observed for known end notes, and Resolve picks
// the closest one. The result may be an adjacent note.
package portamento

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
)

// Table maps a start note byte to a map of pitch change to end note byte.
// Note bytes carry the octave in the high nibble and the semitone in the low nibble.
type Table map[int]map[int]int

// Has reports whether the table has any entry for the start note.
func (t Table) Has(start int) bool {
	return len(t[start]) > 0
}

// Resolve returns the end note for a portamento starting at start that
// lasts duration clocks with the given stored change.
//
// The change is divided by the duration, truncating toward zero. An exact
// key for the quotient wins. Otherwise keys with the same sign as change are
// walked in order of increasing magnitude and the first one larger in
// magnitude than change itself is used, or the last one visited when none is
// larger. A zero
// change, or a start note without usable keys, resolves to start.
func (t Table) Resolve(start, duration, change int) int {
	if change == 0 {
		return start
	}
	if duration == 0 {
		duration = 1
	}
	row := t[start]
	if len(row) == 0 {
		return start
	}
	q := change / duration
	if end, ok := row[q]; ok {
		return end
	}

	keys := make([]int, 0, len(row))
	for k := range row {
		if (change > 0 && k >= 0) || (change < 0 && k <= 0) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return start
	}
	sort.Slice(keys, func(i, j int) bool { return abs(keys[i]) < abs(keys[j]) })

	mag := abs(change)
	for _, k := range keys {
		if abs(k) > mag {
			return row[k]
		}
	}
	return row[keys[len(keys)-1]]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// LoadTable reads a table from JSON of the form {"64": {"0": 64, "51": 65}}.
func LoadTable(r io.Reader) (Table, error) {
	var raw map[string]map[string]int
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding portamento table: %w", err)
	}
	t := make(Table, len(raw))
	for startStr, row := range raw {
		start, err := strconv.Atoi(startStr)
		if err != nil {
			return nil, fmt.Errorf("start note %q is not a number: %w", startStr, err)
		}
		if start < 0 || start > 0xFF {
			return nil, fmt.Errorf("start note %d is out of range", start)
		}
		entries := make(map[int]int, len(row))
		for keyStr, end := range row {
			key, err := strconv.Atoi(keyStr)
			if err != nil {
				return nil, fmt.Errorf("change %q for start note %d is not a number: %w", keyStr, start, err)
			}
			if end < 0 || end > 0xFF {
				return nil, fmt.Errorf("end note %d for start note %d is out of range", end, start)
			}
			entries[key] = end
		}
		t[start] = entries
	}
	return t, nil
}

//go:embed data/fm.json data/ssg.json
var data embed.FS

var (
	defaultsOnce sync.Once
	defaultFM    Table
	defaultSSG   Table
)

func loadDefaults() {
	defaultFM = mustLoad("data/fm.json")
	defaultSSG = mustLoad("data/ssg.json")
}

func mustLoad(name string) Table {
	f, err := data.Open(name)
	if err != nil {
		panic(fmt.Sprintf("portamento: opening built-in table %s: %v", name, err))
	}
	defer f.Close()
	t, err := LoadTable(f)
	if err != nil {
		panic(fmt.Sprintf("portamento: built-in table %s: %v", name, err))
	}
	return t
}

// DefaultFM returns the built-in FM table. Changes grow with pitch, one
// octave being 617 units.
func DefaultFM() Table {
	defaultsOnce.Do(loadDefaults)
	return defaultFM
}

// DefaultSSG returns the built-in SSG table. The SSG works in tone periods,
// so rising pitch has negative changes.
func DefaultSSG() Table {
	defaultsOnce.Do(loadDefaults)
	return defaultSSG
}
