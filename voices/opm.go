package voices

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	"github.com/pkg/errors"
)

const opmHeader = "//@:[Number] [Name...]\n" +
	"//LFO: LFRQ AMD PMD WF NFRQ\n" +
	"//CH: PAN FL ALG AMS PMS SLOT N-EN\n" +
	"//_#: AR DR SR RR SL TL KS MUL DT1 DT2 AMS-EN\n\n"

const unusedWarning = "// NOTE: The instruments in this file were not used in the files they were ripped from.\n" +
	"// They may sound very strange, or contain garbage and/or out-of-range values.\n" +
	"// It is very possible that importing this file might fail.\n" +
	"// Please use these instruments at your own discretion.\n\n"

// Column widths of an OPM operator line.
var opmColumns = [11]int{2, 2, 2, 2, 2, 3, 1, 2, 1, 1, 1}

var opmOperators = [4]string{"M1: ", "C1: ", "M2: ", "C2: "}

func joinInts(sep string, vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

func opmPan(pan int) int {
	switch pan {
	case 3:
		return 64
	case 2:
		return 192
	case 1:
		return 128
	}
	return 0
}

// OPM renders the voice as a VOPM voice definition named by its labels.
func (v *Voice) OPM(labels map[string]string) string {
	ch := v.Params[0]
	lfo := []int{ch[mdt.ChanSpeed], ch[mdt.ChanAMD], ch[mdt.ChanPMD], ch[mdt.ChanWave], ch[mdt.ChanNoise]}
	// LFO sync has no OPM equivalent. Noise enable is left off.
	chRow := []int{
		opmPan(ch[mdt.ChanPan]),
		ch[mdt.ChanAlgFB] >> 3,
		ch[mdt.ChanAlgFB] % 8,
		ch[mdt.ChanAMS],
		ch[mdt.ChanPMS],
		ch[mdt.ChanSlot] << 3,
		0,
	}

	ops := make([]string, len(opmOperators))
	for i, prefix := range opmOperators {
		cells := make([]string, len(opmColumns))
		for j, w := range opmColumns {
			cells[j] = fmt.Sprintf("%*d", w, v.Params[i+1][j])
		}
		ops[i] = prefix + strings.Join(cells, " ")
	}

	return fmt.Sprintf("@:%d @%d %s\nLFO: %s\nCH: %s\n%s\n\n",
		v.Number, v.Number, v.Label(labels),
		joinInts(" ", lfo),
		joinInts(" ", chRow),
		strings.Join(ops, "\n"))
}

// WriteOPM writes a VOPM voice bank. unused puts a warning ahead of the
// header that the voices were never played by the songs they came from.
func WriteOPM(w io.Writer, voices []*Voice, labels map[string]string, unused bool) error {
	if labels == nil {
		labels = TrackLabels
	}
	var sb strings.Builder
	if unused {
		sb.WriteString(unusedWarning)
	}
	sb.WriteString(opmHeader)
	for _, v := range voices {
		sb.WriteString(v.OPM(labels))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.Wrap(err, "writing OPM bank")
	}
	return nil
}
