package mdt

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	FMVoiceSize     = 32
	SSGEnvelopeSize = 6
)

// Columns of the channel row (row 0) of an FMVoice.
const (
	ChanAlgFB  = iota // algorithm in the low 3 bits, feedback above
	ChanSlot          // operator mask
	ChanWave          // LFO waveform
	ChanSync          // LFO sync
	ChanSpeed         // LFO speed
	ChanPMD           // pitch modulation depth
	ChanAMD           // amplitude modulation depth
	ChanPMS           // pitch modulation sensitivity
	ChanAMS           // amplitude modulation sensitivity
	ChanPan           // output select
	ChanNoise         // noise frequency
)

// Columns of the operator rows (rows 1-4) of an FMVoice.
const (
	OpAR  = iota // attack rate
	OpDR         // decay rate
	OpSR         // sustain rate
	OpRR         // release rate
	OpSL         // sustain level
	OpTL         // total level
	OpKS         // key scale
	OpMUL        // multiplier
	OpDT1        // detune 1
	OpDT2        // detune 2
	OpAMSEn      // amplitude modulation enable
)

// FMVoice is an unpacked 32-byte FM instrument block. Params[0] is the
// channel row and Params[1:] are the four operators in canonical order.
type FMVoice struct {
	Params [5][11]int
	Raw    [FMVoiceSize]byte // Byte 31 is only kept here.
	Used   bool              // A note was played with this voice selected.
}

// operator i of the canonical order is stored at file column operatorOrder[i].
var operatorOrder = [4]int{0, 2, 1, 3}

// DecodeFMVoice unpacks a 32-byte FM block.
func DecodeFMVoice(b []byte) (FMVoice, error) {
	var v FMVoice
	if len(b) != FMVoiceSize {
		return v, fmt.Errorf("FM voice block is %d bytes, expected %d: %w", len(b), FMVoiceSize, ErrTruncated)
	}
	copy(v.Raw[:], b)
	p := func(i int) int { return int(b[i]) }

	row := &v.Params[0]
	row[ChanSync] = p(0) % 0x40
	row[ChanNoise] = p(0) >> 6
	row[ChanSpeed] = p(1)
	row[ChanAMD] = p(2)
	row[ChanWave] = p(3) % 8
	row[ChanSlot] = p(3) >> 3
	row[ChanAlgFB] = p(4) % 0x40
	row[ChanPan] = p(4) >> 6
	row[ChanAMS] = p(5) % 0x10
	row[ChanPMS] = p(5) >> 4
	// The top bit of the PMD byte is the AMD/PMD select flag and is dropped.
	row[ChanPMD] = p(30) % 0x80

	for i, j := range operatorOrder {
		op := &v.Params[i+1]
		dt := p(j + 6)
		op[OpMUL] = dt % 0x10
		// Negative detunes are stored as 0x80|magnitude; map them to 4-7.
		if dt >= 0x80 {
			dt = 0x140 - dt
		}
		op[OpDT1] = dt >> 4
		op[OpTL] = p(j + 10)
		op[OpAR] = p(j+14) % 0x40
		op[OpKS] = p(j+14) >> 6
		op[OpDR] = p(j+18) % 0x80
		op[OpAMSEn] = p(j+18) >> 7
		op[OpSR] = p(j+22) % 0x40
		op[OpDT2] = p(j+22) >> 6
		op[OpRR] = p(j+26) % 0x10
		op[OpSL] = p(j+26) >> 4
	}
	return v, nil
}

// Equal reports whether two voices have the same unpacked parameters.
// Raw bytes and usage are not compared.
func (v FMVoice) Equal(o FMVoice) bool {
	return v.Params == o.Params
}

// Rows renders each parameter row as comma separated numbers.
func (v FMVoice) Rows() []string {
	rows := make([]string, len(v.Params))
	for i, r := range v.Params {
		cells := make([]string, len(r))
		for j, n := range r {
			cells[j] = strconv.Itoa(n)
		}
		rows[i] = strings.Join(cells, ",")
	}
	return rows
}

// SSGEnvelope is a 6-byte software envelope for the SSG channels.
type SSGEnvelope struct {
	Params [SSGEnvelopeSize]int
}

// DecodeSSGEnvelope reads a 6-byte SSG envelope block.
func DecodeSSGEnvelope(b []byte) (SSGEnvelope, error) {
	var e SSGEnvelope
	if len(b) != SSGEnvelopeSize {
		return e, fmt.Errorf("SSG envelope block is %d bytes, expected %d: %w", len(b), SSGEnvelopeSize, ErrTruncated)
	}
	for i, c := range b {
		e.Params[i] = int(c)
	}
	return e, nil
}
