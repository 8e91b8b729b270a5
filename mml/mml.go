// Package mml writes decoded songs as MD2 source text for the MDRV2 compiler.
package mml

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/QEStudios/MDTDecompiler/parser/mdt"
	"github.com/QEStudios/MDTDecompiler/playback"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/japanese"
)

const newline = "\r\n"

// End of file marker expected after the last line.
const eof = "\x1A"

// tokenWriter writes each event it is given followed by a space.
type tokenWriter struct {
	playback.NopVisitor
	sb *strings.Builder
}

func (w tokenWriter) Token(ev mdt.Event) {
	w.sb.WriteString(ev.String())
	w.sb.WriteByte(' ')
}

// Render returns the MD2 text of song. ADPCM channels are left out.
func Render(song *mdt.Song) (string, error) {
	var sb strings.Builder
	opts := playback.DefaultOptions()
	opts.Linear = true
	engine := playback.NewEngine(song.Macros, tokenWriter{sb: &sb}, opts)

	fmt.Fprintf(&sb, "T=%s$%s%s", song.Title, newline, newline)
	fmt.Fprintf(&sb, "A\t%s X1 OC0%s", song.Chip, newline)

	for _, ch := range song.Channels {
		if ch.Role == mdt.RoleADPCM {
			continue
		}
		label, err := ch.Label()
		if err != nil {
			return "", err
		}
		sb.WriteString(label + "\t")
		if _, _, err := engine.Run(ch, playback.NewState()); err != nil {
			return "", err
		}
		sb.WriteString(newline)
	}
	if len(song.Macros) > 0 {
		sb.WriteString(newline)
	}
	for _, m := range song.Macros {
		fmt.Fprintf(&sb, "#%d\t$%s ", m.MacroID, m.Role.MacroTag())
		if _, _, err := engine.Run(m, playback.NewState()); err != nil {
			return "", err
		}
		sb.WriteString(newline)
	}
	sb.WriteString(newline + newline)

	for i, v := range song.FM {
		n := fmt.Sprint(i)
		indent := strings.Repeat(" ", 4+len(n))
		sb.WriteString("@" + n + " = ")
		sb.WriteString(strings.Join(v.Rows(), ","+newline+indent))
		sb.WriteString("," + newline)
	}
	sb.WriteString(newline)

	for i, e := range song.SSG {
		parts := make([]string, len(e.Params))
		for j, p := range e.Params {
			parts[j] = fmt.Sprint(p)
		}
		fmt.Fprintf(&sb, "P%d = %s%s", i, strings.Join(parts, ", "), newline)
	}
	sb.WriteString(newline + eof)
	return sb.String(), nil
}

// Write renders song and writes it to w as Shift-JIS.
func Write(w io.Writer, song *mdt.Song) error {
	text, err := Render(song)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", song.Filename, err)
	}
	if _, err := w.Write(EncodeShiftJIS(text)); err != nil {
		return errors.Wrapf(err, "writing MD2 text for %s", song.Filename)
	}
	return nil
}

// EncodeShiftJIS encodes s as Shift-JIS, dropping characters it cannot represent.
func EncodeShiftJIS(s string) []byte {
	enc := japanese.ShiftJIS.NewEncoder()
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		b, err := enc.Bytes([]byte(string(r)))
		if err != nil {
			continue
		}
		out = append(out, b...)
	}
	return out
}
