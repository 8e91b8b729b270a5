package mdt

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"testing"
)

type testChannel struct {
	id    int
	block int
}

// mdtBuilder assembles MDT files for tests. Blocks are command streams laid
// out one after another after the header; channels point at blocks.
type mdtBuilder struct {
	chip     int
	channels []testChannel
	blocks   [][]byte
	title    []byte
	fm       [][]byte
	ssg      [][]byte
}

func newBuilder() *mdtBuilder {
	return &mdtBuilder{chip: int(ChipOPN), title: []byte("test")}
}

// channel adds a channel playing a new block and returns the block index.
func (b *mdtBuilder) channel(id int, body ...byte) int {
	idx := b.block(body...)
	b.channels = append(b.channels, testChannel{id: id, block: idx})
	return idx
}

// block adds a command stream no channel points at, such as a macro body.
func (b *mdtBuilder) block(body ...byte) int {
	b.blocks = append(b.blocks, body)
	return len(b.blocks) - 1
}

func (b *mdtBuilder) headerSize() int {
	return 2 + 2 + 2 + 4*len(b.channels) + 6
}

// offsetOf returns the absolute offset of block i. It depends only on the
// lengths of earlier blocks and the number of channels.
func (b *mdtBuilder) offsetOf(i int) int {
	off := b.headerSize()
	for _, blk := range b.blocks[:i] {
		off += len(blk)
	}
	return off
}

// patchU16 overwrites two bytes of block i at pos.
func (b *mdtBuilder) patchU16(i, pos, v int) {
	binary.LittleEndian.PutUint16(b.blocks[i][pos:], uint16(v))
}

func (b *mdtBuilder) bytes() []byte {
	var buf bytes.Buffer
	u16 := func(v int) {
		binary.Write(&buf, binary.LittleEndian, uint16(v))
	}

	buf.Write([]byte{0x02, 0x03})
	u16(len(b.channels))
	u16(b.chip)
	for _, ch := range b.channels {
		u16(b.offsetOf(ch.block))
		u16(ch.id)
	}

	titleOffset := b.offsetOf(len(b.blocks))
	fmOffset := titleOffset + len(b.title) + 1
	ssgOffset := fmOffset
	for _, v := range b.fm {
		ssgOffset += len(v)
	}
	u16(fmOffset)
	u16(ssgOffset)
	u16(titleOffset)

	for _, blk := range b.blocks {
		buf.Write(blk)
	}
	buf.Write(b.title)
	buf.WriteByte('$')
	for _, v := range b.fm {
		buf.Write(v)
	}
	for _, e := range b.ssg {
		buf.Write(e)
	}
	return buf.Bytes()
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func decodeBytes(t *testing.T, data []byte, opts Options) *Song {
	t.Helper()
	song, err := Decode(data, "TEST.MDT", opts, quietLogger())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return song
}

func tokens(ch *Channel) []string {
	out := make([]string, len(ch.Events))
	for i, ev := range ch.Events {
		out[i] = ev.String()
	}
	return out
}

func le16(v int) (byte, byte) {
	return byte(uint16(v)), byte(uint16(v) >> 8)
}
