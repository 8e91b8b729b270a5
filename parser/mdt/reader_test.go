package mdt

import (
	"errors"
	"testing"
)

func TestReader(t *testing.T) {
	r := NewReader([]byte{0x34, 0x12, 0xFE, 0xFF, 0x80, 1, 2, 3})
	if v, err := r.U16(); err != nil || v != 0x1234 {
		t.Fatalf("U16 = %#x, %v", v, err)
	}
	if v, err := r.S16(); err != nil || v != -2 {
		t.Fatalf("S16 = %d, %v", v, err)
	}
	if v, err := r.S8(); err != nil || v != -128 {
		t.Fatalf("S8 = %d, %v", v, err)
	}
	if r.Tell() != 5 {
		t.Fatalf("Tell = %d, want 5", r.Tell())
	}
	p, err := r.Params(3)
	if err != nil || len(p) != 3 || p[0] != 1 || p[2] != 3 {
		t.Fatalf("Params = %v, %v", p, err)
	}
	if _, err := r.U8(); !errors.Is(err, ErrTruncated) {
		t.Errorf("U8 at end: %v, want ErrTruncated", err)
	}

	if err := r.Seek(7); err != nil {
		t.Fatal(err)
	}
	if _, err := r.U16(); !errors.Is(err, ErrTruncated) {
		t.Errorf("U16 across end: %v, want ErrTruncated", err)
	}
	if r.Tell() != 7 {
		t.Errorf("failed read moved the cursor to %d", r.Tell())
	}
	if err := r.Seek(9); !errors.Is(err, ErrTruncated) {
		t.Errorf("Seek past end: %v, want ErrTruncated", err)
	}
	if err := r.Seek(8); err != nil {
		t.Errorf("Seek to end: %v", err)
	}
}

func TestOperandWidth(t *testing.T) {
	cases := []struct {
		op    int
		role  Role
		width int
	}{
		{0x00, RoleFM, 1},
		{0x7F, RoleSSG, 1},
		{opVolume, RoleFM, 1},
		{opVolume, RoleRhythm, widthVariable},
		{opPan, RoleSSG, 1},
		{opPan, RoleRhythm, 2},
		{opPortamento, RoleFM, 4},
		{opBlockStart, RoleFM, 3},
		{opMacro, RoleRhythm, 2},
		{opTie, RoleFM, 0},
	}
	for _, c := range cases {
		w, ok := operandWidth(c.op, c.role)
		if !ok || w != c.width {
			t.Errorf("operandWidth(0x%02X, %v) = %d, %v; want %d", c.op, c.role, w, ok, c.width)
		}
	}
	for _, op := range []int{0x80, 0x8F, 0x92, 0xDF, 0xFE} {
		if _, ok := operandWidth(op, RoleFM); ok {
			t.Errorf("opcode 0x%02X should be unknown", op)
		}
	}
}
