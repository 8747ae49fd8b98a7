package bits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddCarry(t *testing.T) {
	a := FromUint64(Unsigned(2), 1)
	b := FromUint64(Unsigned(2), 2)
	rt := AddResult(a.Type, b.Type, true)
	if rt.Width != 3 {
		t.Fatalf("adder width = %d, want 3", rt.Width)
	}
	sum := Add(rt, a, b)
	if sum.Uint64() != 3 {
		t.Errorf("1+2 = %s", sum)
	}
	sum = Add(rt, FromUint64(Unsigned(2), 3), FromUint64(Unsigned(2), 3))
	if sum.Uint64() != 6 {
		t.Errorf("3+3 = %s, want 6", sum)
	}
	if got := Add(Unsigned(2), FromUint64(Unsigned(2), 3), FromUint64(Unsigned(2), 3)); got.Uint64() != 2 {
		t.Errorf("3+3 without carry = %s, want 2", got)
	}
}

func TestSigned(t *testing.T) {
	s4 := Signed(4)
	m3 := FromInt64(s4, -3)
	if m3.Uint64() != 0xd {
		t.Fatalf("-3 as s4 raw = %#x", m3.Uint64())
	}
	if m3.Int64() != -3 {
		t.Errorf("Int64 = %d", m3.Int64())
	}
	if got := m3.String(); got != "-4'sd3" {
		t.Errorf("String = %q", got)
	}
	if !Lt(m3, FromInt64(s4, 2)) {
		t.Errorf("-3 < 2 should hold for signed operands")
	}
	if Lt(m3.As(false), FromUint64(Unsigned(4), 2)) {
		t.Errorf("13 < 2 should not hold for unsigned operands")
	}
	if got := Shr(m3, 1).Int64(); got != -2 {
		t.Errorf("-3 >>> 1 = %d, want -2", got)
	}
	if got := Shr(m3.As(false), 1).Uint64(); got != 6 {
		t.Errorf("13 >> 1 = %d, want 6", got)
	}
	if got := Shr(m3, 9).Int64(); got != -1 {
		t.Errorf("oversized arithmetic shift = %d, want -1", got)
	}
	if got := m3.Resize(Signed(8)).Int64(); got != -3 {
		t.Errorf("sign extension = %d", got)
	}
	if got := m3.Resize(Unsigned(8)).Uint64(); got != 0xfd {
		t.Errorf("resize to u8 = %#x", got)
	}
}

func TestSliceConcatSplice(t *testing.T) {
	v := FromUint64(U8, 0xa5)
	if got := v.Slice(4, 8).Uint64(); got != 0xa {
		t.Errorf("slice [4,8) = %#x", got)
	}
	c := Concat(FromUint64(Unsigned(4), 0x3), FromUint64(U8, 0xc4))
	if c.Type.Width != 12 || c.Uint64() != 0x3c4 {
		t.Errorf("concat = %s", c)
	}
	if got := v.Splice(0, FromUint64(Unsigned(4), 0)).Uint64(); got != 0xa0 {
		t.Errorf("splice = %#x", got)
	}
	if !Parity(FromUint64(U8, 0x07)) || Parity(v) {
		t.Errorf("parity wrong")
	}
	if !All(Ones(Unsigned(5))) || All(v) || !Any(v) {
		t.Errorf("reductions wrong")
	}
}

func TestWideArithmetic(t *testing.T) {
	w := Unsigned(130)
	x := Shl(FromUint64(w, 1), 129)
	if !x.Bit(129) || x.Bit(128) {
		t.Fatalf("bit 129 not set: %s", x.Bin())
	}
	y := Add(w, x, x)
	if !y.IsZero() {
		t.Errorf("2^129 + 2^129 should wrap to zero in 130 bits, got %s", y)
	}
	p := Mul(MulResult(U64, U64), Ones(U64), Ones(U64))
	if p.Type.Width != 128 || !p.Bit(127) || p.Bit(64) {
		t.Errorf("64x64 multiply wrong: %s", p.Bin())
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		typ  Type
		in   string
		want string
	}{
		{U8, "5", "8'd5"},
		{U8, "0xff", "8'd255"},
		{U8, "0x00ff", "8'd255"},
		{U8, "0x0", "8'd0"},
		{Unsigned(4), "0b1010", "4'd10"},
		{Signed(4), "-3", "-4'sd3"},
		{U8, "300", "8'd44"},
		{U16, "1_000", "16'd1000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := Parse(tt.typ, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("Parse(%s, %q) = %s, want %s", tt.typ, tt.in, got, tt.want)
			}
		})
	}
	for _, bad := range []string{"", "0b12", "abc"} {
		if _, err := Parse(U8, bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestText(t *testing.T) {
	in := []Value{FromInt64(Signed(4), -3), FromUint64(U8, 200), FromBool(true)}
	var out []Value
	for _, v := range in {
		b, err := v.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back Value
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		out = append(out, back)
	}
	if diff := cmp.Diff(in, out, cmp.Comparer(func(a, b Value) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("text round trip (-want +got):\n%s", diff)
	}
	if _, err := ParseType("u0"); err == nil {
		t.Errorf("u0 should be rejected")
	}
}

func TestAddrWidth(t *testing.T) {
	for depth, want := range map[int]int{1: 1, 2: 1, 3: 2, 4: 2, 5: 3, 256: 8, 257: 9} {
		if got := AddrWidth(depth); got != want {
			t.Errorf("AddrWidth(%d) = %d, want %d", depth, got, want)
		}
	}
}
